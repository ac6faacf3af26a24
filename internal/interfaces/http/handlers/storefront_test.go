package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bivex/purchasekit/internal/domain/entity"
	domainerrors "github.com/bivex/purchasekit/internal/domain/errors"
)

type fakeStorefront struct {
	products    []entity.Product
	productsErr error
	result      entity.PurchaseResult
	purchaseErr error
	restored    []entity.PurchaseResult
	restoreErr  error
	status      entity.SubscriptionStatus

	gotIDs       []string
	gotProductID string
}

func (f *fakeStorefront) GetProducts(ctx context.Context, ids []string) ([]entity.Product, error) {
	f.gotIDs = ids
	return f.products, f.productsErr
}

func (f *fakeStorefront) PurchaseProduct(ctx context.Context, productID string) (entity.PurchaseResult, error) {
	f.gotProductID = productID
	return f.result, f.purchaseErr
}

func (f *fakeStorefront) RestorePurchases(ctx context.Context) ([]entity.PurchaseResult, error) {
	return f.restored, f.restoreErr
}

func (f *fakeStorefront) GetSubscriptionStatus(productID string) entity.SubscriptionStatus {
	f.gotProductID = productID
	return f.status
}

func setupRouter(storefront Storefront) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	h := NewStorefrontHandler(storefront)
	v1 := router.Group("/v1")
	{
		v1.GET("/products", h.GetProducts)
		v1.POST("/purchases", h.PurchaseProduct)
		v1.POST("/purchases/restore", h.RestorePurchases)
		v1.GET("/subscriptions/:productId", h.GetSubscriptionStatus)
	}
	return router
}

func doRequest(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestGetProductsHandler(t *testing.T) {
	fake := &fakeStorefront{products: []entity.Product{{ID: "sub.monthly", Title: "Monthly"}}}
	router := setupRouter(fake)

	w := doRequest(router, http.MethodGet, "/v1/products?ids=sub.monthly,sub.yearly", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"sub.monthly", "sub.yearly"}, fake.gotIDs)

	var resp struct {
		Data []entity.Product `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "sub.monthly", resp.Data[0].ID)
}

func TestGetProductsRequiresIDs(t *testing.T) {
	router := setupRouter(&fakeStorefront{})
	w := doRequest(router, http.MethodGet, "/v1/products", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPurchaseProductHandler(t *testing.T) {
	expiry := int64(1702592000000)
	fake := &fakeStorefront{result: entity.PurchaseResult{
		ProductID:              "sub.monthly",
		TransactionID:          "T1",
		PurchaseTime:           1700000000000,
		IsAcknowledged:         true,
		SubscriptionExpiryTime: &expiry,
	}}
	router := setupRouter(fake)

	w := doRequest(router, http.MethodPost, "/v1/purchases", `{"productId":"sub.monthly"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "sub.monthly", fake.gotProductID)

	var resp struct {
		Data entity.PurchaseResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "T1", resp.Data.TransactionID)
	assert.True(t, resp.Data.IsAcknowledged)
	require.NotNil(t, resp.Data.SubscriptionExpiryTime)
	assert.Equal(t, expiry, *resp.Data.SubscriptionExpiryTime)
}

func TestPurchaseProductRejectsBadBody(t *testing.T) {
	router := setupRouter(&fakeStorefront{})

	w := doRequest(router, http.MethodPost, "/v1/purchases", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(router, http.MethodPost, "/v1/purchases", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDomainErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{
			name:     "unknown product",
			err:      domainerrors.ErrProductNotFound,
			wantCode: http.StatusNotFound,
			wantErr:  "not_found",
		},
		{
			name:     "purchases disabled",
			err:      domainerrors.ErrPurchasesDisabled,
			wantCode: http.StatusForbidden,
			wantErr:  "forbidden",
		},
		{
			name:     "purchase failed",
			err:      &domainerrors.PurchaseFailedError{ProductID: "sub.monthly", Reason: "user canceled"},
			wantCode: http.StatusUnprocessableEntity,
			wantErr:  "purchase_failed",
		},
		{
			name:     "store unavailable",
			err:      domainerrors.ErrStoreUnavailable,
			wantCode: http.StatusServiceUnavailable,
			wantErr:  "service_unavailable",
		},
		{
			name:     "provider unavailable",
			err:      domainerrors.ErrProviderUnavailable,
			wantCode: http.StatusServiceUnavailable,
			wantErr:  "service_unavailable",
		},
		{
			name:     "caller gave up",
			err:      context.Canceled,
			wantCode: 499,
			wantErr:  "client_closed_request",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := setupRouter(&fakeStorefront{purchaseErr: tt.err})

			w := doRequest(router, http.MethodPost, "/v1/purchases", `{"productId":"sub.monthly"}`)
			require.Equal(t, tt.wantCode, w.Code)

			var resp struct {
				Error string `json:"error"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantErr, resp.Error)
		})
	}
}

func TestRestorePurchasesHandler(t *testing.T) {
	fake := &fakeStorefront{restored: []entity.PurchaseResult{
		{ProductID: "sub.monthly", TransactionID: "T1", IsAcknowledged: true},
		{ProductID: "sub.yearly", TransactionID: "T2", IsAcknowledged: true},
	}}
	router := setupRouter(fake)

	w := doRequest(router, http.MethodPost, "/v1/purchases/restore", "")

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data []entity.PurchaseResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Data, 2)
}

func TestGetSubscriptionStatusHandler(t *testing.T) {
	fake := &fakeStorefront{status: entity.SubscriptionStatus{
		ProductID: "sub.monthly",
		IsActive:  false,
	}}
	router := setupRouter(fake)

	w := doRequest(router, http.MethodGet, "/v1/subscriptions/sub.monthly", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "sub.monthly", fake.gotProductID)

	var resp struct {
		Data entity.SubscriptionStatus `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "sub.monthly", resp.Data.ProductID)
	assert.False(t, resp.Data.IsActive)
}
