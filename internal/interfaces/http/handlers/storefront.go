package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/bivex/purchasekit/internal/domain/entity"
	domainerrors "github.com/bivex/purchasekit/internal/domain/errors"
	"github.com/bivex/purchasekit/internal/infrastructure/logging"
	"github.com/bivex/purchasekit/internal/interfaces/http/response"
)

// Storefront is the slice of the unified purchase API these handlers expose.
type Storefront interface {
	GetProducts(ctx context.Context, ids []string) ([]entity.Product, error)
	PurchaseProduct(ctx context.Context, productID string) (entity.PurchaseResult, error)
	RestorePurchases(ctx context.Context) ([]entity.PurchaseResult, error)
	GetSubscriptionStatus(productID string) entity.SubscriptionStatus
}

// StorefrontHandler binds the four public operations to HTTP for the host
// application.
type StorefrontHandler struct {
	storefront Storefront
}

func NewStorefrontHandler(storefront Storefront) *StorefrontHandler {
	return &StorefrontHandler{storefront: storefront}
}

// GetProducts handles GET /v1/products?ids=a,b,c
func (h *StorefrontHandler) GetProducts(c *gin.Context) {
	raw := c.Query("ids")
	if raw == "" {
		response.BadRequest(c, "ids query parameter is required")
		return
	}
	ids := strings.Split(raw, ",")

	products, err := h.storefront.GetProducts(c.Request.Context(), ids)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	response.OK(c, products)
}

// PurchaseProduct handles POST /v1/purchases. It blocks for as long as the
// user keeps the platform purchase sheet open.
func (h *StorefrontHandler) PurchaseProduct(c *gin.Context) {
	var req struct {
		ProductID string `json:"productId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	result, err := h.storefront.PurchaseProduct(c.Request.Context(), req.ProductID)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	response.OK(c, result)
}

// RestorePurchases handles POST /v1/purchases/restore
func (h *StorefrontHandler) RestorePurchases(c *gin.Context) {
	results, err := h.storefront.RestorePurchases(c.Request.Context())
	if err != nil {
		writeDomainError(c, err)
		return
	}
	response.OK(c, results)
}

// GetSubscriptionStatus handles GET /v1/subscriptions/:productId. It never
// fails: an unknown product is simply inactive.
func (h *StorefrontHandler) GetSubscriptionStatus(c *gin.Context) {
	status := h.storefront.GetSubscriptionStatus(c.Param("productId"))
	response.OK(c, status)
}

func writeDomainError(c *gin.Context, err error) {
	var purchaseFailed *domainerrors.PurchaseFailedError
	switch {
	case errors.Is(err, domainerrors.ErrProductNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, domainerrors.ErrPurchasesDisabled):
		response.Forbidden(c, err.Error())
	case errors.As(err, &purchaseFailed):
		response.UnprocessableEntity(c, "purchase_failed", purchaseFailed.Error())
	case errors.Is(err, domainerrors.ErrStoreUnavailable),
		errors.Is(err, domainerrors.ErrProviderUnavailable),
		errors.Is(err, domainerrors.ErrNetworkFailure):
		response.ServiceUnavailable(c, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		response.Error(c, 499, "client_closed_request", err.Error())
	default:
		logging.ReportError("unclassified storefront error", err)
		response.Error(c, 500, "internal_error", err.Error())
	}
}
