package bridge

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/bivex/purchasekit/internal/infrastructure/external/playstore"
)

// Native methods and events spoken with a Play Billing host.
const (
	methodQueryProductDetails = "billing.queryProductDetails"
	methodLaunchBillingFlow   = "billing.launchBillingFlow"
	methodQueryPurchases      = "billing.queryPurchases"
	methodAcknowledge         = "billing.acknowledgePurchase"

	eventPurchasesUpdated = "billing.purchasesUpdated"
)

// BillingClient implements playstore.BillingClient over the host session.
type BillingClient struct {
	session *Session
	log     *zap.Logger
}

var _ playstore.BillingClient = (*BillingClient)(nil)

func NewBillingClient(session *Session, log *zap.Logger) *BillingClient {
	if log == nil {
		log = zap.NewNop()
	}
	return &BillingClient{session: session, log: log.With(zap.String("component", "bridge_billing_client"))}
}

// SetListener wires the host's purchases-updated callbacks to the listener.
func (c *BillingClient) SetListener(l playstore.PurchasesUpdatedListener) {
	c.session.Handle(eventPurchasesUpdated, func(payload json.RawMessage) {
		var body struct {
			Result    playstore.BillingResult `json:"result"`
			Purchases []playstore.Purchase    `json:"purchases"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			c.log.Warn("bad purchasesUpdated payload", zap.Error(err))
			return
		}
		l.PurchasesUpdated(body.Result, body.Purchases)
	})
}

func (c *BillingClient) QueryProductDetails(ctx context.Context, ids []string) ([]playstore.ProductDetails, playstore.BillingResult, error) {
	params := map[string][]string{"productIds": ids}
	var reply struct {
		Result   playstore.BillingResult    `json:"result"`
		Products []playstore.ProductDetails `json:"products"`
	}
	if err := c.session.Call(ctx, methodQueryProductDetails, params, &reply); err != nil {
		return nil, playstore.BillingResult{}, err
	}
	return reply.Products, reply.Result, nil
}

func (c *BillingClient) LaunchBillingFlow(ctx context.Context, productID string) (playstore.BillingResult, error) {
	var reply struct {
		Result playstore.BillingResult `json:"result"`
	}
	err := c.session.Call(ctx, methodLaunchBillingFlow, map[string]string{"productId": productID}, &reply)
	return reply.Result, err
}

func (c *BillingClient) QueryPurchases(ctx context.Context) ([]playstore.Purchase, playstore.BillingResult, error) {
	var reply struct {
		Result    playstore.BillingResult `json:"result"`
		Purchases []playstore.Purchase    `json:"purchases"`
	}
	if err := c.session.Call(ctx, methodQueryPurchases, nil, &reply); err != nil {
		return nil, playstore.BillingResult{}, err
	}
	return reply.Purchases, reply.Result, nil
}

func (c *BillingClient) Acknowledge(ctx context.Context, purchaseToken string) (playstore.BillingResult, error) {
	var reply struct {
		Result playstore.BillingResult `json:"result"`
	}
	err := c.session.Call(ctx, methodAcknowledge, map[string]string{"purchaseToken": purchaseToken}, &reply)
	return reply.Result, err
}
