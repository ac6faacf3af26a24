// Package playstore adapts Google's billing-client model: product and
// purchase queries are scoped to the call that made them, while completed
// purchase flows land on a process-wide purchases-updated listener. The
// platform refunds any purchase that is not acknowledged within its grace
// window, so acknowledgment here is real work, not a formality.
package playstore

import "context"

// Billing response codes, matching the native client's constants.
const (
	CodeOK                  = 0
	CodeUserCanceled        = 1
	CodeServiceUnavailable  = 2
	CodeBillingUnavailable  = 3
	CodeItemUnavailable     = 4
	CodeDeveloperError      = 5
	CodeError               = 6
	CodeItemAlreadyOwned    = 7
	CodeItemNotOwned        = 8
	CodeNetworkError        = 12
	CodeServiceDisconnected = -1
	CodeFeatureNotSupported = -2
)

// Purchase states, matching the native client's constants.
const (
	PurchaseStateUnspecified = 0
	PurchaseStatePurchased   = 1
	PurchaseStatePending     = 2
)

// BillingResult is the status every billing-client call reports.
type BillingResult struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

// ProductDetails is the native product metadata shape. BillingPeriod is an
// ISO-8601 duration such as "P1M" or "P7D".
type ProductDetails struct {
	ProductID         string `json:"productId"`
	Title             string `json:"title"`
	Description       string `json:"description"`
	FormattedPrice    string `json:"formattedPrice"`
	PriceAmountMicros int64  `json:"priceAmountMicros"`
	CurrencyCode      string `json:"currencyCode"`
	Type              string `json:"type"` // "inapp" or "subs"
	BillingPeriod     string `json:"billingPeriod,omitempty"`
}

// Purchase is one native purchase as reported by the billing client. The
// purchase token is the opaque credential both for acknowledgment and for
// server-side verification; the platform never exposes expiry here.
type Purchase struct {
	ProductID     string `json:"productId"`
	OrderID       string `json:"orderId"`
	PurchaseToken string `json:"purchaseToken"`
	PurchaseTime  int64  `json:"purchaseTime"`
	PurchaseState int    `json:"purchaseState"`
	Acknowledged  bool   `json:"acknowledged"`
	AutoRenewing  bool   `json:"autoRenewing"`
}

// PurchasesUpdatedListener receives the process-wide purchase flow outcomes.
type PurchasesUpdatedListener interface {
	PurchasesUpdated(result BillingResult, purchases []Purchase)
}

// BillingClient is the native capability set the adapter drives. The live
// implementation marshals over the host bridge; tests swap in a fake.
type BillingClient interface {
	SetListener(l PurchasesUpdatedListener)
	QueryProductDetails(ctx context.Context, ids []string) ([]ProductDetails, BillingResult, error)
	LaunchBillingFlow(ctx context.Context, productID string) (BillingResult, error)
	QueryPurchases(ctx context.Context) ([]Purchase, BillingResult, error)
	Acknowledge(ctx context.Context, purchaseToken string) (BillingResult, error)
}
