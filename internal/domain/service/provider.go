package service

import (
	"context"
	"time"

	"github.com/bivex/purchasekit/internal/domain/entity"
)

// ProviderEvent is an asynchronous event emitted by a platform billing
// provider. Events arrive out-of-band: they may answer an in-flight request,
// or be unsolicited (renewals, background restores, another device's
// purchases replayed by the platform).
type ProviderEvent interface {
	providerEvent()
}

// ProductsEvent answers a product metadata query. Products unknown to the
// store are silently omitted, so Products may be a strict subset of Requested.
type ProductsEvent struct {
	Requested []string
	Products  []entity.Product
	Err       error
}

// PurchaseEvent reports a transaction state change. Reason is set only when
// the record is in StateFailed.
type PurchaseEvent struct {
	Record entity.PurchaseRecord
	Reason string
}

// RestoreEvent answers a query for the currently valid purchases known to the
// platform. It serves both explicit restores and startup reconciliation.
type RestoreEvent struct {
	Records []entity.PurchaseRecord
	Err     error
}

func (ProductsEvent) providerEvent() {}
func (PurchaseEvent) providerEvent() {}
func (RestoreEvent) providerEvent()  {}

// ProviderAdapter wraps one native billing capability set. Query and purchase
// operations return synchronously only for failures that need no native round
// trip; real outcomes arrive later on the Events channel.
type ProviderAdapter interface {
	// Platform identifies the provider ("appstore" or "playstore").
	Platform() string

	// RequiresAcknowledgment reports whether the platform refunds purchases
	// that are never explicitly acknowledged by the client.
	RequiresAcknowledgment() bool

	// QueryProducts requests store metadata for the given non-empty id set.
	// The response arrives as a ProductsEvent.
	QueryProducts(ctx context.Context, ids []string) error

	// LaunchPurchase presents the platform purchase UI for a previously
	// fetched product. Fails synchronously with ErrProductNotFound when the
	// product was never fetched and with ErrPurchasesDisabled when the
	// platform restricts purchases; otherwise the outcome arrives as one or
	// more PurchaseEvents.
	LaunchPurchase(ctx context.Context, productID string) error

	// QueryExistingPurchases requests the currently valid purchases. The
	// response arrives as a RestoreEvent.
	QueryExistingPurchases(ctx context.Context) error

	// Acknowledge finalizes a purchase with the platform. Idempotent, and an
	// immediate no-op success on providers that auto-finalize.
	Acknowledge(ctx context.Context, rec entity.PurchaseRecord) error

	// Events is the provider's asynchronous event stream.
	Events() <-chan ProviderEvent
}

// Entitlement is the validated result of a receipt or purchase-token check.
type Entitlement struct {
	Valid     bool
	ExpiresAt time.Time
	AutoRenew *bool
	InTrial   *bool
	InGrace   *bool
}

// ReceiptVerifier is the external collaborator that turns an opaque receipt
// or purchase token into a validated entitlement with a real expiry. Expiry
// is never derived any other way.
type ReceiptVerifier interface {
	Verify(ctx context.Context, receipt string) (*Entitlement, error)
}
