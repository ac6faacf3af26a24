package playstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bivex/purchasekit/internal/domain/entity"
	domainerrors "github.com/bivex/purchasekit/internal/domain/errors"
	"github.com/bivex/purchasekit/internal/domain/service"
)

const eventBuffer = 16

// Adapter turns billing-client callbacks into the uniform provider event
// stream. PackageName goes into the receipt payload so the token verifier can
// call the Play Developer API without extra plumbing.
type Adapter struct {
	client      BillingClient
	packageName string
	log         *zap.Logger

	mu           sync.Mutex
	fetched      map[string]ProductDetails
	lastLaunched string

	events chan service.ProviderEvent
}

var _ service.ProviderAdapter = (*Adapter)(nil)

func NewAdapter(client BillingClient, packageName string, log *zap.Logger) *Adapter {
	if log == nil {
		log = zap.NewNop()
	}
	a := &Adapter{
		client:      client,
		packageName: packageName,
		log:         log.With(zap.String("component", "playstore_adapter")),
		fetched:     make(map[string]ProductDetails),
		events:      make(chan service.ProviderEvent, eventBuffer),
	}
	client.SetListener(a)
	return a
}

func (a *Adapter) Platform() string { return "playstore" }

// RequiresAcknowledgment is true: Play refunds unacknowledged purchases after
// its grace window.
func (a *Adapter) RequiresAcknowledgment() bool { return true }

func (a *Adapter) Events() <-chan service.ProviderEvent { return a.events }

// QueryProducts runs the call-scoped product details query and republishes
// the answer as a ProductsEvent.
func (a *Adapter) QueryProducts(ctx context.Context, ids []string) error {
	go func() {
		details, result, err := a.client.QueryProductDetails(ctx, ids)
		if err != nil {
			a.events <- service.ProductsEvent{
				Requested: ids,
				Err:       fmt.Errorf("%w: %v", domainerrors.ErrStoreUnavailable, err),
			}
			return
		}
		if result.Code != CodeOK {
			a.events <- service.ProductsEvent{Requested: ids, Err: billingError(result)}
			return
		}

		products := make([]entity.Product, 0, len(details))
		a.mu.Lock()
		for _, d := range details {
			a.fetched[d.ProductID] = d
			products = append(products, toProduct(d))
		}
		a.mu.Unlock()

		a.events <- service.ProductsEvent{Requested: ids, Products: products}
	}()
	return nil
}

// LaunchPurchase starts the billing flow for a previously fetched product.
// The flow result lands on the purchases-updated listener; only launch-time
// rejections surface here.
func (a *Adapter) LaunchPurchase(ctx context.Context, productID string) error {
	a.mu.Lock()
	_, known := a.fetched[productID]
	a.mu.Unlock()
	if !known {
		return fmt.Errorf("%w: %q was never fetched", domainerrors.ErrProductNotFound, productID)
	}

	result, err := a.client.LaunchBillingFlow(ctx, productID)
	if err != nil {
		return fmt.Errorf("%w: %v", domainerrors.ErrStoreUnavailable, err)
	}
	if result.Code != CodeOK {
		return billingError(result)
	}

	a.mu.Lock()
	a.lastLaunched = productID
	a.mu.Unlock()
	return nil
}

func (a *Adapter) QueryExistingPurchases(ctx context.Context) error {
	go func() {
		purchases, result, err := a.client.QueryPurchases(ctx)
		if err != nil {
			a.events <- service.RestoreEvent{
				Err: fmt.Errorf("%w: %v", domainerrors.ErrStoreUnavailable, err),
			}
			return
		}
		if result.Code != CodeOK {
			a.events <- service.RestoreEvent{Err: billingError(result)}
			return
		}

		records := make([]entity.PurchaseRecord, 0, len(purchases))
		for _, p := range purchases {
			rec := a.toRecord(p)
			if rec.State != entity.StateFailed && rec.State != entity.StatePurchasing {
				rec.State = entity.StateRestored
			}
			records = append(records, rec)
		}
		a.events <- service.RestoreEvent{Records: records}
	}()
	return nil
}

// Acknowledge finalizes the purchase with the platform. Acknowledging an
// already-acknowledged purchase is not an error; ITEM_ALREADY_OWNED-class
// replies are treated the same way.
func (a *Adapter) Acknowledge(ctx context.Context, rec entity.PurchaseRecord) error {
	if rec.Acknowledged {
		return nil
	}
	token := purchaseTokenOf(rec)
	if token == "" {
		return fmt.Errorf("%w: record for %q carries no purchase token",
			domainerrors.ErrAcknowledgmentFailed, rec.ProductID)
	}

	result, err := a.client.Acknowledge(ctx, token)
	if err != nil {
		return fmt.Errorf("%w: %v", domainerrors.ErrAcknowledgmentFailed, err)
	}
	switch result.Code {
	case CodeOK, CodeItemAlreadyOwned:
		return nil
	}
	return fmt.Errorf("%w: %s", domainerrors.ErrAcknowledgmentFailed, result.Message)
}

// PurchasesUpdated implements PurchasesUpdatedListener. Cancellations and
// errors arrive with no purchase attached, so they are attributed to the most
// recently launched flow.
func (a *Adapter) PurchasesUpdated(result BillingResult, purchases []Purchase) {
	if result.Code != CodeOK {
		a.mu.Lock()
		productID := a.lastLaunched
		a.lastLaunched = ""
		a.mu.Unlock()

		if productID == "" && len(purchases) > 0 {
			productID = purchases[0].ProductID
		}
		if productID == "" {
			a.log.Warn("billing flow failed with no attributable product",
				zap.Int("code", result.Code), zap.String("message", result.Message))
			return
		}
		a.events <- service.PurchaseEvent{
			Record: entity.PurchaseRecord{
				ProductID: productID,
				State:     entity.StateFailed,
			},
			Reason: failureReason(result),
		}
		return
	}

	for _, p := range purchases {
		a.events <- service.PurchaseEvent{Record: a.toRecord(p)}
	}
}

func (a *Adapter) toRecord(p Purchase) entity.PurchaseRecord {
	rec := entity.PurchaseRecord{
		ProductID:     p.ProductID,
		TransactionID: p.OrderID,
		Acknowledged:  p.Acknowledged,
		Receipt:       a.receiptPayload(p),
	}
	if rec.TransactionID == "" {
		rec.TransactionID = p.PurchaseToken
	}
	if p.PurchaseTime > 0 {
		rec.PurchaseTime = time.UnixMilli(p.PurchaseTime)
	}
	switch p.PurchaseState {
	case PurchaseStatePurchased:
		rec.State = entity.StatePurchased
		if p.Acknowledged {
			rec.State = entity.StateAcknowledged
		}
	case PurchaseStatePending:
		rec.State = entity.StatePurchasing
	default:
		rec.State = entity.StatePurchasing
	}
	autoRenew := p.AutoRenewing
	rec.AutoRenew = &autoRenew
	return rec
}

// receiptPayload packs what the Play Developer API needs to verify the
// purchase into the record's opaque receipt field.
func (a *Adapter) receiptPayload(p Purchase) string {
	payload, err := json.Marshal(map[string]string{
		"packageName":   a.packageName,
		"productId":     p.ProductID,
		"purchaseToken": p.PurchaseToken,
	})
	if err != nil {
		return ""
	}
	return string(payload)
}

func purchaseTokenOf(rec entity.PurchaseRecord) string {
	var payload struct {
		PurchaseToken string `json:"purchaseToken"`
	}
	if err := json.Unmarshal([]byte(rec.Receipt), &payload); err != nil {
		return ""
	}
	return payload.PurchaseToken
}

func billingError(result BillingResult) error {
	switch result.Code {
	case CodeServiceDisconnected:
		return fmt.Errorf("%w: %s", domainerrors.ErrProviderUnavailable, result.Message)
	case CodeServiceUnavailable, CodeNetworkError:
		return fmt.Errorf("%w: %s", domainerrors.ErrNetworkFailure, result.Message)
	case CodeBillingUnavailable, CodeFeatureNotSupported:
		return domainerrors.ErrPurchasesDisabled
	case CodeItemUnavailable:
		return fmt.Errorf("%w: item unavailable", domainerrors.ErrProductNotFound)
	default:
		return fmt.Errorf("%w: %s (code %d)", domainerrors.ErrStoreUnavailable, result.Message, result.Code)
	}
}

func failureReason(result BillingResult) string {
	if result.Code == CodeUserCanceled {
		return "user canceled"
	}
	if result.Message != "" {
		return result.Message
	}
	return fmt.Sprintf("billing error code %d", result.Code)
}

func toProduct(d ProductDetails) entity.Product {
	p := entity.Product{
		ID:           d.ProductID,
		Title:        d.Title,
		Description:  d.Description,
		Price:        d.FormattedPrice,
		PriceAmount:  float64(d.PriceAmountMicros) / 1e6,
		CurrencyCode: d.CurrencyCode,
		Type:         entity.ProductTypeConsumable,
	}
	if d.Type == "subs" {
		p.Type = entity.ProductTypeSubscription
		p.SubscriptionPeriod, p.PeriodCount = parseBillingPeriod(d.BillingPeriod)
	}
	return p
}

// parseBillingPeriod decodes the ISO-8601 durations Play uses for billing
// periods ("P1M", "P7D", "P1Y", ...). Unparseable input defaults to one month.
func parseBillingPeriod(period string) (entity.PeriodUnit, int) {
	s := strings.ToUpper(strings.TrimSpace(period))
	if len(s) < 3 || s[0] != 'P' {
		return entity.PeriodMonth, 1
	}
	count, err := strconv.Atoi(s[1 : len(s)-1])
	if err != nil || count <= 0 {
		return entity.PeriodMonth, 1
	}
	switch s[len(s)-1] {
	case 'D':
		return entity.PeriodDay, count
	case 'W':
		return entity.PeriodWeek, count
	case 'Y':
		return entity.PeriodYear, count
	default:
		return entity.PeriodMonth, count
	}
}
