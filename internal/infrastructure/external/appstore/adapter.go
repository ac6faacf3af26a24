package appstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bivex/purchasekit/internal/domain/entity"
	domainerrors "github.com/bivex/purchasekit/internal/domain/errors"
	"github.com/bivex/purchasekit/internal/domain/service"
)

const eventBuffer = 16

// Adapter turns payment-queue callbacks into the uniform provider event
// stream. Apple auto-finalizes: there is no refund-on-missing-ack semantics,
// so acknowledgment here just finishes the native transaction and cannot fail
// the record. Expiry never comes from the platform; only the receipt verifier
// knows it.
type Adapter struct {
	queue PaymentQueue
	log   *zap.Logger

	mu      sync.Mutex
	fetched map[string]ProductInfo

	events chan service.ProviderEvent
}

var _ service.ProviderAdapter = (*Adapter)(nil)

func NewAdapter(queue PaymentQueue, log *zap.Logger) *Adapter {
	if log == nil {
		log = zap.NewNop()
	}
	a := &Adapter{
		queue:   queue,
		log:     log.With(zap.String("component", "appstore_adapter")),
		fetched: make(map[string]ProductInfo),
		events:  make(chan service.ProviderEvent, eventBuffer),
	}
	queue.SetObserver(a)
	return a
}

func (a *Adapter) Platform() string { return "appstore" }

// RequiresAcknowledgment is false: the App Store never refunds a purchase for
// lack of client acknowledgment.
func (a *Adapter) RequiresAcknowledgment() bool { return false }

func (a *Adapter) Events() <-chan service.ProviderEvent { return a.events }

// QueryProducts issues the native products request; the answer is delivered
// as a ProductsEvent. Unknown ids never error, the store just omits them.
func (a *Adapter) QueryProducts(ctx context.Context, ids []string) error {
	go func() {
		infos, err := a.queue.FetchProducts(ctx, ids)
		if err != nil {
			a.events <- service.ProductsEvent{
				Requested: ids,
				Err:       fmt.Errorf("%w: %v", domainerrors.ErrStoreUnavailable, err),
			}
			return
		}

		products := make([]entity.Product, 0, len(infos))
		a.mu.Lock()
		for _, info := range infos {
			a.fetched[info.ID] = info
			products = append(products, toProduct(info))
		}
		a.mu.Unlock()

		a.events <- service.ProductsEvent{Requested: ids, Products: products}
	}()
	return nil
}

// LaunchPurchase adds a payment for a previously fetched product. The queue
// reports the outcome later through the process-wide observer.
func (a *Adapter) LaunchPurchase(ctx context.Context, productID string) error {
	a.mu.Lock()
	_, known := a.fetched[productID]
	a.mu.Unlock()
	if !known {
		return fmt.Errorf("%w: %q was never fetched", domainerrors.ErrProductNotFound, productID)
	}

	allowed, err := a.queue.CanMakePayments(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", domainerrors.ErrStoreUnavailable, err)
	}
	if !allowed {
		return domainerrors.ErrPurchasesDisabled
	}

	if err := a.queue.AddPayment(ctx, productID); err != nil {
		return fmt.Errorf("%w: %v", domainerrors.ErrStoreUnavailable, err)
	}
	return nil
}

func (a *Adapter) QueryExistingPurchases(ctx context.Context) error {
	if err := a.queue.RestoreCompletedTransactions(ctx); err != nil {
		return fmt.Errorf("%w: %v", domainerrors.ErrStoreUnavailable, err)
	}
	return nil
}

// Acknowledge finishes the native transaction. Idempotent, and intentionally
// infallible from the engine's point of view: a finish hiccup is retried next
// time the queue replays the transaction.
func (a *Adapter) Acknowledge(ctx context.Context, rec entity.PurchaseRecord) error {
	if rec.Acknowledged {
		return nil
	}
	if err := a.queue.FinishTransaction(ctx, rec.TransactionID); err != nil {
		a.log.Debug("finishTransaction failed",
			zap.String("transaction_id", rec.TransactionID),
			zap.Error(err),
		)
	}
	return nil
}

// UpdatedTransactions implements TransactionObserver. Every update becomes a
// PurchaseEvent; the engine decides whether anyone is waiting for it.
func (a *Adapter) UpdatedTransactions(txs []Transaction) {
	for _, tx := range txs {
		a.events <- toPurchaseEvent(tx)
	}
}

// RestoreCompleted implements TransactionObserver.
func (a *Adapter) RestoreCompleted(txs []Transaction) {
	records := make([]entity.PurchaseRecord, 0, len(txs))
	for _, tx := range txs {
		rec := toRecord(tx)
		rec.State = entity.StateRestored
		records = append(records, rec)
	}
	a.events <- service.RestoreEvent{Records: records}
}

// RestoreFailed implements TransactionObserver.
func (a *Adapter) RestoreFailed(err error) {
	a.events <- service.RestoreEvent{
		Err: fmt.Errorf("%w: %v", domainerrors.ErrStoreUnavailable, err),
	}
}

func toPurchaseEvent(tx Transaction) service.PurchaseEvent {
	rec := toRecord(tx)
	ev := service.PurchaseEvent{Record: rec}
	if rec.State == entity.StateFailed {
		ev.Reason = tx.ErrorMessage
	}
	return ev
}

func toRecord(tx Transaction) entity.PurchaseRecord {
	rec := entity.PurchaseRecord{
		ProductID:     tx.ProductID,
		TransactionID: tx.TransactionID,
		Receipt:       tx.Receipt,
	}
	if tx.PurchaseTime > 0 {
		rec.PurchaseTime = time.UnixMilli(tx.PurchaseTime)
	}
	switch tx.State {
	case TxPurchased:
		rec.State = entity.StatePurchased
	case TxRestored:
		rec.State = entity.StateRestored
	case TxFailed:
		rec.State = entity.StateFailed
	default:
		rec.State = entity.StatePurchasing
	}
	return rec
}

func toProduct(info ProductInfo) entity.Product {
	p := entity.Product{
		ID:           info.ID,
		Title:        info.Title,
		Description:  info.Description,
		Price:        info.Price,
		PriceAmount:  info.PriceAmount,
		CurrencyCode: info.CurrencyCode,
	}
	switch info.Type {
	case "consumable":
		p.Type = entity.ProductTypeConsumable
	case "non_consumable":
		p.Type = entity.ProductTypeNonConsumable
	default:
		p.Type = entity.ProductTypeSubscription
	}
	if p.IsSubscription() {
		switch info.PeriodUnit {
		case "day":
			p.SubscriptionPeriod = entity.PeriodDay
		case "week":
			p.SubscriptionPeriod = entity.PeriodWeek
		case "year":
			p.SubscriptionPeriod = entity.PeriodYear
		default:
			p.SubscriptionPeriod = entity.PeriodMonth
		}
		p.PeriodCount = info.PeriodCount
		if p.PeriodCount == 0 {
			p.PeriodCount = 1
		}
	}
	return p
}
