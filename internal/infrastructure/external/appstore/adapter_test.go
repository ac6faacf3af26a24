package appstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bivex/purchasekit/internal/domain/entity"
	domainerrors "github.com/bivex/purchasekit/internal/domain/errors"
	"github.com/bivex/purchasekit/internal/domain/service"
)

type fakeQueue struct {
	mu              sync.Mutex
	observer        TransactionObserver
	canPay          bool
	canPayErr       error
	products        []ProductInfo
	fetchErr        error
	addPaymentErr   error
	restoreErr      error
	finishErr       error
	finishedTxs     []string
	addedPayments   []string
	restoreRequests int
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{canPay: true}
}

func (q *fakeQueue) SetObserver(obs TransactionObserver) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.observer = obs
}

func (q *fakeQueue) CanMakePayments(ctx context.Context) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.canPay, q.canPayErr
}

func (q *fakeQueue) FetchProducts(ctx context.Context, ids []string) ([]ProductInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.products, q.fetchErr
}

func (q *fakeQueue) AddPayment(ctx context.Context, productID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.addPaymentErr != nil {
		return q.addPaymentErr
	}
	q.addedPayments = append(q.addedPayments, productID)
	return nil
}

func (q *fakeQueue) RestoreCompletedTransactions(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.restoreRequests++
	return q.restoreErr
}

func (q *fakeQueue) FinishTransaction(ctx context.Context, transactionID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.finishErr != nil {
		return q.finishErr
	}
	q.finishedTxs = append(q.finishedTxs, transactionID)
	return nil
}

func nextEvent(t *testing.T, a *Adapter) service.ProviderEvent {
	t.Helper()
	select {
	case ev := <-a.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("no provider event arrived")
		return nil
	}
}

func TestQueryProductsDeliversTypedMetadata(t *testing.T) {
	queue := newFakeQueue()
	queue.products = []ProductInfo{
		{
			ID: "sub.monthly", Title: "Monthly", Price: "$4.99",
			PriceAmount: 4.99, CurrencyCode: "USD",
			Type: "subscription", PeriodUnit: "month", PeriodCount: 1,
		},
		{ID: "coins.100", Title: "100 Coins", Type: "consumable"},
	}
	a := NewAdapter(queue, nil)

	require.NoError(t, a.QueryProducts(context.Background(), []string{"sub.monthly", "coins.100"}))

	ev, ok := nextEvent(t, a).(service.ProductsEvent)
	require.True(t, ok)
	require.NoError(t, ev.Err)
	require.Len(t, ev.Products, 2)

	sub := ev.Products[0]
	assert.Equal(t, entity.ProductTypeSubscription, sub.Type)
	assert.Equal(t, entity.PeriodMonth, sub.SubscriptionPeriod)
	assert.Equal(t, 1, sub.PeriodCount)
	assert.Equal(t, 4.99, sub.PriceAmount)

	assert.Equal(t, entity.ProductTypeConsumable, ev.Products[1].Type)
	assert.Empty(t, ev.Products[1].SubscriptionPeriod)
}

func TestQueryProductsStoreFailure(t *testing.T) {
	queue := newFakeQueue()
	queue.fetchErr = errors.New("network down")
	a := NewAdapter(queue, nil)

	require.NoError(t, a.QueryProducts(context.Background(), []string{"sub.monthly"}))

	ev, ok := nextEvent(t, a).(service.ProductsEvent)
	require.True(t, ok)
	assert.ErrorIs(t, ev.Err, domainerrors.ErrStoreUnavailable)
}

func TestLaunchPurchaseRequiresPriorFetch(t *testing.T) {
	queue := newFakeQueue()
	a := NewAdapter(queue, nil)

	err := a.LaunchPurchase(context.Background(), "never.fetched")
	assert.ErrorIs(t, err, domainerrors.ErrProductNotFound)
	assert.Empty(t, queue.addedPayments)
}

func TestLaunchPurchaseRespectsPaymentRestrictions(t *testing.T) {
	queue := newFakeQueue()
	queue.products = []ProductInfo{{ID: "sub.monthly", Type: "subscription"}}
	queue.canPay = false
	a := NewAdapter(queue, nil)

	require.NoError(t, a.QueryProducts(context.Background(), []string{"sub.monthly"}))
	nextEvent(t, a)

	err := a.LaunchPurchase(context.Background(), "sub.monthly")
	assert.ErrorIs(t, err, domainerrors.ErrPurchasesDisabled)
}

func TestLaunchPurchaseAddsPayment(t *testing.T) {
	queue := newFakeQueue()
	queue.products = []ProductInfo{{ID: "sub.monthly", Type: "subscription"}}
	a := NewAdapter(queue, nil)

	require.NoError(t, a.QueryProducts(context.Background(), []string{"sub.monthly"}))
	nextEvent(t, a)

	require.NoError(t, a.LaunchPurchase(context.Background(), "sub.monthly"))
	assert.Equal(t, []string{"sub.monthly"}, queue.addedPayments)
}

func TestObserverTranslatesTransactionStates(t *testing.T) {
	queue := newFakeQueue()
	a := NewAdapter(queue, nil)

	queue.observer.UpdatedTransactions([]Transaction{
		{ProductID: "sub.monthly", TransactionID: "T1", State: TxPurchased, PurchaseTime: 1700000000000, Receipt: "r1"},
		{ProductID: "sub.monthly", State: TxFailed, ErrorMessage: "payment declined"},
		{ProductID: "sub.monthly", TransactionID: "T1", State: TxDeferred},
	})

	ev1 := nextEvent(t, a).(service.PurchaseEvent)
	assert.Equal(t, entity.StatePurchased, ev1.Record.State)
	assert.Equal(t, "T1", ev1.Record.TransactionID)
	assert.Equal(t, int64(1700000000000), ev1.Record.PurchaseTime.UnixMilli())
	assert.Equal(t, "r1", ev1.Record.Receipt)

	ev2 := nextEvent(t, a).(service.PurchaseEvent)
	assert.Equal(t, entity.StateFailed, ev2.Record.State)
	assert.Equal(t, "payment declined", ev2.Reason)

	ev3 := nextEvent(t, a).(service.PurchaseEvent)
	assert.Equal(t, entity.StatePurchasing, ev3.Record.State, "deferred keeps the flow open")
}

func TestRestoreCallbacks(t *testing.T) {
	queue := newFakeQueue()
	a := NewAdapter(queue, nil)

	require.NoError(t, a.QueryExistingPurchases(context.Background()))
	assert.Equal(t, 1, queue.restoreRequests)

	queue.observer.RestoreCompleted([]Transaction{
		{ProductID: "sub.monthly", TransactionID: "T1", State: TxRestored},
	})
	ev := nextEvent(t, a).(service.RestoreEvent)
	require.Len(t, ev.Records, 1)
	assert.Equal(t, entity.StateRestored, ev.Records[0].State)

	queue.observer.RestoreFailed(errors.New("not signed in"))
	failed := nextEvent(t, a).(service.RestoreEvent)
	assert.ErrorIs(t, failed.Err, domainerrors.ErrStoreUnavailable)
}

func TestAcknowledgeFinishesAndNeverFails(t *testing.T) {
	queue := newFakeQueue()
	a := NewAdapter(queue, nil)

	rec := entity.PurchaseRecord{ProductID: "sub.monthly", TransactionID: "T1", State: entity.StatePurchased}
	require.NoError(t, a.Acknowledge(context.Background(), rec))
	assert.Equal(t, []string{"T1"}, queue.finishedTxs)

	// Already-acknowledged records skip the queue entirely.
	rec.Acknowledged = true
	require.NoError(t, a.Acknowledge(context.Background(), rec))
	assert.Equal(t, []string{"T1"}, queue.finishedTxs)

	// A finish hiccup is swallowed; the queue will replay the transaction.
	queue.finishErr = errors.New("temporarily unavailable")
	rec.Acknowledged = false
	assert.NoError(t, a.Acknowledge(context.Background(), rec))
}
