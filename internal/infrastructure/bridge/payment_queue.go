package bridge

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/bivex/purchasekit/internal/infrastructure/external/appstore"
)

// Native methods and events spoken with an App Store host.
const (
	methodCanMakePayments   = "storekit.canMakePayments"
	methodFetchProducts     = "storekit.fetchProducts"
	methodAddPayment        = "storekit.addPayment"
	methodRestore           = "storekit.restoreCompletedTransactions"
	methodFinishTransaction = "storekit.finishTransaction"

	eventUpdatedTransactions = "storekit.updatedTransactions"
	eventRestoreCompleted    = "storekit.restoreCompleted"
	eventRestoreFailed       = "storekit.restoreFailed"
)

// PaymentQueue implements appstore.PaymentQueue over the host session.
type PaymentQueue struct {
	session *Session
	log     *zap.Logger
}

var _ appstore.PaymentQueue = (*PaymentQueue)(nil)

func NewPaymentQueue(session *Session, log *zap.Logger) *PaymentQueue {
	if log == nil {
		log = zap.NewNop()
	}
	return &PaymentQueue{session: session, log: log.With(zap.String("component", "bridge_payment_queue"))}
}

// SetObserver wires the host's process-wide transaction callbacks to the
// observer.
func (q *PaymentQueue) SetObserver(obs appstore.TransactionObserver) {
	q.session.Handle(eventUpdatedTransactions, func(payload json.RawMessage) {
		var txs []appstore.Transaction
		if err := json.Unmarshal(payload, &txs); err != nil {
			q.log.Warn("bad transactions payload", zap.Error(err))
			return
		}
		obs.UpdatedTransactions(txs)
	})
	q.session.Handle(eventRestoreCompleted, func(payload json.RawMessage) {
		var txs []appstore.Transaction
		if err := json.Unmarshal(payload, &txs); err != nil {
			q.log.Warn("bad restore payload", zap.Error(err))
			return
		}
		obs.RestoreCompleted(txs)
	})
	q.session.Handle(eventRestoreFailed, func(payload json.RawMessage) {
		var body struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(payload, &body)
		obs.RestoreFailed(errors.New(body.Message))
	})
}

func (q *PaymentQueue) CanMakePayments(ctx context.Context) (bool, error) {
	var reply struct {
		Allowed bool `json:"allowed"`
	}
	if err := q.session.Call(ctx, methodCanMakePayments, nil, &reply); err != nil {
		return false, err
	}
	return reply.Allowed, nil
}

func (q *PaymentQueue) FetchProducts(ctx context.Context, ids []string) ([]appstore.ProductInfo, error) {
	params := map[string][]string{"productIds": ids}
	var reply struct {
		Products []appstore.ProductInfo `json:"products"`
	}
	if err := q.session.Call(ctx, methodFetchProducts, params, &reply); err != nil {
		return nil, err
	}
	return reply.Products, nil
}

func (q *PaymentQueue) AddPayment(ctx context.Context, productID string) error {
	return q.session.Call(ctx, methodAddPayment, map[string]string{"productId": productID}, nil)
}

func (q *PaymentQueue) RestoreCompletedTransactions(ctx context.Context) error {
	return q.session.Call(ctx, methodRestore, nil, nil)
}

func (q *PaymentQueue) FinishTransaction(ctx context.Context, transactionID string) error {
	return q.session.Call(ctx, methodFinishTransaction, map[string]string{"transactionId": transactionID}, nil)
}
