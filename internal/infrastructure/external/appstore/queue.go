// Package appstore adapts Apple's payment-queue model: one process-wide
// transaction observer receives every transaction update, including ones no
// call in this process ever asked for.
package appstore

import "context"

// Transaction states as reported by the native payment queue.
const (
	TxPurchasing = "purchasing"
	TxDeferred   = "deferred"
	TxPurchased  = "purchased"
	TxFailed     = "failed"
	TxRestored   = "restored"
)

// ProductInfo is the native product metadata shape (SKProduct fields the
// core cares about), as marshaled by the host bridge.
type ProductInfo struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	Price        string  `json:"price"`
	PriceAmount  float64 `json:"priceAmount"`
	CurrencyCode string  `json:"currencyCode"`
	Type         string  `json:"type"`
	PeriodUnit   string  `json:"periodUnit,omitempty"`
	PeriodCount  int     `json:"periodCount,omitempty"`
}

// Transaction is one native payment-queue transaction update.
type Transaction struct {
	ProductID     string `json:"productId"`
	TransactionID string `json:"transactionId"`
	State         string `json:"state"`
	PurchaseTime  int64  `json:"purchaseTime"`
	Receipt       string `json:"receipt,omitempty"`
	ErrorMessage  string `json:"errorMessage,omitempty"`
}

// TransactionObserver receives the process-wide payment-queue callbacks.
type TransactionObserver interface {
	UpdatedTransactions(txs []Transaction)
	RestoreCompleted(txs []Transaction)
	RestoreFailed(err error)
}

// PaymentQueue is the native StoreKit capability set the adapter drives. The
// live implementation marshals over the host bridge; tests swap in a fake.
type PaymentQueue interface {
	SetObserver(obs TransactionObserver)
	CanMakePayments(ctx context.Context) (bool, error)
	FetchProducts(ctx context.Context, ids []string) ([]ProductInfo, error)
	AddPayment(ctx context.Context, productID string) error
	RestoreCompletedTransactions(ctx context.Context) error
	FinishTransaction(ctx context.Context, transactionID string) error
}
