package entity

import (
	"time"
)

type PurchaseState string

const (
	StatePurchasing   PurchaseState = "purchasing"
	StatePurchased    PurchaseState = "purchased"
	StateAcknowledged PurchaseState = "acknowledged"
	StateFailed       PurchaseState = "failed"
	StateRestored     PurchaseState = "restored"
)

// PurchaseRecord is the last-known purchase state for a product, keyed by
// (product id, transaction reference). A newer provider event for the same
// transaction refines the record; a different transaction replaces it.
type PurchaseRecord struct {
	ProductID     string
	TransactionID string
	State         PurchaseState
	PurchaseTime  time.Time
	Acknowledged  bool

	// Receipt is the opaque provider payload handed to the external verifier.
	Receipt string

	// ExpiresAt is set only when expiry is actually known, either from the
	// verifier or from a platform-native expiry signal.
	ExpiresAt *time.Time

	// Pass-through flags, present only when a provider or verifier supplied
	// them. Nil means unknown, never "false".
	AutoRenew *bool
	InTrial   *bool
	InGrace   *bool
}

// IsSettled reports whether the purchase reached a state that grants
// entitlement (a failed or still-pending purchase grants nothing).
func (r PurchaseRecord) IsSettled() bool {
	switch r.State {
	case StatePurchased, StateAcknowledged, StateRestored:
		return true
	}
	return false
}

// RefinedFrom applies the replace-by-transaction rule against the previously
// stored record: when both records describe the same transaction, the
// acknowledgment flag, expiry and pass-through flags carry forward unless the
// newer event supplies its own values. A different transaction reference
// replaces the record outright.
func (r PurchaseRecord) RefinedFrom(prev PurchaseRecord) PurchaseRecord {
	if prev.TransactionID != r.TransactionID {
		return r
	}
	if prev.Acknowledged {
		r.Acknowledged = true
		if r.State == StatePurchased || r.State == StateRestored {
			r.State = StateAcknowledged
		}
	}
	if r.ExpiresAt == nil {
		r.ExpiresAt = prev.ExpiresAt
	}
	if r.Receipt == "" {
		r.Receipt = prev.Receipt
	}
	if r.AutoRenew == nil {
		r.AutoRenew = prev.AutoRenew
	}
	if r.InTrial == nil {
		r.InTrial = prev.InTrial
	}
	if r.InGrace == nil {
		r.InGrace = prev.InGrace
	}
	return r
}

// Result converts the record into the API shape returned to callers.
func (r PurchaseRecord) Result() PurchaseResult {
	res := PurchaseResult{
		ProductID:      r.ProductID,
		TransactionID:  r.TransactionID,
		PurchaseTime:   r.PurchaseTime.UnixMilli(),
		IsAcknowledged: r.Acknowledged,
	}
	if r.ExpiresAt != nil {
		ms := r.ExpiresAt.UnixMilli()
		res.SubscriptionExpiryTime = &ms
	}
	if r.Receipt != "" {
		res.ReceiptData = r.Receipt
	}
	return res
}

// PurchaseResult is the terminal outcome of a purchase or restore operation.
type PurchaseResult struct {
	ProductID              string `json:"productId"`
	TransactionID          string `json:"transactionId"`
	PurchaseTime           int64  `json:"purchaseTime"`
	IsAcknowledged         bool   `json:"isAcknowledged"`
	SubscriptionExpiryTime *int64 `json:"subscriptionExpiryTime,omitempty"`
	ReceiptData            string `json:"receiptData,omitempty"`
}
