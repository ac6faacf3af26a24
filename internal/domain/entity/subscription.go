package entity

import "time"

// SubscriptionStatus is derived on demand from the current PurchaseRecord for
// a product; it is never stored. Optional fields stay at their zero value when
// the provider or verifier never supplied them.
type SubscriptionStatus struct {
	ProductID       string `json:"productId"`
	IsActive        bool   `json:"isActive"`
	ExpiryDate      *int64 `json:"expiryDate,omitempty"`
	AutoRenewStatus bool   `json:"autoRenewStatus"`
	IsInTrialPeriod bool   `json:"isInTrialPeriod"`
	IsInGracePeriod bool   `json:"isInGracePeriod"`
}

// DeriveSubscriptionStatus computes the status for a product from its
// last-known record. ackRequired carries the provider acknowledgment policy:
// on providers that auto-finalize, an unacknowledged record still grants
// entitlement.
func DeriveSubscriptionStatus(productID string, rec *PurchaseRecord, ackRequired bool, now time.Time) SubscriptionStatus {
	status := SubscriptionStatus{ProductID: productID}
	if rec == nil || !rec.IsSettled() {
		return status
	}

	acknowledged := rec.Acknowledged || !ackRequired
	unexpired := rec.ExpiresAt == nil || rec.ExpiresAt.After(now)
	status.IsActive = acknowledged && unexpired

	if rec.ExpiresAt != nil {
		ms := rec.ExpiresAt.UnixMilli()
		status.ExpiryDate = &ms
	}
	if rec.AutoRenew != nil {
		status.AutoRenewStatus = *rec.AutoRenew
	}
	if rec.InTrial != nil {
		status.IsInTrialPeriod = *rec.InTrial
	}
	if rec.InGrace != nil {
		status.IsInGracePeriod = *rec.InGrace
	}
	return status
}
