package errors

import (
	"errors"
	"fmt"
)

var (
	// Product errors
	ErrProductNotFound = errors.New("product not found")

	// Purchase errors
	ErrPurchasesDisabled = errors.New("in-app purchases are disabled on this device")
	ErrPurchaseFailed    = errors.New("purchase failed")

	// Provider errors
	ErrStoreUnavailable    = errors.New("store is unavailable")
	ErrProviderUnavailable = errors.New("billing provider is unavailable")
	ErrNetworkFailure      = errors.New("network failure talking to the store")

	// Post-purchase errors. Acknowledgment and verification failures are
	// recovered locally and never surfaced to a caller whose purchase
	// already succeeded.
	ErrAcknowledgmentFailed = errors.New("purchase acknowledgment failed")
	ErrVerificationFailed   = errors.New("receipt verification failed")
)

// PurchaseFailedError carries the provider-reported reason for a failed
// purchase flow (user cancellation, payment declined, ...).
type PurchaseFailedError struct {
	ProductID string
	Reason    string
}

func (e *PurchaseFailedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("purchase of %q failed", e.ProductID)
	}
	return fmt.Sprintf("purchase of %q failed: %s", e.ProductID, e.Reason)
}

func (e *PurchaseFailedError) Unwrap() error {
	return ErrPurchaseFailed
}
