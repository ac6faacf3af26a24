// Package iap implements the external receipt/token verifiers: Apple receipts
// through the verifyReceipt endpoint and Google purchase tokens through the
// Play Developer API. Verification is the only source of subscription expiry
// in the system; nothing here ever invents one.
package iap

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/awa/go-iap/appstore"

	domainerrors "github.com/bivex/purchasekit/internal/domain/errors"
	"github.com/bivex/purchasekit/internal/domain/service"
)

// AppleVerifier validates App Store receipts.
type AppleVerifier struct {
	client       *appstore.Client
	sharedSecret string
}

var _ service.ReceiptVerifier = (*AppleVerifier)(nil)

// NewAppleVerifier creates a verifier using the app's shared secret. The
// go-iap client falls back to the sandbox environment on its own when Apple
// answers with status 21007.
func NewAppleVerifier(sharedSecret string) *AppleVerifier {
	return &AppleVerifier{
		client:       appstore.New(),
		sharedSecret: sharedSecret,
	}
}

// Verify submits the receipt and distills the latest renewal info into an
// entitlement.
func (v *AppleVerifier) Verify(ctx context.Context, receipt string) (*service.Entitlement, error) {
	req := appstore.IAPRequest{
		ReceiptData: receipt,
		Password:    v.sharedSecret,
	}
	resp := &appstore.IAPResponse{}
	if err := v.client.Verify(ctx, req, resp); err != nil {
		return nil, fmt.Errorf("%w: %v", domainerrors.ErrVerificationFailed, err)
	}
	if err := appstore.HandleError(resp.Status); err != nil {
		return &service.Entitlement{Valid: false}, nil
	}

	latest := latestTransaction(resp.LatestReceiptInfo)
	if latest == nil {
		return &service.Entitlement{Valid: false}, nil
	}

	ent := &service.Entitlement{Valid: true}
	if ms := parseMillis(latest.ExpiresDate.ExpiresDateMS); ms > 0 {
		ent.ExpiresAt = time.UnixMilli(ms)
	}
	if latest.IsTrialPeriod != "" {
		trial := latest.IsTrialPeriod == "true"
		ent.InTrial = &trial
	}

	for _, renewal := range resp.PendingRenewalInfo {
		if renewal.ProductID != latest.ProductID {
			continue
		}
		autoRenew := renewal.SubscriptionAutoRenewStatus == "1"
		ent.AutoRenew = &autoRenew
		if ms := parseMillis(renewal.GracePeriodDateMS); ms > 0 {
			grace := time.UnixMilli(ms).After(time.Now())
			ent.InGrace = &grace
		}
		break
	}
	return ent, nil
}

// latestTransaction picks the renewal entry with the greatest expiry, which
// is the one that decides current entitlement.
func latestTransaction(info []appstore.InApp) *appstore.InApp {
	var latest *appstore.InApp
	var latestMS int64 = -1
	for i := range info {
		ms := parseMillis(info[i].ExpiresDate.ExpiresDateMS)
		if ms > latestMS {
			latest = &info[i]
			latestMS = ms
		}
	}
	return latest
}

func parseMillis(s string) int64 {
	if s == "" {
		return 0
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return ms
}
