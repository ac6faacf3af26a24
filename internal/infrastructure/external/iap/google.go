package iap

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/androidpublisher/v3"
	"google.golang.org/api/option"

	domainerrors "github.com/bivex/purchasekit/internal/domain/errors"
	"github.com/bivex/purchasekit/internal/domain/service"
)

// Payment states reported by the Play Developer API for subscriptions.
const (
	paymentStatePending   = 0
	paymentStateReceived  = 1
	paymentStateFreeTrial = 2
)

// GoogleVerifier validates Play purchase tokens against the Play Developer
// API. The receipt payload is the JSON the playstore adapter packs:
// {"packageName": ..., "productId": ..., "purchaseToken": ...}.
type GoogleVerifier struct {
	service *androidpublisher.Service
}

var _ service.ReceiptVerifier = (*GoogleVerifier)(nil)

// NewGoogleVerifier builds the Play Developer API client from service
// account credentials.
func NewGoogleVerifier(ctx context.Context, serviceAccountJSON string) (*GoogleVerifier, error) {
	creds, err := google.CredentialsFromJSON(
		ctx,
		[]byte(serviceAccountJSON),
		androidpublisher.AndroidpublisherScope,
	)
	if err != nil {
		return nil, fmt.Errorf("parse service account credentials: %w", err)
	}

	svc, err := androidpublisher.NewService(ctx, option.WithTokenSource(creds.TokenSource))
	if err != nil {
		return nil, fmt.Errorf("create androidpublisher service: %w", err)
	}
	return &GoogleVerifier{service: svc}, nil
}

// Verify resolves the purchase token into a validated entitlement.
func (v *GoogleVerifier) Verify(ctx context.Context, receipt string) (*service.Entitlement, error) {
	var payload struct {
		PackageName   string `json:"packageName"`
		ProductID     string `json:"productId"`
		PurchaseToken string `json:"purchaseToken"`
	}
	if err := json.Unmarshal([]byte(receipt), &payload); err != nil {
		return nil, fmt.Errorf("parse receipt payload: %w", err)
	}
	if payload.PurchaseToken == "" {
		return nil, fmt.Errorf("receipt payload carries no purchase token")
	}

	sub, err := v.service.Purchases.Subscriptions.Get(
		payload.PackageName,
		payload.ProductID,
		payload.PurchaseToken,
	).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domainerrors.ErrVerificationFailed, err)
	}

	ent := &service.Entitlement{}
	if sub.ExpiryTimeMillis > 0 {
		ent.ExpiresAt = time.UnixMilli(sub.ExpiryTimeMillis)
	}
	autoRenew := sub.AutoRenewing
	ent.AutoRenew = &autoRenew

	if sub.PaymentState != nil {
		state := *sub.PaymentState
		ent.Valid = state == paymentStateReceived || state == paymentStateFreeTrial
		trial := state == paymentStateFreeTrial
		ent.InTrial = &trial
		// A pending payment on an auto-renewing subscription is the grace
		// window: access continues while Play retries the charge.
		grace := state == paymentStatePending && sub.AutoRenewing
		ent.InGrace = &grace
		if grace {
			ent.Valid = true
		}
	}
	return ent, nil
}
