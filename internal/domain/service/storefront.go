package service

import (
	"context"
	"time"

	"github.com/bivex/purchasekit/internal/domain/entity"
)

// Storefront is the unified API surface: four operations with one terminal
// result each, regardless of how many provider-level events it took to get
// there. It owns nothing beyond the lifetime of a single call; every awaited
// operation opens a ledger entry first, then triggers the provider, then
// suspends without holding the engine lock.
type Storefront struct {
	engine *Reconciler
}

func NewStorefront(engine *Reconciler) *Storefront {
	return &Storefront{engine: engine}
}

// GetProducts fetches store metadata for the given ids. The result is always
// a subset of the request: ids unknown to the store are omitted, not errored.
func (s *Storefront) GetProducts(ctx context.Context, ids []string) ([]entity.Product, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return []entity.Product{}, nil
	}

	pending := s.engine.createPending(kindProductsQuery, ids...)
	if err := s.engine.adapter.QueryProducts(ctx, ids); err != nil {
		s.engine.failPending(pending.token, err)
		return nil, err
	}

	value, err := s.engine.await(ctx, pending)
	if err != nil {
		return nil, err
	}
	products, _ := value.([]entity.Product)
	if products == nil {
		products = []entity.Product{}
	}
	return products, nil
}

// PurchaseProduct launches the platform purchase flow for a previously
// fetched product and blocks until the provider settles it one way or the
// other. The flow is user-paced: there is no timeout here beyond ctx.
func (s *Storefront) PurchaseProduct(ctx context.Context, productID string) (entity.PurchaseResult, error) {
	pending := s.engine.createPending(kindPurchase, productID)
	if err := s.engine.adapter.LaunchPurchase(ctx, productID); err != nil {
		s.engine.failPending(pending.token, err)
		return entity.PurchaseResult{}, err
	}

	value, err := s.engine.await(ctx, pending)
	if err != nil {
		return entity.PurchaseResult{}, err
	}
	result, _ := value.(entity.PurchaseResult)
	return result, nil
}

// RestorePurchases re-discovers previously completed purchases, acknowledging
// any the platform still considers unacknowledged.
func (s *Storefront) RestorePurchases(ctx context.Context) ([]entity.PurchaseResult, error) {
	pending := s.engine.createPending(kindRestore)
	if err := s.engine.adapter.QueryExistingPurchases(ctx); err != nil {
		s.engine.failPending(pending.token, err)
		return nil, err
	}

	value, err := s.engine.await(ctx, pending)
	if err != nil {
		return nil, err
	}
	results, _ := value.([]entity.PurchaseResult)
	if results == nil {
		results = []entity.PurchaseResult{}
	}
	return results, nil
}

// GetSubscriptionStatus derives the current status from last-known state. It
// never errors and never blocks on network activity; a product with no
// purchase record is simply inactive.
func (s *Storefront) GetSubscriptionStatus(productID string) entity.SubscriptionStatus {
	return s.engine.subscriptionStatus(productID, time.Now())
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
