package service

import (
	"time"

	"github.com/bivex/purchasekit/internal/domain/entity"
)

// stateTable is the process-wide map from product id to last-known product
// metadata and purchase state. It carries no lock of its own: the reconciler
// serializes every access, and readers reflect last-known state without ever
// touching the network. Entries persist for the process lifetime.
type stateTable struct {
	products  map[string]entity.Product
	purchases map[string]entity.PurchaseRecord
}

func newStateTable() *stateTable {
	return &stateTable{
		products:  make(map[string]entity.Product),
		purchases: make(map[string]entity.PurchaseRecord),
	}
}

// upsertProduct replaces the stored metadata wholesale; product queries never
// merge partial results.
func (t *stateTable) upsertProduct(p entity.Product) {
	t.products[p.ID] = p
}

// upsertPurchase stores the record, applying the refinement rule when the
// incoming record describes the same transaction as the stored one. Returns
// the record as stored.
func (t *stateTable) upsertPurchase(rec entity.PurchaseRecord) entity.PurchaseRecord {
	if prev, ok := t.purchases[rec.ProductID]; ok {
		rec = rec.RefinedFrom(prev)
	}
	t.purchases[rec.ProductID] = rec
	return rec
}

func (t *stateTable) product(id string) (entity.Product, bool) {
	p, ok := t.products[id]
	return p, ok
}

func (t *stateTable) purchase(id string) (entity.PurchaseRecord, bool) {
	rec, ok := t.purchases[id]
	return rec, ok
}

// subscriptionStatus derives the current status for a product id. A missing
// record yields an inactive status with every optional field unset.
func (t *stateTable) subscriptionStatus(id string, ackRequired bool, now time.Time) entity.SubscriptionStatus {
	rec, ok := t.purchases[id]
	if !ok {
		return entity.DeriveSubscriptionStatus(id, nil, ackRequired, now)
	}
	return entity.DeriveSubscriptionStatus(id, &rec, ackRequired, now)
}
