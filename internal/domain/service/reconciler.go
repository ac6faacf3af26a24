package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bivex/purchasekit/internal/domain/entity"
	domainerrors "github.com/bivex/purchasekit/internal/domain/errors"
	"github.com/bivex/purchasekit/internal/infrastructure/logging"
)

// Reconciler normalizes the asynchronous, provider-native event stream into
// exactly one terminal outcome per pending request. One mutex serializes the
// state table and the pending ledger so a matching step (read-then-write
// across the two structures) is atomic with respect to concurrent events and
// facade calls. The event loop itself never blocks on the network: a settling
// event claims its pending entry under the lock, and acknowledgment plus
// verification run in a per-record goroutine that resolves the claim when
// done.
//
// Construct one per process and inject the adapter and verifier explicitly;
// there is no hidden global observer.
type Reconciler struct {
	adapter  ProviderAdapter
	verifier ReceiptVerifier
	log      *zap.Logger

	mu     sync.Mutex
	table  *stateTable
	ledger *pendingLedger
}

// NewReconciler builds an engine around one provider adapter. verifier may be
// nil, in which case subscription expiry simply stays unknown: the engine
// never substitutes a synthetic expiry for real validation.
func NewReconciler(adapter ProviderAdapter, verifier ReceiptVerifier, log *zap.Logger) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{
		adapter:  adapter,
		verifier: verifier,
		log:      log.With(zap.String("platform", adapter.Platform())),
		table:    newStateTable(),
		ledger:   newPendingLedger(),
	}
}

// Run consumes provider events until ctx is cancelled or the adapter closes
// its event channel. Call it from a dedicated goroutine.
func (r *Reconciler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-r.adapter.Events():
			if !ok {
				return
			}
			r.dispatch(ctx, ev)
		}
	}
}

// StartupReconcile kicks off one existing-purchases pass without opening a
// pending request: discovered records land in the state table as unsolicited
// updates and unacknowledged ones get acknowledged eagerly.
func (r *Reconciler) StartupReconcile(ctx context.Context) {
	if err := r.adapter.QueryExistingPurchases(ctx); err != nil {
		r.log.Warn("startup reconciliation query failed", zap.Error(err))
	}
}

func (r *Reconciler) dispatch(ctx context.Context, ev ProviderEvent) {
	switch e := ev.(type) {
	case ProductsEvent:
		r.handleProducts(e)
	case PurchaseEvent:
		r.handlePurchase(ctx, e)
	case RestoreEvent:
		r.handleRestore(ctx, e)
	default:
		r.log.Warn("dropping unknown provider event")
	}
}

// handleProducts resolves the corresponding pending products query with
// whatever subset the store returned; it never waits for stragglers.
func (r *Reconciler) handleProducts(ev ProductsEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending := r.ledger.matchProductsQuery(ev.Requested)

	if ev.Err != nil {
		r.log.Warn("product query failed", zap.Error(ev.Err))
		if pending != nil {
			r.ledger.fail(pending.token, ev.Err)
		}
		return
	}

	for _, p := range ev.Products {
		r.table.upsertProduct(p)
	}
	if pending == nil {
		// Nothing awaits this answer; the metadata refresh still counts.
		return
	}
	r.ledger.resolve(pending.token, ev.Products)
}

// handlePurchase applies one transaction update. The first settling event
// claims the oldest pending purchase request scoped to the product; anything
// after that (renewals, replays, other devices' purchases) updates state
// only. Finalization is a network round trip and runs off the event loop, so
// an in-flight acknowledgment for one record never delays resolutions for
// anyone else.
func (r *Reconciler) handlePurchase(ctx context.Context, ev PurchaseEvent) {
	rec := ev.Record

	if rec.State == entity.StateFailed {
		r.mu.Lock()
		defer r.mu.Unlock()
		// A canceled or declined re-purchase attempt must not revoke an
		// entitlement the user already holds under another transaction.
		prev, ok := r.table.purchase(rec.ProductID)
		if !ok || !prev.IsSettled() || prev.TransactionID == rec.TransactionID {
			r.table.upsertPurchase(rec)
		}
		if pending := r.ledger.oldestByScope(kindPurchase, rec.ProductID); pending != nil {
			r.ledger.fail(pending.token, &domainerrors.PurchaseFailedError{
				ProductID: rec.ProductID,
				Reason:    ev.Reason,
			})
		}
		return
	}

	r.mu.Lock()
	stored := r.table.upsertPurchase(rec)
	var token uuid.UUID
	var hasPending bool
	if stored.State != entity.StatePurchasing {
		if pending := r.ledger.oldestByScope(kindPurchase, rec.ProductID); pending != nil {
			pending.claimed = true
			token = pending.token
			hasPending = true
		}
	}
	r.mu.Unlock()

	if stored.State == entity.StatePurchasing {
		// The flow is still user-paced (pending payment, parental approval).
		// Keep waiting for a settling event.
		return
	}

	go func() {
		final := r.finalize(ctx, stored)

		r.mu.Lock()
		defer r.mu.Unlock()
		final = r.storeFinalized(final)
		if hasPending {
			r.ledger.resolve(token, final.Result())
		}
	}()
}

// handleRestore upserts every discovered record, finalizes each one off the
// event loop, and resolves the claimed pending restore request with the full
// deduplicated list.
func (r *Reconciler) handleRestore(ctx context.Context, ev RestoreEvent) {
	if ev.Err != nil {
		r.log.Warn("existing-purchases query failed", zap.Error(ev.Err))
		r.mu.Lock()
		defer r.mu.Unlock()
		if pending := r.ledger.oldestOfKind(kindRestore); pending != nil {
			r.ledger.fail(pending.token, ev.Err)
		}
		return
	}

	r.mu.Lock()
	var token uuid.UUID
	var hasPending bool
	if pending := r.ledger.oldestOfKind(kindRestore); pending != nil {
		pending.claimed = true
		token = pending.token
		hasPending = true
	}
	r.mu.Unlock()

	go func() {
		seen := make(map[string]struct{}, len(ev.Records))
		results := make([]entity.PurchaseResult, 0, len(ev.Records))
		for _, rec := range ev.Records {
			if _, dup := seen[rec.TransactionID]; dup {
				continue
			}
			seen[rec.TransactionID] = struct{}{}

			r.mu.Lock()
			stored := r.table.upsertPurchase(rec)
			r.mu.Unlock()

			stored = r.finalize(ctx, stored)

			r.mu.Lock()
			stored = r.storeFinalized(stored)
			r.mu.Unlock()

			results = append(results, stored.Result())
		}

		if hasPending {
			r.mu.Lock()
			r.ledger.resolve(token, results)
			r.mu.Unlock()
		}
	}()
}

// finalize applies the per-provider finalization policy to a settled record:
// acknowledgment first, then expiry derivation through the verifier. Both
// steps run without the lock and off the event loop; failures are recovered
// locally and retried on the next observation of the same record.
func (r *Reconciler) finalize(ctx context.Context, rec entity.PurchaseRecord) entity.PurchaseRecord {
	rec = r.acknowledge(ctx, rec)
	rec = r.deriveExpiry(ctx, rec)
	return rec
}

// storeFinalized writes a finalized record back to the table unless a
// different transaction replaced the entry while finalization was in flight;
// the newer observation wins. Callers hold the lock.
func (r *Reconciler) storeFinalized(final entity.PurchaseRecord) entity.PurchaseRecord {
	if cur, ok := r.table.purchase(final.ProductID); ok && cur.TransactionID != final.TransactionID {
		return final
	}
	return r.table.upsertPurchase(final)
}

// acknowledge settles the acknowledgment state machine transition. A purchase
// that is never acknowledged is refunded by the platform after a bounded
// grace window, so this runs before the pending request resolves. Failure
// does not roll the purchase back and never reaches the original caller.
func (r *Reconciler) acknowledge(ctx context.Context, rec entity.PurchaseRecord) entity.PurchaseRecord {
	if rec.Acknowledged || !rec.IsSettled() {
		return rec
	}
	if err := r.adapter.Acknowledge(ctx, rec); err != nil {
		logging.ReportError("acknowledgment failed, will retry on next observation", err,
			zap.String("platform", r.adapter.Platform()),
			zap.String("product_id", rec.ProductID),
			zap.String("transaction_id", rec.TransactionID),
		)
		return rec
	}
	rec.Acknowledged = true
	rec.State = entity.StateAcknowledged
	return rec
}

// deriveExpiry asks the external verifier for the real expiry of a
// subscription record. When verification fails the record stays usable with
// expiry absent.
func (r *Reconciler) deriveExpiry(ctx context.Context, rec entity.PurchaseRecord) entity.PurchaseRecord {
	if rec.ExpiresAt != nil || rec.Receipt == "" || r.verifier == nil {
		return rec
	}
	if p, ok := r.productFor(rec.ProductID); ok && !p.IsSubscription() {
		return rec
	}

	ent, err := r.verifier.Verify(ctx, rec.Receipt)
	if err != nil {
		logging.ReportError("receipt verification failed, expiry stays unknown", err,
			zap.String("platform", r.adapter.Platform()),
			zap.String("product_id", rec.ProductID),
		)
		return rec
	}
	if !ent.Valid {
		r.log.Warn("receipt rejected by verifier",
			zap.String("product_id", rec.ProductID),
			zap.String("transaction_id", rec.TransactionID),
		)
		return rec
	}
	if !ent.ExpiresAt.IsZero() {
		expires := ent.ExpiresAt
		rec.ExpiresAt = &expires
	}
	if ent.AutoRenew != nil {
		rec.AutoRenew = ent.AutoRenew
	}
	if ent.InTrial != nil {
		rec.InTrial = ent.InTrial
	}
	if ent.InGrace != nil {
		rec.InGrace = ent.InGrace
	}
	return rec
}

func (r *Reconciler) productFor(id string) (entity.Product, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.table.product(id)
}

// createPending opens a ledger entry on behalf of the facade.
func (r *Reconciler) createPending(kind requestKind, productIDs ...string) *pendingRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ledger.create(kind, productIDs...)
}

// failPending terminates a ledger entry that never got (or no longer wants)
// a provider answer.
func (r *Reconciler) failPending(token uuid.UUID, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ledger.fail(token, err)
}

// await suspends the caller until the request turns terminal. There is no
// internal timeout: purchase flows are user-paced. Cancellation of ctx is the
// application layer's way out; it fails the token so nothing dangles.
func (r *Reconciler) await(ctx context.Context, p *pendingRequest) (any, error) {
	select {
	case out := <-p.done:
		return out.value, out.err
	case <-ctx.Done():
		r.failPending(p.token, ctx.Err())
		// The token may have resolved in the same instant; prefer the
		// provider's answer when it won the race.
		select {
		case out := <-p.done:
			return out.value, out.err
		default:
			return nil, ctx.Err()
		}
	}
}

// subscriptionStatus reads the derived status for a product id.
func (r *Reconciler) subscriptionStatus(id string, now time.Time) entity.SubscriptionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.table.subscriptionStatus(id, r.adapter.RequiresAcknowledgment(), now)
}

// pendingCount reports the number of unresolved ledger entries.
func (r *Reconciler) pendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ledger.size()
}
