package service

import (
	"github.com/google/uuid"
)

type requestKind string

const (
	kindProductsQuery requestKind = "products_query"
	kindPurchase      requestKind = "purchase"
	kindRestore       requestKind = "restore"
)

// requestOutcome is the single terminal value delivered to the caller that
// opened a pending request.
type requestOutcome struct {
	value any
	err   error
}

// pendingRequest is one in-flight logical request. The done channel is
// buffered so the resolver never blocks on a caller that has not started
// waiting yet, and terminal guards the slot against double fulfillment.
type pendingRequest struct {
	token    uuid.UUID
	kind     requestKind
	scope    map[string]struct{}
	seq      uint64
	terminal bool
	done     chan requestOutcome

	// claimed marks the entry as taken by a settling event whose
	// finalization is still in flight. A claimed entry no longer matches new
	// events, but it can still be resolved or failed by token.
	claimed bool
}

func (p *pendingRequest) inScope(productID string) bool {
	_, ok := p.scope[productID]
	return ok
}

// pendingLedger correlates asynchronous provider events back to the logical
// request awaiting them. Like the state table it relies on the reconciler's
// lock for serialization.
type pendingLedger struct {
	nextSeq uint64
	entries map[uuid.UUID]*pendingRequest
}

func newPendingLedger() *pendingLedger {
	return &pendingLedger{entries: make(map[uuid.UUID]*pendingRequest)}
}

// create opens a pending request covering the given product ids and returns
// its correlation entry.
func (l *pendingLedger) create(kind requestKind, productIDs ...string) *pendingRequest {
	scope := make(map[string]struct{}, len(productIDs))
	for _, id := range productIDs {
		scope[id] = struct{}{}
	}
	l.nextSeq++
	p := &pendingRequest{
		token: uuid.New(),
		kind:  kind,
		scope: scope,
		seq:   l.nextSeq,
		done:  make(chan requestOutcome, 1),
	}
	l.entries[p.token] = p
	return p
}

// resolve fulfills the request with a value. A no-op when the token is
// already terminal or gone, which is what protects callers against duplicate
// provider events.
func (l *pendingLedger) resolve(token uuid.UUID, value any) {
	l.finish(token, requestOutcome{value: value})
}

// fail fulfills the request with an error. Idempotent like resolve.
func (l *pendingLedger) fail(token uuid.UUID, err error) {
	l.finish(token, requestOutcome{err: err})
}

func (l *pendingLedger) finish(token uuid.UUID, out requestOutcome) {
	p, ok := l.entries[token]
	if !ok || p.terminal {
		return
	}
	p.terminal = true
	p.done <- out
	delete(l.entries, token)
}

// oldestByScope returns the oldest unclaimed request of the given kind whose
// scope includes productID, or nil.
func (l *pendingLedger) oldestByScope(kind requestKind, productID string) *pendingRequest {
	var oldest *pendingRequest
	for _, p := range l.entries {
		if p.kind != kind || p.claimed || !p.inScope(productID) {
			continue
		}
		if oldest == nil || p.seq < oldest.seq {
			oldest = p
		}
	}
	return oldest
}

// oldestOfKind returns the oldest unclaimed request of the given kind, or
// nil. Restore requests carry no product scope and match this way.
func (l *pendingLedger) oldestOfKind(kind requestKind) *pendingRequest {
	var oldest *pendingRequest
	for _, p := range l.entries {
		if p.kind != kind || p.claimed {
			continue
		}
		if oldest == nil || p.seq < oldest.seq {
			oldest = p
		}
	}
	return oldest
}

// matchProductsQuery finds the pending products query answered by an event
// echoing the requested id set. An exact scope match wins; otherwise the
// oldest pending query takes the answer, since the store replies to queries
// in order.
func (l *pendingLedger) matchProductsQuery(requested []string) *pendingRequest {
	var oldest, exact *pendingRequest
	for _, p := range l.entries {
		if p.kind != kindProductsQuery {
			continue
		}
		if oldest == nil || p.seq < oldest.seq {
			oldest = p
		}
		if scopeEqual(p.scope, requested) && (exact == nil || p.seq < exact.seq) {
			exact = p
		}
	}
	if exact != nil {
		return exact
	}
	return oldest
}

func scopeEqual(scope map[string]struct{}, ids []string) bool {
	if len(scope) != len(ids) {
		return false
	}
	for _, id := range ids {
		if _, ok := scope[id]; !ok {
			return false
		}
	}
	return true
}

func (l *pendingLedger) size() int {
	return len(l.entries)
}
