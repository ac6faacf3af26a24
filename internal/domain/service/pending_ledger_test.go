package service

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingLedgerSingleResolution(t *testing.T) {
	ledger := newPendingLedger()
	p := ledger.create(kindPurchase, "sub.monthly")

	ledger.resolve(p.token, "first")
	ledger.resolve(p.token, "second")
	ledger.fail(p.token, errors.New("too late"))

	out := <-p.done
	assert.Equal(t, "first", out.value)
	assert.NoError(t, out.err)

	select {
	case <-p.done:
		t.Fatal("result slot fulfilled more than once")
	default:
	}

	// Terminal entries leave the ledger so nothing leaks across calls.
	assert.Equal(t, 0, ledger.size())
}

func TestPendingLedgerFail(t *testing.T) {
	ledger := newPendingLedger()
	p := ledger.create(kindRestore)

	ledger.fail(p.token, errors.New("store unavailable"))
	ledger.resolve(p.token, "ignored")

	out := <-p.done
	assert.Error(t, out.err)
	assert.Nil(t, out.value)
}

func TestPendingLedgerOldestByScope(t *testing.T) {
	ledger := newPendingLedger()
	first := ledger.create(kindPurchase, "sub.monthly")
	second := ledger.create(kindPurchase, "sub.monthly")
	other := ledger.create(kindPurchase, "sub.yearly")

	got := ledger.oldestByScope(kindPurchase, "sub.monthly")
	require.NotNil(t, got)
	assert.Equal(t, first.token, got.token)

	ledger.resolve(first.token, nil)
	got = ledger.oldestByScope(kindPurchase, "sub.monthly")
	require.NotNil(t, got)
	assert.Equal(t, second.token, got.token)

	assert.Nil(t, ledger.oldestByScope(kindRestore, "sub.monthly"))
	got = ledger.oldestByScope(kindPurchase, "sub.yearly")
	require.NotNil(t, got)
	assert.Equal(t, other.token, got.token)
}

func TestPendingLedgerMatchProductsQuery(t *testing.T) {
	ledger := newPendingLedger()
	broad := ledger.create(kindProductsQuery, "a", "b", "c")
	exact := ledger.create(kindProductsQuery, "a", "b")

	got := ledger.matchProductsQuery([]string{"a", "b"})
	require.NotNil(t, got)
	assert.Equal(t, exact.token, got.token, "exact scope match wins over older entry")

	got = ledger.matchProductsQuery([]string{"z"})
	require.NotNil(t, got)
	assert.Equal(t, broad.token, got.token, "falls back to oldest pending query")

	ledger.resolve(broad.token, nil)
	ledger.resolve(exact.token, nil)
	assert.Nil(t, ledger.matchProductsQuery([]string{"a", "b"}))
}
