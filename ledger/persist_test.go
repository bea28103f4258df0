package ledger

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/commerceblock/spvledger/ledgerdb"
	"github.com/commerceblock/spvledger/proofstate"
	"github.com/commerceblock/spvledger/txrecord"
	"github.com/lightningnetwork/lnd/kvdb"
	"github.com/stretchr/testify/require"
)

// reopen loads a fresh ledger from storage with a chain at height.
func reopen(t *testing.T, storage *memStorage, height int32) *testHarness {
	t.Helper()

	return newHarnessFrom(
		t, newHarnessConfig(storage, newFakeChain(height)),
	)
}

// populate fills h with a small wallet: a verified funding tx, an
// unverified spend, a published key and a whitelist watch.
func populate(t *testing.T, h *testHarness) (fund, spend chainhash.Hash) {
	t.Helper()

	f := makeTx(1, ops(external), payTo(alice, 100))
	s := makeTx(2, ops(f.OutPoint(0)), payTo(bob, 60), payTo(alice, 39))

	require.NoError(t, h.ReceiveHistory(alice, []HistoryItem{
		{TxID: f.TxID(), Height: 10},
		{TxID: s.TxID(), Height: 0},
	}, map[chainhash.Hash]int64{s.TxID(): 1}, false))
	h.receive(t, f, 10)
	h.receive(t, s, 0)

	h.AddVerified(f.TxID(), proofstate.VerifiedInfo{
		Height: 10, TxPos: 4, HeaderHash: chainhash.Hash{0x10},
	})
	h.AssignKey(testKey1, wire.OutPoint{Hash: chainhash.Hash{0x77}})
	h.SetKYCPubKey(testKey2)
	require.NoError(t, h.AddWhitelistAddress(carol))

	return f.TxID(), s.TxID()
}

// TestStopReopen asserts a clean shutdown persists everything.
func TestStopReopen(t *testing.T) {
	t.Parallel()

	h := newHarness(t, alice, bob)
	fund, spend := populate(t, h)

	wantBalance := h.Balance(nil)
	wantHistory := h.History(nil)
	require.Len(t, wantHistory, 2)

	require.NoError(t, h.Stop())
	require.NoError(t, h.Stop())
	require.ErrorIs(t, h.Checkpoint(), ErrLedgerShuttingDown)

	r := reopen(t, h.storage.durable(), 200)

	require.Equal(t, wantBalance, r.Balance(nil))
	require.Equal(t, wantHistory, r.History(nil))
	require.ElementsMatch(t, []string{alice, bob, carol}, r.Addresses())
	require.True(t, r.IsWhitelistAddress(carol))
	require.Equal(t, int64(1), r.TxFee(spend).UnwrapOr(0))

	status := r.TxMinedStatus(fund)
	require.Equal(t, int32(10), status.Height)
	require.Equal(t, chainhash.Hash{0x10}, status.HeaderHash.UnwrapOr(
		chainhash.Hash{},
	))
	require.Equal(t, int32(0), r.TxMinedStatus(spend).Height)

	require.True(t, r.IsUnassignedKey(testKey1))
	require.Equal(t, testKey2, r.KYCPubKey().UnwrapOr(""))

	// Without a chain source the height stored on shutdown is used.
	offline := newHarnessFrom(
		t, newHarnessConfig(h.storage.durable(), nil),
	)
	require.Equal(t, int32(200), offline.LocalHeight())

	// Start resubscribes every address.
	require.NoError(t, r.Start())
	t.Cleanup(func() {
		require.NoError(t, r.Stop())
	})
	require.ElementsMatch(t, []string{alice, bob, carol}, r.watcher.watched)
	require.True(t, r.watcher.whitelist[carol])
}

// TestCrashRecovery asserts catching up checkpoints the graph but not the
// proofs while the verifier lags, and that later staged writes are lost in a
// crash.
func TestCrashRecovery(t *testing.T) {
	t.Parallel()

	h := newHarness(t, alice, bob)
	fund, spend := populate(t, h)

	require.NoError(t, h.SetUpToDate(true))
	require.True(t, h.IsUpToDate())
	require.Equal(t, 1, h.storage.numFlushes())

	late := makeTx(
		3, ops(wire.OutPoint{Hash: chainhash.Hash{0xfe}}),
		payTo(alice, 7),
	)
	h.receive(t, late, 50)

	r := reopen(t, h.storage.durable(), 200)

	_, ok := r.Transaction(late.TxID())
	require.False(t, ok)
	_, ok = r.Transaction(spend)
	require.True(t, ok)

	// The proof was never flushed, the reported height survives.
	status := r.TxMinedStatus(fund)
	require.Equal(t, int32(10), status.Height)
	require.True(t, status.HeaderHash.IsNone())
	require.False(t, r.IsUnassignedKey(testKey1))

	require.Equal(t, h.Balance(nil).Total()-7, r.Balance(nil).Total())
}

// TestSetUpToDate covers when catching up flushes proofs and credentials.
func TestSetUpToDate(t *testing.T) {
	t.Parallel()

	h := newHarness(t, alice, bob)
	fund, _ := populate(t, h)

	require.NoError(t, h.SetUpToDate(false))
	require.Zero(t, h.storage.numFlushes())
	require.False(t, h.IsUpToDate())

	h.verifier.upToDate.Store(true)
	require.NoError(t, h.SetUpToDate(true))
	require.Equal(t, 1, h.storage.numFlushes())

	r := reopen(t, h.storage.durable(), 200)
	require.True(t, r.TxMinedStatus(fund).HeaderHash.IsSome())
	require.True(t, r.IsUnassignedKey(testKey1))

	// Checkpoint always writes everything.
	h.AssignKey(testKey2, wire.OutPoint{Hash: chainhash.Hash{0x78}})
	require.NoError(t, h.Checkpoint())
	r = reopen(t, h.storage.durable(), 200)
	require.True(t, r.IsUnassignedKey(testKey2))
}

// TestClearHistory asserts clearing forgets the graph but keeps the
// credentials.
func TestClearHistory(t *testing.T) {
	t.Parallel()

	h := newHarness(t, alice, bob)
	populate(t, h)
	require.NoError(t, h.Checkpoint())

	require.NoError(t, h.ClearHistory())
	require.Empty(t, h.Addresses())
	require.Zero(t, h.Balance(nil).Total())
	require.Empty(t, h.UnverifiedTxs())
	require.True(t, h.IsUnassignedKey(testKey1))

	r := reopen(t, h.storage.durable(), 200)
	require.Zero(t, r.Stats().Transactions)
	require.Zero(t, r.Stats().Addresses)
	require.True(t, r.IsUnassignedKey(testKey1))
	require.Equal(t, testKey2, r.KYCPubKey().UnwrapOr(""))
}

// TestLoadCleanup asserts inconsistent snapshots are reconciled on load.
func TestLoadCleanup(t *testing.T) {
	t.Parallel()

	t.Run("local tx without body", func(t *testing.T) {
		h := newHarness(t, alice)

		reported := makeTx(1, ops(external), payTo(alice, 10))
		local := makeTx(
			2, ops(wire.OutPoint{Hash: chainhash.Hash{0xfe}}),
			payTo(alice, 20),
		)
		require.NoError(t, h.ReceiveHistory(alice, []HistoryItem{
			{TxID: reported.TxID(), Height: 5},
		}, nil, false))
		h.receive(t, reported, 5)
		added, err := h.AddTransaction(local, false)
		require.NoError(t, err)
		require.True(t, added)
		require.NoError(t, h.Checkpoint())

		storage := h.storage.durable()
		delete(storage.flushed, keyTransactions)

		r := reopen(t, storage, 200)
		require.Equal(t, []HistoryItem{{TxID: reported.TxID(), Height: 5}},
			r.AddressHistory(alice))
		require.Equal(t, Balance{Confirmed: 10}, r.AddrBalance(alice))
	})

	t.Run("unindexed body", func(t *testing.T) {
		h := newHarness(t, alice)

		tx := makeTx(1, ops(external), payTo(alice, 10))
		h.receive(t, tx, 5)
		require.NoError(t, h.Checkpoint())

		storage := h.storage.durable()
		delete(storage.flushed, keyTxi)
		delete(storage.flushed, keyTxo)

		r := reopen(t, storage, 200)
		_, ok := r.Transaction(tx.TxID())
		require.False(t, ok)
	})

	t.Run("address of another network", func(t *testing.T) {
		mainCfg := newHarnessConfig(newMemStorage(), newFakeChain(200))
		mainCfg.Params.Net = &chaincfg.MainNetParams
		m := newHarnessFrom(t, mainCfg)

		mainAddr, err := btcutil.NewAddressPubKeyHash(
			bytes.Repeat([]byte{0xa1}, 20), &chaincfg.MainNetParams,
		)
		require.NoError(t, err)
		require.NoError(t, m.AddAddress(mainAddr.EncodeAddress()))
		require.NoError(t, m.Stop())

		r := reopen(t, m.storage.durable(), 200)
		require.Empty(t, r.Addresses())
	})
}

// TestBoltRoundTrip runs a ledger over the bolt backed store.
func TestBoltRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ledger.db")
	open := func() (*ledgerdb.Store, *Ledger) {
		db, err := ledgerdb.OpenBolt(path, true, kvdb.DefaultDBTimeout)
		require.NoError(t, err)
		store, err := ledgerdb.NewStore(db)
		require.NoError(t, err)

		cfg := newHarnessConfig(nil, newFakeChain(200))
		cfg.Storage = store
		l, err := New(cfg)
		require.NoError(t, err)

		return store, l
	}

	store, l := open()
	require.NoError(t, l.AddAddress(alice))

	// Only heights carried by the address history survive a reload, a
	// height seen with the body alone is rebuilt as unconfirmed.
	reported := makeTx(1, ops(external), payTo(alice, 42))
	bodyOnly := makeTx(
		2, ops(wire.OutPoint{Hash: chainhash.Hash{0xfe}}),
		payTo(alice, 8),
	)
	require.NoError(t, l.ReceiveHistory(alice, []HistoryItem{
		{TxID: reported.TxID(), Height: 3},
	}, nil, false))
	for _, tx := range []*txrecord.Tx{reported, bodyOnly} {
		added, err := l.ReceiveTx(tx.TxID(), tx, 3)
		require.NoError(t, err)
		require.True(t, added)
	}
	require.Equal(t, Balance{Confirmed: 50}, l.Balance(nil))
	require.NoError(t, l.Stop())
	require.NoError(t, store.Close())

	store, l = open()
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	require.Equal(t, Balance{Confirmed: 42, Unconfirmed: 8}, l.Balance(nil))
	require.Equal(t, int32(3), l.TxMinedStatus(reported.TxID()).Height)
	require.Equal(t, proofstate.HeightLocal,
		l.TxMinedStatus(bodyOnly.TxID()).Height)

	keys, err := store.Keys()
	require.NoError(t, err)
	for _, key := range []string{keyTransactions, keyTxi, keyTxo} {
		require.Contains(t, keys, key)
	}
}
