package ledger

import (
	"bytes"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/commerceblock/spvledger/txrecord"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

var (
	testParams = &chaincfg.RegressionNetParams

	testWhitelistAsset = txrecord.Asset{0xd1, 0x09}

	alice = mustAddr(0xa1)
	bob   = mustAddr(0xb0)
	carol = mustAddr(0xc0)
	sink  = mustAddr(0x5e)

	// stranger is never watched.
	stranger = mustAddr(0xee)

	// external is an outpoint of a transaction the ledger never sees.
	external = wire.OutPoint{Hash: chainhash.Hash{0xff}, Index: 0}
)

func mustAddr(b byte) string {
	addr, err := btcutil.NewAddressPubKeyHash(
		bytes.Repeat([]byte{b}, 20), testParams,
	)
	if err != nil {
		panic(err)
	}

	return addr.EncodeAddress()
}

// memStorage is an in-memory Storage that tracks what was flushed.
type memStorage struct {
	mu      sync.Mutex
	staged  map[string][]byte
	flushed map[string][]byte
	flushes int
}

func newMemStorage() *memStorage {
	return &memStorage{
		staged:  make(map[string][]byte),
		flushed: make(map[string][]byte),
	}
}

func (m *memStorage) Get(key string) (fn.Option[[]byte], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if v, ok := m.staged[key]; ok {
		return fn.Some(v), nil
	}
	if v, ok := m.flushed[key]; ok {
		return fn.Some(v), nil
	}

	return fn.None[[]byte](), nil
}

func (m *memStorage) Put(key string, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.staged[key] = value
}

func (m *memStorage) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, v := range m.staged {
		m.flushed[k] = v
	}
	m.staged = make(map[string][]byte)
	m.flushes++

	return nil
}

func (m *memStorage) numFlushes() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.flushes
}

// durable returns a storage holding only the flushed values, as seen after
// a crash.
func (m *memStorage) durable() *memStorage {
	m.mu.Lock()
	defer m.mu.Unlock()

	d := newMemStorage()
	for k, v := range m.flushed {
		d.flushed[k] = v
	}

	return d
}

type mockVerifier struct {
	mu        sync.Mutex
	cancelled []chainhash.Hash
	upToDate  atomic.Bool
}

func (v *mockVerifier) CancelPendingProof(txid chainhash.Hash) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.cancelled = append(v.cancelled, txid)
}

func (v *mockVerifier) IsUpToDate() bool {
	return v.upToDate.Load()
}

func (v *mockVerifier) wasCancelled(txid chainhash.Hash) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	for _, c := range v.cancelled {
		if c == txid {
			return true
		}
	}

	return false
}

func (v *mockVerifier) reset() {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.cancelled = nil
}

type mockWatcher struct {
	mu        sync.Mutex
	watched   []string
	whitelist map[string]bool
}

func newMockWatcher() *mockWatcher {
	return &mockWatcher{whitelist: make(map[string]bool)}
}

func (w *mockWatcher) WatchAddress(addr string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.watched = append(w.watched, addr)
}

func (w *mockWatcher) WatchWhitelist(addr string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.whitelist[addr] = true
}

func (w *mockWatcher) UnwatchWhitelist(addr string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	delete(w.whitelist, addr)
}

// fakeChain is a chain source with a settable tip and sparse headers.
type fakeChain struct {
	mu      sync.Mutex
	height  int32
	headers map[int32]wire.BlockHeader
}

func newFakeChain(height int32) *fakeChain {
	return &fakeChain{
		height:  height,
		headers: make(map[int32]wire.BlockHeader),
	}
}

func (c *fakeChain) setHeight(h int32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.height = h
}

func (c *fakeChain) setHeader(h int32, hdr wire.BlockHeader) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.headers[h] = hdr
}

func (c *fakeChain) LocalHeight() int32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.height
}

func (c *fakeChain) ReadHeaderAt(h int32) fn.Option[wire.BlockHeader] {
	c.mu.Lock()
	defer c.mu.Unlock()

	hdr, ok := c.headers[h]
	if !ok {
		return fn.None[wire.BlockHeader]()
	}

	return fn.Some(hdr)
}

func (c *fakeChain) HeaderHash(hdr *wire.BlockHeader) chainhash.Hash {
	return hdr.BlockHash()
}

type testHarness struct {
	*Ledger

	storage  *memStorage
	chain    *fakeChain
	verifier *mockVerifier
	watcher  *mockWatcher
}

func newHarnessConfig(storage *memStorage, chain *fakeChain) *Config {
	cfg := &Config{
		Params: ChainParams{
			Net:              testParams,
			WhitelistAsset:   testWhitelistAsset,
			WhitelistSink:    sink,
			CoinbaseMaturity: 100,
		},
		Storage:  storage,
		Decoder:  &txrecord.WireDecoder{Params: testParams},
		Verifier: &mockVerifier{},
		Watcher:  newMockWatcher(),
	}
	if chain != nil {
		cfg.Chain = chain
	}

	return cfg
}

func newHarnessFrom(t *testing.T, cfg *Config) *testHarness {
	t.Helper()

	l, err := New(cfg)
	require.NoError(t, err)

	h := &testHarness{Ledger: l}
	if s, ok := cfg.Storage.(*memStorage); ok {
		h.storage = s
	}
	if c, ok := cfg.Chain.(*fakeChain); ok {
		h.chain = c
	}
	if v, ok := cfg.Verifier.(*mockVerifier); ok {
		h.verifier = v
	}
	if w, ok := cfg.Watcher.(*mockWatcher); ok {
		h.watcher = w
	}

	return h
}

// newHarness returns a ledger at local height 200 watching the given
// addresses.
func newHarness(t *testing.T, addrs ...string) *testHarness {
	t.Helper()

	h := newHarnessFrom(
		t, newHarnessConfig(newMemStorage(), newFakeChain(200)),
	)
	for _, addr := range addrs {
		require.NoError(t, h.AddAddress(addr))
	}

	return h
}

// payTo is an output paying value to addr.
func payTo(addr string, value int64) txrecord.TxOut {
	return txrecord.TxOut{
		Kind:     txrecord.KindAddress,
		Address:  addr,
		Value:    value,
		PkScript: []byte(addr),
	}
}

// makeTx builds a transaction with the given id spending spends.
func makeTx(id byte, spends []wire.OutPoint, outs ...txrecord.TxOut) *txrecord.Tx {
	tx := &txrecord.Tx{
		Hash:    chainhash.Hash{id},
		Outputs: outs,
	}
	for _, op := range spends {
		tx.Inputs = append(tx.Inputs, txrecord.TxIn{PrevOut: op})
	}

	return tx
}

func coinbaseTx(id byte, outs ...txrecord.TxOut) *txrecord.Tx {
	return &txrecord.Tx{
		Hash:    chainhash.Hash{id},
		Inputs:  []txrecord.TxIn{{Coinbase: true}},
		Outputs: outs,
	}
}

func ops(list ...wire.OutPoint) []wire.OutPoint {
	return list
}

// receive feeds tx at height and requires it to be accepted.
func (h *testHarness) receive(t *testing.T, tx *txrecord.Tx, height int32) {
	t.Helper()

	added, err := h.ReceiveTx(tx.TxID(), tx, height)
	require.NoError(t, err)
	require.True(t, added, "tx %v refused", tx.TxID())
}
