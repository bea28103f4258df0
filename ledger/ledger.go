// Package ledger keeps the wallet's view of the transactions touching its
// addresses. It resolves conflicting spends reported by an untrusted feed,
// tracks which heights are backed by SPV proofs and projects balances,
// unspent outputs and history from that state.
package ledger

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/commerceblock/spvledger/credentials"
	"github.com/commerceblock/spvledger/proofstate"
	"github.com/commerceblock/spvledger/txrecord"
	"github.com/commerceblock/spvledger/txstore"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/queue"
	"github.com/lightningnetwork/lnd/ticker"
)

const (
	// DefaultCoinbaseMaturity is the number of blocks a coinbase output
	// needs before it counts as confirmed.
	DefaultCoinbaseMaturity = 100

	// ntfnQueueSize is the initial buffer of the verified notification
	// queue.
	ntfnQueueSize = 20
)

// ChainParams are the network constants the ledger needs.
type ChainParams struct {
	// Net encodes and decodes addresses.
	Net *chaincfg.Params

	// WhitelistAsset tags outputs carrying policy credentials.
	WhitelistAsset txrecord.Asset

	// WhitelistSink is the policy issuer's own address. Whitelist outputs
	// paying it are never watched.
	WhitelistSink string

	// CoinbaseMaturity is the coinbase maturity window in blocks.
	CoinbaseMaturity int32
}

// Config holds the collaborators of a Ledger.
type Config struct {
	Params ChainParams

	// Storage persists ledger snapshots. It is required.
	Storage Storage

	// Decoder turns raw bodies delivered by the feed into transactions.
	Decoder txrecord.Decoder

	// Chain is the local header chain. When nil the height stored on
	// the last shutdown is used as the local height.
	Chain ChainSource

	// Verifier is the SPV verifier, nil when running offline.
	Verifier Verifier

	// Watcher receives address subscriptions, nil when running offline.
	Watcher Watcher

	// OnVerified, if set, is called from a dedicated goroutine for every
	// proof delivered through AddVerified.
	OnVerified func(*VerifiedEvent)

	Clock clock.Clock

	// StaleTimeout turns reorg-demoted entries local if the feed sends no
	// update for them within the timeout. Zero disables expiry.
	StaleTimeout time.Duration

	// SweepTicker drives the stale entry sweeper. It is only used when
	// StaleTimeout is set.
	SweepTicker ticker.Ticker
}

// VerifiedEvent is delivered once a proof for TxID has been accepted.
type VerifiedEvent struct {
	TxID   chainhash.Hash
	Status proofstate.TxMinedStatus
}

// Ledger is the wallet's transaction ledger.
//
// Two locks guard its state. stateMtx covers the verification state, the
// address histories, the credential ledger and the flags. graphMtx covers
// the transaction store. Paths needing both always take stateMtx first and
// only do so through lockAll and rlockAll.
type Ledger struct {
	started atomic.Bool
	stopped atomic.Bool

	cfg *Config

	// storedHeight is the local height persisted on the last shutdown.
	storedHeight atomic.Int32

	stateMtx sync.RWMutex

	proofs *proofstate.Machine

	// history maps every watched address to its history as last
	// reported by the feed.
	history map[string][]HistoryItem

	// whitelistAddrs is the subset of watched addresses subscribed as
	// whitelist watches.
	whitelistAddrs map[string]struct{}

	creds *credentials.Ledger

	fees map[chainhash.Hash]int64

	upToDate bool

	graphMtx sync.RWMutex

	store *txstore.Store

	ntfnQueue *queue.ConcurrentQueue

	quit chan struct{}
	wg   sync.WaitGroup
}

// New creates a ledger and loads its persisted state.
func New(cfg *Config) (*Ledger, error) {
	if cfg.Storage == nil {
		return nil, errors.New("ledger storage is required")
	}
	if cfg.Params.Net == nil {
		return nil, errors.New("ledger network params are required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	if cfg.Params.CoinbaseMaturity == 0 {
		cfg.Params.CoinbaseMaturity = DefaultCoinbaseMaturity
	}
	if cfg.StaleTimeout > 0 && cfg.SweepTicker == nil {
		return nil, errors.New("stale timeout set without sweep ticker")
	}

	l := &Ledger{
		cfg:            cfg,
		proofs:         proofstate.New(cfg.Clock),
		history:        make(map[string][]HistoryItem),
		whitelistAddrs: make(map[string]struct{}),
		creds:          credentials.New(),
		fees:           make(map[chainhash.Hash]int64),
		store:          txstore.New(cfg.Params.Net),
		ntfnQueue:      queue.NewConcurrentQueue(ntfnQueueSize),
		quit:           make(chan struct{}),
	}

	if err := l.load(); err != nil {
		return nil, fmt.Errorf("unable to load ledger: %w", err)
	}

	return l, nil
}

// Start launches the notification dispatcher and the stale sweeper, and
// subscribes every watched address.
func (l *Ledger) Start() error {
	if !l.started.CompareAndSwap(false, true) {
		return nil
	}

	log.Info("Ledger starting")

	l.ntfnQueue.Start()

	l.wg.Add(1)
	go l.notificationDispatcher()

	if l.cfg.StaleTimeout > 0 {
		l.wg.Add(1)
		go l.staleSweeper()
	}

	var fx effects
	l.stateMtx.RLock()
	for _, addr := range l.addressesLocked() {
		if _, ok := l.whitelistAddrs[addr]; ok {
			fx.watchWhitelist = append(fx.watchWhitelist, addr)
		}
		fx.watch = append(fx.watch, addr)
	}
	l.stateMtx.RUnlock()
	l.apply(&fx)

	return nil
}

// Stop persists the full ledger and shuts down its goroutines.
func (l *Ledger) Stop() error {
	if !l.stopped.CompareAndSwap(false, true) {
		return nil
	}

	log.Info("Ledger shutting down...")
	defer log.Debug("Ledger shutdown complete")

	if l.cfg.Chain != nil {
		l.storedHeight.Store(l.cfg.Chain.LocalHeight())
	}

	unlock := l.rlockAll()
	l.saveTransactionsLocked()
	l.saveVerifiedLocked()
	l.saveCredentialsLocked()
	l.saveStoredHeight()
	unlock()

	close(l.quit)
	l.wg.Wait()

	if l.started.Load() {
		l.ntfnQueue.Stop()
	}

	return l.cfg.Storage.Flush()
}

// lockAll takes both locks for writing in the global order.
func (l *Ledger) lockAll() func() {
	l.stateMtx.Lock()
	l.graphMtx.Lock()

	return func() {
		l.graphMtx.Unlock()
		l.stateMtx.Unlock()
	}
}

// rlockAll takes both locks for reading in the global order.
func (l *Ledger) rlockAll() func() {
	l.stateMtx.RLock()
	l.graphMtx.RLock()

	return func() {
		l.graphMtx.RUnlock()
		l.stateMtx.RUnlock()
	}
}

// effects collects the collaborator calls a locked section wants to make.
// They are applied by apply once every lock is released.
type effects struct {
	cancel           []chainhash.Hash
	watch            []string
	watchWhitelist   []string
	unwatchWhitelist []string
	verified         []*VerifiedEvent
}

func (fx *effects) cancelProof(txid chainhash.Hash) {
	fx.cancel = append(fx.cancel, txid)
}

// apply performs the collected collaborator calls.
//
// NOTE: must be called without holding any ledger lock.
func (l *Ledger) apply(fx *effects) {
	if v := l.cfg.Verifier; v != nil {
		for _, txid := range fx.cancel {
			v.CancelPendingProof(txid)
		}
	}

	if w := l.cfg.Watcher; w != nil {
		for _, addr := range fx.unwatchWhitelist {
			w.UnwatchWhitelist(addr)
		}
		for _, addr := range fx.watchWhitelist {
			w.WatchWhitelist(addr)
		}
		for _, addr := range fx.watch {
			w.WatchAddress(addr)
		}
	}

	for _, ev := range fx.verified {
		l.notifyVerified(ev)
	}
}

// readCtx pins the local height for the duration of one read request so
// every sub-computation sees the same chain tip.
type readCtx struct {
	localHeight int32
}

// newReadCtx samples the local height.
//
// NOTE: must be called without holding any ledger lock, the chain source
// may be slow.
func (l *Ledger) newReadCtx() readCtx {
	return readCtx{localHeight: l.LocalHeight()}
}

// LocalHeight returns the chain source's tip height, or the height stored on
// the last shutdown when no chain source is attached.
func (l *Ledger) LocalHeight() int32 {
	if l.cfg.Chain != nil {
		return l.cfg.Chain.LocalHeight()
	}

	return l.storedHeight.Load()
}

// Params returns the ledger's chain parameters.
func (l *Ledger) Params() ChainParams {
	return l.cfg.Params
}

// IsUpToDate reports whether the feed has delivered a complete view.
func (l *Ledger) IsUpToDate() bool {
	l.stateMtx.RLock()
	defer l.stateMtx.RUnlock()

	return l.upToDate
}

// TxFee returns the fee the feed reported for txid.
func (l *Ledger) TxFee(txid chainhash.Hash) fn.Option[int64] {
	l.stateMtx.RLock()
	defer l.stateMtx.RUnlock()

	fee, ok := l.fees[txid]
	if !ok {
		return fn.None[int64]()
	}

	return fn.Some(fee)
}
