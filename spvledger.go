// Package spvledger wires the transaction ledger into a daemon: it loads the
// configuration, opens the ledger database, hosts the ledger for an attached
// server feed and checkpoints it until shutdown.
package spvledger

import (
	"bytes"
	"fmt"
	"time"

	"github.com/commerceblock/spvledger/build"
	"github.com/commerceblock/spvledger/headerchain"
	"github.com/commerceblock/spvledger/ledger"
	"github.com/commerceblock/spvledger/ledgerdb"
	"github.com/commerceblock/spvledger/monitoring"
	"github.com/commerceblock/spvledger/signal"
	"github.com/lightningnetwork/lnd/ticker"
)

// headerChainKey stores the local header chain next to the ledger blobs.
const headerChainKey = "header_chain"

// Collaborators are the optional network side components. A nil field runs
// the ledger without it.
type Collaborators struct {
	// Chain replaces the header chain kept in the ledger database.
	Chain ledger.ChainSource

	Verifier ledger.Verifier
	Watcher  ledger.Watcher

	// OnLedger is called once the ledger is running, so the feed can be
	// pointed at it.
	OnLedger func(*ledger.Ledger)
}

// Main is the true entry point of the daemon. It blocks until the
// interceptor signals shutdown.
func Main(cfg *Config, deps Collaborators,
	interceptor signal.Interceptor) error {

	err := rootLogger.InitLogRotator(cfg.LogConfig, cfg.logFile())
	if err != nil {
		return fmt.Errorf("unable to init log rotator: %w", err)
	}
	defer func() {
		_ = rootLogger.Close()
	}()

	// Critical log messages stop the daemon.
	shutdownLog := build.NewShutdownLogger(
		spvlLog, interceptor.RequestShutdown,
	)

	spvlLog.Infof("Starting ledger daemon: %v", cfg)

	store, err := cfg.DB.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			spvlLog.Errorf("Unable to close ledger db: %v", err)
		}
	}()

	headers, err := loadHeaderChain(store)
	if err != nil {
		return err
	}
	chain := deps.Chain
	if chain == nil {
		chain = headers
	}

	ledgerCfg := &ledger.Config{
		Params: cfg.params.LedgerParams(
			cfg.Chain.CoinbaseMaturity,
		),
		Storage:  store,
		Decoder:  cfg.params.Decoder(),
		Chain:    chain,
		Verifier: deps.Verifier,
		Watcher:  deps.Watcher,
		OnVerified: func(ev *ledger.VerifiedEvent) {
			spvlLog.Debugf("Transaction %v verified at height %d",
				ev.TxID, ev.Status.Height)
		},
		StaleTimeout: cfg.Reorg.StaleTimeout,
	}
	if cfg.Reorg.StaleTimeout > 0 {
		ledgerCfg.SweepTicker = ticker.New(cfg.Reorg.SweepInterval)
	}

	l, err := ledger.New(ledgerCfg)
	if err != nil {
		shutdownLog.Criticalf("Unable to load ledger: %v", err)
		return err
	}

	for _, addr := range cfg.Watch {
		if err := l.AddAddress(addr); err != nil {
			return err
		}
	}
	for _, addr := range cfg.WhitelistWatch {
		if err := l.AddWhitelistAddress(addr); err != nil {
			return err
		}
	}

	if err := l.Start(); err != nil {
		return err
	}
	defer func() {
		// The header chain is staged first so the ledger's final
		// flush writes it as well.
		if deps.Chain == nil {
			stageHeaderChain(store, headers)
		}
		if err := l.Stop(); err != nil {
			spvlLog.Errorf("Unable to stop ledger: %v", err)
		}
	}()

	if cfg.Prometheus.Enabled() {
		exporter, err := monitoring.NewExporter(cfg.Prometheus, l)
		if err != nil {
			return err
		}
		if err := exporter.Start(); err != nil {
			return err
		}
		defer func() {
			_ = exporter.Stop()
		}()
	}

	if deps.OnLedger != nil {
		deps.OnLedger(l)
	}

	stats := l.Stats()
	spvlLog.Infof("Ledger ready: %d transactions over %d addresses, "+
		"local height %d", stats.Transactions, stats.Addresses,
		stats.LocalHeight)

	var checkpoints ticker.Ticker
	if cfg.Checkpoint.Interval > 0 {
		checkpoints = ticker.New(cfg.Checkpoint.Interval)
	}

	return runCheckpoints(l, checkpoints, interceptor.ShutdownChannel())
}

// runCheckpoints checkpoints l on every tick until quit is closed. A nil
// ticker only waits.
func runCheckpoints(l *ledger.Ledger, t ticker.Ticker,
	quit <-chan struct{}) error {

	if t == nil {
		<-quit
		return nil
	}

	t.Resume()
	defer t.Stop()

	for {
		select {
		case <-t.Ticks():
			start := time.Now()
			if err := l.Checkpoint(); err != nil {
				return fmt.Errorf("checkpoint failed: %w", err)
			}
			spvlLog.Debugf("Checkpoint written in %v",
				time.Since(start))

		case <-quit:
			return nil
		}
	}
}

// loadHeaderChain reads the stored header chain, or returns an empty one
// based at height 1.
func loadHeaderChain(store *ledgerdb.Store) (*headerchain.Chain, error) {
	chain := headerchain.New(1)

	blob, err := store.Get(headerChainKey)
	if err != nil {
		return nil, err
	}
	if blob.IsNone() {
		return chain, nil
	}

	err = chain.Decode(bytes.NewReader(blob.UnwrapOr(nil)))
	if err != nil {
		return nil, fmt.Errorf("unable to decode header chain: %w", err)
	}

	return chain, nil
}

// stageHeaderChain stages the header chain for the next flush.
func stageHeaderChain(store *ledgerdb.Store, chain *headerchain.Chain) {
	blob, err := chain.EncodeBytes()
	if err != nil {
		spvlLog.Errorf("Unable to encode header chain: %v", err)
		return
	}

	store.Put(headerChainKey, blob)
}
