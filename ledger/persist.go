package ledger

import (
	"bytes"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/commerceblock/spvledger/proofstate"
	"github.com/commerceblock/spvledger/txrecord"
)

// Logical storage keys of the ledger snapshots.
const (
	keyTransactions   = "transactions"
	keyTxi            = "txi"
	keyTxo            = "txo"
	keyTxFees         = "tx_fees"
	keyAddrHistory    = "addr_history"
	keySpentOutpoints = "spent_outpoints"
	keyVerified       = "verified_tx"
	keyStoredHeight   = "stored_height"
	keyCredentials    = "unassigned_kyc_pubkeys"
	keyKYCProfile     = "kyc_profile"
	keyWhitelistAddrs = "whitelist_addrs"
)

// StorageKeys lists every key the ledger persists.
var StorageKeys = []string{
	keyTransactions, keyTxi, keyTxo, keyTxFees, keyAddrHistory,
	keySpentOutpoints, keyVerified, keyStoredHeight, keyCredentials,
	keyKYCProfile, keyWhitelistAddrs,
}

// load reads every snapshot and reconciles them.
func (l *Ledger) load() error {
	unlock := l.lockAll()
	defer unlock()

	decoders := []struct {
		key    string
		decode func(io.Reader) error
	}{
		{keyCredentials, l.creds.DecodeEntries},
		{keyKYCProfile, l.creds.DecodeProfile},
		{keyAddrHistory, func(r io.Reader) error {
			history, err := decodeHistory(r)
			if err == nil {
				l.history = history
			}
			return err
		}},
		{keyWhitelistAddrs, func(r io.Reader) error {
			set, err := decodeAddrSet(r)
			if err == nil {
				l.whitelistAddrs = set
			}
			return err
		}},
		{keyVerified, l.proofs.DecodeVerified},
		{keyTxi, l.store.DecodeInputs},
		{keyTxo, l.store.DecodeOutputs},
		{keyTxFees, func(r io.Reader) error {
			fees, err := decodeFees(r)
			if err == nil {
				l.fees = fees
			}
			return err
		}},
		{keyTransactions, l.store.DecodeBodies},
		{keySpentOutpoints, l.store.DecodeSpent},
		{keyStoredHeight, func(r io.Reader) error {
			height, err := decodeHeight(r)
			if err == nil {
				l.storedHeight.Store(height)
			}
			return err
		}},
	}

	for _, d := range decoders {
		blob, err := l.cfg.Storage.Get(d.key)
		if err != nil {
			return fmt.Errorf("read %v: %w", d.key, err)
		}
		if blob.IsNone() {
			continue
		}

		r := bytes.NewReader(blob.UnsafeFromSome())
		if err := d.decode(r); err != nil {
			return fmt.Errorf("decode %v: %w", d.key, err)
		}
	}

	return l.cleanupLocked()
}

// cleanupLocked reconciles the loaded snapshots, which may come from
// different checkpoints.
//
// NOTE: must be called with stateMtx and graphMtx held for writing.
func (l *Ledger) cleanupLocked() error {
	for _, txid := range l.store.TxIDs().Sorted() {
		if l.store.IsIndexed(txid) {
			continue
		}

		log.Infof("Removing unreferenced tx %v", txid)
		l.store.DropBody(txid)
	}

	l.store.ReindexLocalHistory()

	var reindexed bool
	for _, addr := range l.addressesLocked() {
		if !txrecord.ValidAddress(addr, l.cfg.Params.Net) {
			log.Warnf("Dropping history of address %v, not valid "+
				"on %v", addr, l.cfg.Params.Net.Name)
			delete(l.history, addr)
			delete(l.whitelistAddrs, addr)
			reindexed = true
			continue
		}

		for _, item := range l.history[addr] {
			if l.store.HasRows(item.TxID) {
				continue
			}
			tx, ok := l.store.Get(item.TxID)
			if !ok {
				continue
			}
			if _, err := l.addTransactionLocked(tx, true); err != nil {
				return err
			}
			reindexed = true
		}
	}
	if reindexed {
		l.saveTransactionsLocked()
	}

	for _, addr := range l.addressesLocked() {
		for _, item := range l.history[addr] {
			// Proof cancellation is moot before any verifier runs.
			var fx effects
			l.observeHeightLocked(item.TxID, item.Height, &fx)
		}
	}

	for _, txid := range l.store.Indexed().Sorted() {
		if l.proofs.Height(txid) != proofstate.HeightLocal ||
			l.store.Has(txid) {

			continue
		}

		log.Infof("Removing local tx %v without body", txid)
		l.store.Remove(txid)
	}

	log.Infof("Loaded ledger: %d txs, %d addresses, %d verified, "+
		"%d unverified", l.store.Len(), len(l.history),
		l.proofs.NumVerified(), l.proofs.NumUnverified())

	return nil
}

// put encodes a snapshot and stages it under key.
func (l *Ledger) put(key string, encode func(io.Writer) error) {
	var b bytes.Buffer
	if err := encode(&b); err != nil {
		// Encoding into memory only fails on a broken invariant.
		log.Criticalf("Unable to encode %v: %v", key, err)
		return
	}

	l.cfg.Storage.Put(key, b.Bytes())
}

// NOTE: must be called with stateMtx and graphMtx held.
func (l *Ledger) saveTransactionsLocked() {
	l.put(keyTransactions, l.store.EncodeBodies)
	l.put(keyTxi, l.store.EncodeInputs)
	l.put(keyTxo, l.store.EncodeOutputs)
	l.put(keySpentOutpoints, l.store.EncodeSpent)
	l.put(keyTxFees, func(w io.Writer) error {
		return encodeFees(w, l.fees)
	})
	l.put(keyAddrHistory, func(w io.Writer) error {
		return encodeHistory(w, l.history)
	})
	l.put(keyWhitelistAddrs, func(w io.Writer) error {
		return encodeAddrSet(w, l.whitelistAddrs)
	})
	l.put(keyKYCProfile, l.creds.EncodeProfile)
}

// NOTE: must be called with stateMtx held.
func (l *Ledger) saveVerifiedLocked() {
	l.put(keyVerified, l.proofs.EncodeVerified)
}

// NOTE: must be called with stateMtx held.
func (l *Ledger) saveCredentialsLocked() {
	l.put(keyCredentials, l.creds.EncodeEntries)
}

func (l *Ledger) saveStoredHeight() {
	height := l.storedHeight.Load()
	l.put(keyStoredHeight, func(w io.Writer) error {
		return encodeHeight(w, height)
	})
}

// SetUpToDate records whether the feed has caught up. Catching up
// checkpoints the transaction graph, and also the proofs and credentials if
// the verifier has caught up too.
func (l *Ledger) SetUpToDate(upToDate bool) error {
	verifierDone := l.cfg.Verifier != nil && l.cfg.Verifier.IsUpToDate()

	unlock := l.lockAll()
	l.upToDate = upToDate
	if upToDate {
		l.saveTransactionsLocked()
		if verifierDone {
			l.saveVerifiedLocked()
			l.saveCredentialsLocked()
		}
	}
	unlock()

	if !upToDate {
		return nil
	}

	log.Debugf("Ledger up to date, checkpointing (proofs=%v)", verifierDone)

	return l.cfg.Storage.Flush()
}

// Checkpoint persists the whole ledger. It fails with ErrLedgerShuttingDown
// once Stop has been called, since Stop writes the final checkpoint.
func (l *Ledger) Checkpoint() error {
	if l.stopped.Load() {
		return ErrLedgerShuttingDown
	}

	unlock := l.rlockAll()
	l.saveTransactionsLocked()
	l.saveVerifiedLocked()
	l.saveCredentialsLocked()
	unlock()

	return l.cfg.Storage.Flush()
}

// ClearHistory forgets every transaction, address history and proof, and
// persists the empty ledger. Credentials are kept.
func (l *Ledger) ClearHistory() error {
	unlock := l.lockAll()
	l.store.Reset()
	l.proofs.Reset()
	l.history = make(map[string][]HistoryItem)
	l.whitelistAddrs = make(map[string]struct{})
	l.fees = make(map[chainhash.Hash]int64)
	l.saveTransactionsLocked()
	l.saveVerifiedLocked()
	unlock()

	log.Info("Cleared ledger history")

	return l.cfg.Storage.Flush()
}
