package ledger

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/commerceblock/spvledger/proofstate"
	"github.com/commerceblock/spvledger/txrecord"
	"github.com/commerceblock/spvledger/txstore"
)

// AddTransaction indexes tx. Unless allowUnrelated is set, a transaction
// touching no watched address is refused with ErrUnrelatedTransaction.
//
// A transaction conflicting with stored ones is accepted only if it is
// trusted at least as much: confirmed beats mempool beats local, and on a tie
// the newcomer wins. The losers are evicted together with every transaction
// spending their outputs. A refused transaction yields false and leaves the
// ledger untouched.
func (l *Ledger) AddTransaction(tx *txrecord.Tx,
	allowUnrelated bool) (bool, error) {

	unlock := l.lockAll()
	defer unlock()

	return l.addTransactionLocked(tx, allowUnrelated)
}

// addTransactionLocked is the body of AddTransaction.
//
// NOTE: must be called with stateMtx and graphMtx held for writing.
func (l *Ledger) addTransactionLocked(tx *txrecord.Tx,
	allowUnrelated bool) (bool, error) {

	txid := tx.TxID()
	height := l.proofs.Height(txid)

	if !allowUnrelated && !tx.Whitelist && !l.touchesWalletLocked(tx) {
		return false, fmt.Errorf("%w: %v", ErrUnrelatedTransaction, txid)
	}

	conflicts, err := l.store.ConflictsOf(tx)
	if err != nil {
		log.Errorf("Refusing tx %v: %v", txid, err)
		return false, err
	}

	if len(conflicts) > 0 {
		var inMempool, confirmed bool
		for other := range conflicts {
			h := l.proofs.Height(other)
			switch {
			case h > 0:
				confirmed = true
			case proofstate.IsUnconfirmed(h):
				inMempool = true
			}
		}

		switch {
		// A confirmed conflict always beats an unconfirmed newcomer.
		case confirmed && height <= 0:
			log.Infof("Dropping tx %v at height %d, conflicts with "+
				"confirmed txs %v", txid, height, conflicts.Sorted())
			return false, nil

		// A mempool conflict beats a local newcomer.
		case inMempool && height == proofstate.HeightLocal:
			log.Infof("Dropping local tx %v, conflicts with mempool "+
				"txs %v", txid, conflicts.Sorted())
			return false, nil
		}

		evict := make(txstore.TxSet)
		for other := range conflicts {
			evict.Add(other)
			for dep := range l.store.Depending(other) {
				evict.Add(dep)
			}
		}

		log.Infof("Tx %v replaces conflicting txs, evicting %v", txid,
			evict.Sorted())

		for _, other := range evict.Sorted() {
			l.store.Remove(other)
		}
	}

	l.store.Add(tx, func(addr string) bool {
		return tx.Whitelist || l.isMineLocked(addr)
	})

	log.Debugf("Indexed tx %v at height %d", txid, height)
	log.Tracef("Indexed tx body: %v", spewClosure(tx))

	return true, nil
}

// RemoveTransaction evicts txid and every transaction depending on it.
func (l *Ledger) RemoveTransaction(txid chainhash.Hash) {
	unlock := l.lockAll()
	defer unlock()

	evict := l.store.Depending(txid)
	evict.Add(txid)
	for _, other := range evict.Sorted() {
		l.store.Remove(other)
	}
}

// touchesWalletLocked reports whether any input or output of tx belongs to
// a watched address.
//
// NOTE: must be called with stateMtx and graphMtx held.
func (l *Ledger) touchesWalletLocked(tx *txrecord.Tx) bool {
	for i := range tx.Inputs {
		if tx.Inputs[i].Coinbase {
			continue
		}
		if l.isMineLocked(l.store.InputAddress(&tx.Inputs[i])) {
			return true
		}
	}
	for i := range tx.Outputs {
		if l.isMineLocked(l.store.OutputAddress(&tx.Outputs[i])) {
			return true
		}
	}

	return false
}

// isMineLocked reports whether addr is watched.
//
// NOTE: must be called with stateMtx held.
func (l *Ledger) isMineLocked(addr string) bool {
	if addr == "" {
		return false
	}

	_, ok := l.history[addr]
	return ok
}

// IsMine reports whether addr is watched by the ledger.
func (l *Ledger) IsMine(addr string) bool {
	l.stateMtx.RLock()
	defer l.stateMtx.RUnlock()

	return l.isMineLocked(addr)
}

// Transaction returns the stored body of txid.
func (l *Ledger) Transaction(txid chainhash.Hash) (*txrecord.Tx, bool) {
	l.graphMtx.RLock()
	defer l.graphMtx.RUnlock()

	return l.store.Get(txid)
}

// SpenderOf returns the stored transaction spending op.
func (l *Ledger) SpenderOf(op wire.OutPoint) (chainhash.Hash, bool) {
	l.graphMtx.RLock()
	defer l.graphMtx.RUnlock()

	return l.store.SpenderOf(op)
}
