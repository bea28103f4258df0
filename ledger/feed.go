package ledger

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/commerceblock/spvledger/proofstate"
	"github.com/commerceblock/spvledger/txrecord"
)

// HistoryItem is one entry of an address history: a transaction and the
// height it was reported or verified at.
type HistoryItem struct {
	TxID   chainhash.Hash
	Height int32
}

// ReceiveRawTx decodes raw with the configured decoder and hands it to
// ReceiveTx. whitelist carries the feed's classification of the body.
func (l *Ledger) ReceiveRawTx(txid chainhash.Hash, raw []byte, height int32,
	whitelist bool) (bool, error) {

	if raw == nil {
		return l.ReceiveTx(txid, nil, height)
	}
	if l.cfg.Decoder == nil {
		return false, errors.New("no transaction decoder configured")
	}

	tx, err := l.cfg.Decoder.DecodeTx(raw)
	if err != nil {
		return false, fmt.Errorf("unable to decode tx %v: %w", txid, err)
	}
	tx.Whitelist = whitelist

	return l.ReceiveTx(txid, tx, height)
}

// ReceiveTx handles a transaction delivered by the feed at its reported
// height. A nil body only records the height. Accepted whitelist
// transactions are parsed into the credential ledger.
func (l *Ledger) ReceiveTx(txid chainhash.Hash, tx *txrecord.Tx,
	height int32) (bool, error) {

	if tx != nil && tx.TxID() != txid {
		return false, fmt.Errorf("%w: announced %v, body %v",
			ErrTxidMismatch, txid, tx.TxID())
	}

	var fx effects
	defer l.apply(&fx)

	unlock := l.lockAll()
	defer unlock()

	if tx == nil {
		l.observeHeightLocked(txid, height, &fx)
		return false, nil
	}

	// The conflict policy ranks the newcomer by its reported height, so
	// it is recorded first and forgotten again if the body is refused,
	// unless an address history already reported it.
	tracked := l.proofs.Height(txid) != proofstate.HeightLocal
	if !tx.Whitelist {
		l.observeHeightLocked(txid, height, &fx)
	}

	added, err := l.addTransactionLocked(tx, true)
	if !added && !tracked && !l.store.Has(txid) {
		l.proofs.Forget(txid)
	}
	if err != nil || !added {
		return added, err
	}

	if tx.Whitelist {
		l.parseWhitelistTxLocked(tx, &fx)
	}

	return true, nil
}

// ReceiveHistory replaces the history of addr with hist. Transactions that
// dropped out of the address history turn local, every reported height is
// recorded unless addr is a whitelist watch, and bodies already known are
// re-indexed since addr may be new to them.
func (l *Ledger) ReceiveHistory(addr string, hist []HistoryItem,
	fees map[chainhash.Hash]int64, whitelist bool) error {

	var fx effects
	defer l.apply(&fx)

	unlock := l.lockAll()
	defer unlock()

	reported := make(map[HistoryItem]struct{}, len(hist))
	for _, item := range hist {
		reported[item] = struct{}{}
	}

	for _, item := range l.addressHistoryLocked(addr) {
		if _, ok := reported[item]; ok {
			continue
		}

		log.Debugf("Tx %v at height %d left history of %v, making "+
			"it local", item.TxID, item.Height, addr)

		l.proofs.Forget(item.TxID)
		fx.cancelProof(item.TxID)
	}

	l.history[addr] = append([]HistoryItem(nil), hist...)

	for _, item := range hist {
		if !whitelist {
			l.observeHeightLocked(item.TxID, item.Height, &fx)
		}

		tx, ok := l.store.Get(item.TxID)
		if !ok {
			continue
		}
		if _, err := l.addTransactionLocked(tx, true); err != nil {
			return err
		}
	}

	for txid, fee := range fees {
		l.fees[txid] = fee
	}

	return nil
}

// observeHeightLocked records a reported height. Stored whitelist
// transactions are never proof tracked.
//
// NOTE: must be called with stateMtx and graphMtx held for writing.
func (l *Ledger) observeHeightLocked(txid chainhash.Hash, height int32,
	fx *effects) {

	if tx, ok := l.store.Get(txid); ok && tx.Whitelist {
		return
	}

	if l.proofs.ObserveHeight(txid, height) {
		fx.cancelProof(txid)
	}
}

// AddAddress starts watching addr as an ordinary address. An address that
// was a whitelist watch loses that mark.
func (l *Ledger) AddAddress(addr string) error {
	if !txrecord.ValidAddress(addr, l.cfg.Params.Net) {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, addr)
	}

	var fx effects
	defer l.apply(&fx)

	l.stateMtx.Lock()
	defer l.stateMtx.Unlock()

	l.addWatchLocked(addr)
	delete(l.whitelistAddrs, addr)

	fx.unwatchWhitelist = append(fx.unwatchWhitelist, addr)
	fx.watch = append(fx.watch, addr)

	return nil
}

// AddWhitelistAddress starts watching addr as a whitelist watch.
func (l *Ledger) AddWhitelistAddress(addr string) error {
	if !txrecord.ValidAddress(addr, l.cfg.Params.Net) {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, addr)
	}

	var fx effects
	defer l.apply(&fx)

	l.stateMtx.Lock()
	defer l.stateMtx.Unlock()

	l.addWhitelistAddressLocked(addr, &fx)

	return nil
}

// NOTE: must be called with stateMtx held for writing.
func (l *Ledger) addWhitelistAddressLocked(addr string, fx *effects) {
	l.addWatchLocked(addr)
	l.whitelistAddrs[addr] = struct{}{}

	fx.watchWhitelist = append(fx.watchWhitelist, addr)
	fx.watch = append(fx.watch, addr)
}

// NOTE: must be called with stateMtx held for writing.
func (l *Ledger) addWatchLocked(addr string) {
	if _, ok := l.history[addr]; ok {
		return
	}

	log.Infof("Watching new address %v", addr)

	l.history[addr] = nil
	l.upToDate = false
}

// IsWhitelistAddress reports whether addr is a whitelist watch.
func (l *Ledger) IsWhitelistAddress(addr string) bool {
	l.stateMtx.RLock()
	defer l.stateMtx.RUnlock()

	_, ok := l.whitelistAddrs[addr]
	return ok
}
