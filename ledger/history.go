package ledger

import (
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/commerceblock/spvledger/proofstate"
	"github.com/commerceblock/spvledger/txrecord"
	"github.com/commerceblock/spvledger/txstore"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// HistoryEntry is one transaction of a domain history.
type HistoryEntry struct {
	TxID   chainhash.Hash
	Status proofstate.TxMinedStatus

	// Delta is the net value the transaction moved into the domain. It is
	// unknown if any of its values is unknown.
	Delta fn.Option[int64]

	// Balance is the domain balance right after the transaction.
	Balance fn.Option[int64]
}

// WalletDelta is the effect of a transaction on the whole wallet.
type WalletDelta struct {
	// Relevant is set if the transaction pays or spends a watched
	// address.
	Relevant bool

	// IsMine is set if at least one input spends a watched address.
	IsMine bool

	// Value is the net value moved into the wallet.
	Value int64

	// Fee is only known when every input is the wallet's.
	Fee fn.Option[int64]
}

// Addresses returns every watched address, sorted.
func (l *Ledger) Addresses() []string {
	l.stateMtx.RLock()
	defer l.stateMtx.RUnlock()

	return l.addressesLocked()
}

// NOTE: must be called with stateMtx held.
func (l *Ledger) addressesLocked() []string {
	addrs := make([]string, 0, len(l.history))
	for addr := range l.history {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	return addrs
}

// AddressHistory returns the transactions indexed as touching addr with
// their current heights.
func (l *Ledger) AddressHistory(addr string) []HistoryItem {
	unlock := l.rlockAll()
	defer unlock()

	return l.addressHistoryLocked(addr)
}

// NOTE: must be called with stateMtx and graphMtx held.
func (l *Ledger) addressHistoryLocked(addr string) []HistoryItem {
	txids := l.store.LocalHistory(addr)

	items := make([]HistoryItem, 0, len(txids))
	for _, txid := range txids {
		items = append(items, HistoryItem{
			TxID:   txid,
			Height: l.proofs.Height(txid),
		})
	}

	return items
}

// AddressHistoryLen returns the number of transactions indexed as touching
// addr.
func (l *Ledger) AddressHistoryLen(addr string) int {
	l.graphMtx.RLock()
	defer l.graphMtx.RUnlock()

	return l.store.LocalHistoryLen(addr)
}

// ReportedHistory returns the history of addr as last reported by the feed.
func (l *Ledger) ReportedHistory(addr string) []HistoryItem {
	l.stateMtx.RLock()
	defer l.stateMtx.RUnlock()

	return append([]HistoryItem(nil), l.history[addr]...)
}

// NumTx returns the number of transactions the feed reported for addr.
func (l *Ledger) NumTx(addr string) int {
	l.stateMtx.RLock()
	defer l.stateMtx.RUnlock()

	return len(l.history[addr])
}

// IsUsed reports whether the feed reported any transaction for addr.
func (l *Ledger) IsUsed(addr string) bool {
	return l.NumTx(addr) != 0
}

// TxDelta returns the net value txid moved into addr. It is unknown if txid
// is not indexed.
func (l *Ledger) TxDelta(txid chainhash.Hash, addr string) fn.Option[int64] {
	l.graphMtx.RLock()
	defer l.graphMtx.RUnlock()

	return l.txDeltaLocked(txid, addr)
}

// NOTE: must be called with graphMtx held.
func (l *Ledger) txDeltaLocked(txid chainhash.Hash,
	addr string) fn.Option[int64] {

	if !l.store.IsIndexed(txid) {
		return fn.None[int64]()
	}

	var delta int64
	for _, in := range l.store.Inputs(txid, addr) {
		delta -= in.Value
	}
	for _, out := range l.store.Outputs(txid, addr) {
		delta += out.Value
	}

	return fn.Some(delta)
}

// TxValue returns the net value txid moved into the wallet, summed over
// every indexed address.
func (l *Ledger) TxValue(txid chainhash.Hash) int64 {
	l.graphMtx.RLock()
	defer l.graphMtx.RUnlock()

	var delta int64
	l.store.ForEachInput(txid, func(_ string, in txstore.InputEntry) {
		delta -= in.Value
	})
	l.store.ForEachOutput(txid, func(_ string, out txstore.OutputEntry) {
		delta += out.Value
	})

	return delta
}

// WalletDelta computes the effect of tx on the wallet. tx does not need to
// be stored.
func (l *Ledger) WalletDelta(tx *txrecord.Tx) WalletDelta {
	unlock := l.rlockAll()
	defer unlock()

	var (
		d                   WalletDelta
		pruned, partial     bool
		vIn, vOut, vOutMine int64
	)
	for i := range tx.Inputs {
		in := &tx.Inputs[i]
		if in.Coinbase {
			continue
		}

		addr := l.store.InputAddress(in)
		if !l.isMineLocked(addr) {
			partial = true
			continue
		}
		d.IsMine = true
		d.Relevant = true

		value, ok := l.fundingValueLocked(in, addr)
		if !ok {
			pruned = true
			continue
		}
		vIn += value
	}
	if !d.IsMine {
		partial = false
	}

	for i := range tx.Outputs {
		out := &tx.Outputs[i]
		vOut += out.Value
		if l.isMineLocked(l.store.OutputAddress(out)) {
			vOutMine += out.Value
			d.Relevant = true
		}
	}

	d.Fee = fn.None[int64]()
	switch {
	case pruned && d.IsMine:
		d.Value = vOutMine - vOut
	case pruned:
		d.Value = vOutMine
	default:
		d.Value = vOutMine - vIn
		if d.IsMine && !partial {
			d.Fee = fn.Some(vIn - vOut)
		}
	}

	return d
}

// NOTE: must be called with graphMtx held.
func (l *Ledger) fundingValueLocked(in *txrecord.TxIn,
	addr string) (int64, bool) {

	for _, out := range l.store.Outputs(in.PrevOut.Hash, addr) {
		if out.Index == in.PrevOut.Index {
			return out.Value, true
		}
	}

	return 0, false
}

// History returns the transactions of domain, every watched address if
// domain is empty, oldest first, with the domain balance after each. An
// empty result is returned if the deltas do not add up to the current
// balance, which means the domain is not fully synchronized.
func (l *Ledger) History(domain []string) []HistoryEntry {
	ctx := l.newReadCtx()

	unlock := l.rlockAll()
	defer unlock()

	domain = l.domainLocked(domain, nil)

	deltas := make(map[chainhash.Hash]fn.Option[int64])
	for _, addr := range domain {
		for _, item := range l.addressHistoryLocked(addr) {
			delta := l.txDeltaLocked(item.TxID, addr)

			prev, ok := deltas[item.TxID]
			if !ok {
				deltas[item.TxID] = delta
				continue
			}
			deltas[item.TxID] = addOptions(prev, delta)
		}
	}

	entries := make([]HistoryEntry, 0, len(deltas))
	for txid, delta := range deltas {
		entries = append(entries, HistoryEntry{
			TxID:   txid,
			Status: l.proofs.Status(txid, ctx.localHeight),
			Delta:  delta,
		})
	}

	// Newest first for the backwards balance walk.
	sort.Slice(entries, func(i, j int) bool {
		ki := l.proofs.SortKey(entries[i].TxID)
		kj := l.proofs.SortKey(entries[j].TxID)
		if ki != kj {
			return kj.Less(ki)
		}

		a, b := entries[i].TxID, entries[j].TxID
		return string(a[:]) > string(b[:])
	})

	balance := fn.Some(l.balanceLocked(ctx, domain).Total())
	for i := range entries {
		entries[i].Balance = balance
		balance = subOptions(balance, entries[i].Delta)
	}

	if balance.IsSome() && balance.UnsafeFromSome() != 0 {
		log.Errorf("History of %d addresses not synchronized, "+
			"balance walk ends at %d", len(domain),
			balance.UnsafeFromSome())
		return nil
	}

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}

	return entries
}

func addOptions(a, b fn.Option[int64]) fn.Option[int64] {
	if a.IsNone() || b.IsNone() {
		return fn.None[int64]()
	}

	return fn.Some(a.UnsafeFromSome() + b.UnsafeFromSome())
}

func subOptions(a, b fn.Option[int64]) fn.Option[int64] {
	if a.IsNone() || b.IsNone() {
		return fn.None[int64]()
	}

	return fn.Some(a.UnsafeFromSome() - b.UnsafeFromSome())
}
