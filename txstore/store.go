package txstore

import (
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/commerceblock/spvledger/txrecord"
)

var (
	// ErrMalformedState signals that the indices contradict each other,
	// e.g. two different stored transactions claim the same outpoint.
	ErrMalformedState = errors.New("malformed transaction store state")
)

// InputEntry is a txi row: an owned outpoint consumed by a transaction.
type InputEntry struct {
	OutPoint wire.OutPoint
	Value    int64
	Asset    txrecord.Asset
}

// OutputEntry is a txo row: an output of a transaction paying an owned
// address.
type OutputEntry struct {
	Index    uint32
	Value    int64
	Asset    txrecord.Asset
	Coinbase bool
	Script   []byte
}

// TxSet is a set of transaction ids.
type TxSet map[chainhash.Hash]struct{}

// Add inserts txid into the set.
func (s TxSet) Add(txid chainhash.Hash) {
	s[txid] = struct{}{}
}

// Has reports whether txid is in the set.
func (s TxSet) Has(txid chainhash.Hash) bool {
	_, ok := s[txid]
	return ok
}

// Sorted returns the members in byte order of their hashes.
func (s TxSet) Sorted() []chainhash.Hash {
	out := make([]chainhash.Hash, 0, len(s))
	for txid := range s {
		out = append(out, txid)
	}
	sort.Slice(out, func(i, j int) bool {
		return string(out[i][:]) < string(out[j][:])
	})

	return out
}

// Store holds every fully known transaction body together with the
// per-address input and output indices derived from them, the global
// spent-outpoint index and the local history index.
//
// Store is not safe for concurrent use. The ledger serializes access with
// its graph lock.
type Store struct {
	params *chaincfg.Params

	txs map[chainhash.Hash]*txrecord.Tx

	// txi maps txid -> address -> consumed owned outpoints. A present but
	// empty inner map means the tx was indexed and owns no inputs.
	txi map[chainhash.Hash]map[string][]InputEntry

	// txo maps txid -> address -> owned outputs.
	txo map[chainhash.Hash]map[string][]OutputEntry

	// spent maps prevout txid -> output index -> spending txid.
	spent map[chainhash.Hash]map[uint32]chainhash.Hash

	// local is the address -> txid index derived from the keys of txi
	// and txo.
	local map[string]TxSet
}

// New returns an empty store resolving pubkey outputs under params.
func New(params *chaincfg.Params) *Store {
	s := &Store{params: params}
	s.Reset()

	return s
}

// Reset drops all state.
func (s *Store) Reset() {
	s.txs = make(map[chainhash.Hash]*txrecord.Tx)
	s.txi = make(map[chainhash.Hash]map[string][]InputEntry)
	s.txo = make(map[chainhash.Hash]map[string][]OutputEntry)
	s.spent = make(map[chainhash.Hash]map[uint32]chainhash.Hash)
	s.local = make(map[string]TxSet)
}

// Params returns the network parameters of the store.
func (s *Store) Params() *chaincfg.Params {
	return s.params
}

// Get returns the stored body of txid.
func (s *Store) Get(txid chainhash.Hash) (*txrecord.Tx, bool) {
	tx, ok := s.txs[txid]
	return tx, ok
}

// Has reports whether the body of txid is stored.
func (s *Store) Has(txid chainhash.Hash) bool {
	_, ok := s.txs[txid]
	return ok
}

// Len returns the number of stored bodies.
func (s *Store) Len() int {
	return len(s.txs)
}

// TxIDs returns the ids of all stored bodies.
func (s *Store) TxIDs() TxSet {
	set := make(TxSet, len(s.txs))
	for txid := range s.txs {
		set.Add(txid)
	}

	return set
}

// Indexed returns every txid with a txi or txo row set, including empty
// ones.
func (s *Store) Indexed() TxSet {
	set := make(TxSet, len(s.txi)+len(s.txo))
	for txid := range s.txi {
		set.Add(txid)
	}
	for txid := range s.txo {
		set.Add(txid)
	}

	return set
}

// IsIndexed reports whether txid has a (possibly empty) row set.
func (s *Store) IsIndexed(txid chainhash.Hash) bool {
	_, inTxi := s.txi[txid]
	_, inTxo := s.txo[txid]

	return inTxi || inTxo
}

// HasRows reports whether txid owns at least one input or output row.
func (s *Store) HasRows(txid chainhash.Hash) bool {
	return len(s.txi[txid]) > 0 || len(s.txo[txid]) > 0
}

// Inputs returns the txi rows of txid for addr.
func (s *Store) Inputs(txid chainhash.Hash, addr string) []InputEntry {
	return s.txi[txid][addr]
}

// Outputs returns the txo rows of txid for addr.
func (s *Store) Outputs(txid chainhash.Hash, addr string) []OutputEntry {
	return s.txo[txid][addr]
}

// ForEachInput calls cb for every txi row of txid.
func (s *Store) ForEachInput(txid chainhash.Hash,
	cb func(addr string, in InputEntry)) {

	for addr, rows := range s.txi[txid] {
		for _, in := range rows {
			cb(addr, in)
		}
	}
}

// ForEachOutput calls cb for every txo row of txid.
func (s *Store) ForEachOutput(txid chainhash.Hash,
	cb func(addr string, out OutputEntry)) {

	for addr, rows := range s.txo[txid] {
		for _, out := range rows {
			cb(addr, out)
		}
	}
}

// FundingOutput looks up an indexed output by outpoint.
func (s *Store) FundingOutput(op wire.OutPoint) (string, OutputEntry, bool) {
	for addr, rows := range s.txo[op.Hash] {
		for _, out := range rows {
			if out.Index == op.Index {
				return addr, out, true
			}
		}
	}

	return "", OutputEntry{}, false
}

// InputAddress returns the address an input spends from. The decoder's
// attribution is used when present, otherwise the funding output's row.
func (s *Store) InputAddress(in *txrecord.TxIn) string {
	if in.Address != "" && in.Address != txrecord.PubKeyInputMarker {
		return in.Address
	}

	addr, _, ok := s.FundingOutput(in.PrevOut)
	if !ok {
		return ""
	}

	return addr
}

// OutputAddress returns the address an output pays to.
func (s *Store) OutputAddress(out *txrecord.TxOut) string {
	return txrecord.OutputAddress(out, s.params)
}

// SpenderOf returns the stored transaction spending op.
func (s *Store) SpenderOf(op wire.OutPoint) (chainhash.Hash, bool) {
	txid, ok := s.spent[op.Hash][op.Index]
	return txid, ok
}

// LocalHistory returns the txids indexed as touching addr.
func (s *Store) LocalHistory(addr string) []chainhash.Hash {
	return s.local[addr].Sorted()
}

// LocalHistoryLen returns the number of txids touching addr.
func (s *Store) LocalHistoryLen(addr string) int {
	return len(s.local[addr])
}

// ConflictsOf returns the stored transactions spending any outpoint tx also
// spends, excluding tx itself.
func (s *Store) ConflictsOf(tx *txrecord.Tx) (TxSet, error) {
	conflicts := make(TxSet)
	for _, in := range tx.Inputs {
		if in.Coinbase {
			continue
		}

		spender, ok := s.SpenderOf(in.PrevOut)
		if !ok {
			continue
		}
		if !s.Has(spender) {
			return nil, fmt.Errorf("%w: outpoint %v spent by %v "+
				"which has no body", ErrMalformedState,
				in.PrevOut, spender)
		}
		conflicts.Add(spender)
	}

	txid := tx.TxID()
	if conflicts.Has(txid) {
		if len(conflicts) > 1 {
			return nil, fmt.Errorf("%w: %v conflicts with stored "+
				"transactions while already indexed",
				ErrMalformedState, txid)
		}
		delete(conflicts, txid)
	}

	return conflicts, nil
}

// Depending returns every stored transaction that transitively spends an
// output of txid. txid itself is not included.
func (s *Store) Depending(txid chainhash.Hash) TxSet {
	deps := make(TxSet)

	queue := []chainhash.Hash{txid}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]

		for _, spender := range s.spent[next] {
			if spender == txid || deps.Has(spender) {
				continue
			}
			deps.Add(spender)
			queue = append(queue, spender)
		}
	}

	return deps
}

// Add indexes tx and stores its body. Rows are created for every address
// relevant reports true for. Any forward reference from an already stored
// child spending one of tx's outputs is linked into the child's txi.
//
// Add does not resolve conflicts. The caller must evict conflicting
// transactions first.
func (s *Store) Add(tx *txrecord.Tx, relevant func(addr string) bool) {
	txid := tx.TxID()

	// Re-indexing replaces the old rows wholesale, so drop the local
	// history derived from them first.
	s.removeLocalHistory(txid)

	inputs := make(map[string][]InputEntry)
	for _, in := range tx.Inputs {
		if in.Coinbase {
			continue
		}

		prev := in.PrevOut
		if s.spent[prev.Hash] == nil {
			s.spent[prev.Hash] = make(map[uint32]chainhash.Hash)
		}
		s.spent[prev.Hash][prev.Index] = txid

		addr, out, ok := s.FundingOutput(prev)
		if !ok || addr == "" || !relevant(addr) {
			continue
		}
		inputs[addr] = addInput(inputs[addr], InputEntry{
			OutPoint: prev,
			Value:    out.Value,
			Asset:    out.Asset,
		})
	}
	s.txi[txid] = inputs

	coinbase := tx.IsCoinbase()
	outputs := make(map[string][]OutputEntry)
	for n := range tx.Outputs {
		out := &tx.Outputs[n]
		addr := s.OutputAddress(out)
		if addr == "" || !relevant(addr) {
			continue
		}

		outputs[addr] = append(outputs[addr], OutputEntry{
			Index:    uint32(n),
			Value:    out.Value,
			Asset:    out.Asset,
			Coinbase: coinbase,
			Script:   out.PkScript,
		})

		// Link a child that was indexed before this parent.
		child, ok := s.spent[txid][uint32(n)]
		if !ok {
			continue
		}
		childRows, ok := s.txi[child]
		if !ok {
			childRows = make(map[string][]InputEntry)
			s.txi[child] = childRows
		}
		childRows[addr] = addInput(childRows[addr], InputEntry{
			OutPoint: tx.OutPoint(uint32(n)),
			Value:    out.Value,
			Asset:    out.Asset,
		})
		s.addLocalHistory(child)

		log.Tracef("Linked child %v to output %v:%d", child, txid, n)
	}
	s.txo[txid] = outputs

	s.addLocalHistory(txid)
	s.txs[txid] = tx
}

// Remove drops txid's body and rows and releases the outpoints it spent.
// Transactions spending txid's outputs are left alone.
func (s *Store) Remove(txid chainhash.Hash) {
	log.Debugf("Removing tx %v from store", txid)

	tx, ok := s.txs[txid]
	delete(s.txs, txid)

	release := func(prev wire.OutPoint) {
		spends, ok := s.spent[prev.Hash]
		if !ok {
			return
		}
		if spends[prev.Index] == txid {
			delete(spends, prev.Index)
		}
		if len(spends) == 0 {
			delete(s.spent, prev.Hash)
		}
	}

	if ok {
		for _, prev := range tx.SpentOutPoints() {
			release(prev)
		}
	} else {
		for hash, spends := range s.spent {
			for index, spender := range spends {
				if spender == txid {
					release(wire.OutPoint{
						Hash: hash, Index: index,
					})
				}
			}
		}
	}
	if len(s.spent[txid]) == 0 {
		delete(s.spent, txid)
	}

	s.removeLocalHistory(txid)
	delete(s.txi, txid)
	delete(s.txo, txid)
}

// DropBody forgets the body of txid without touching its rows.
func (s *Store) DropBody(txid chainhash.Hash) {
	delete(s.txs, txid)
}

// ReindexLocalHistory rebuilds the local history index from the row keys.
func (s *Store) ReindexLocalHistory() {
	s.local = make(map[string]TxSet)
	for txid := range s.Indexed() {
		s.addLocalHistory(txid)
	}
}

func (s *Store) addLocalHistory(txid chainhash.Hash) {
	touch := func(addr string) {
		set, ok := s.local[addr]
		if !ok {
			set = make(TxSet)
			s.local[addr] = set
		}
		set.Add(txid)
	}
	for addr := range s.txi[txid] {
		touch(addr)
	}
	for addr := range s.txo[txid] {
		touch(addr)
	}
}

func (s *Store) removeLocalHistory(txid chainhash.Hash) {
	drop := func(addr string) {
		set, ok := s.local[addr]
		if !ok {
			return
		}
		delete(set, txid)
		if len(set) == 0 {
			delete(s.local, addr)
		}
	}
	for addr := range s.txi[txid] {
		drop(addr)
	}
	for addr := range s.txo[txid] {
		drop(addr)
	}
}

func addInput(rows []InputEntry, entry InputEntry) []InputEntry {
	for _, row := range rows {
		if row.OutPoint == entry.OutPoint &&
			row.Value == entry.Value && row.Asset == entry.Asset {

			return rows
		}
	}

	return append(rows, entry)
}
