package txstore

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/commerceblock/spvledger/txrecord"
	"github.com/stretchr/testify/require"
)

const (
	alice = "alice"
	bob   = "bob"
	carol = "carol"
)

func mine(addrs ...string) func(string) bool {
	set := make(map[string]bool, len(addrs))
	for _, a := range addrs {
		set[a] = true
	}

	return func(addr string) bool {
		return set[addr]
	}
}

type txOut struct {
	addr  string
	value int64
}

func makeTx(id byte, spends []wire.OutPoint, outs ...txOut) *txrecord.Tx {
	tx := &txrecord.Tx{Hash: chainhash.Hash{id}}
	for _, op := range spends {
		tx.Inputs = append(tx.Inputs, txrecord.TxIn{PrevOut: op})
	}
	for _, o := range outs {
		tx.Outputs = append(tx.Outputs, txrecord.TxOut{
			Kind:    txrecord.KindAddress,
			Address: o.addr,
			Value:   o.value,
		})
	}

	return tx
}

func coinbaseTx(id byte, outs ...txOut) *txrecord.Tx {
	tx := makeTx(id, nil, outs...)
	tx.Inputs = []txrecord.TxIn{{Coinbase: true}}

	return tx
}

func newStore() *Store {
	return New(&chaincfg.RegressionNetParams)
}

// TestAddIndexesRows checks the txi/txo rows and local history created by Add.
func TestAddIndexesRows(t *testing.T) {
	t.Parallel()

	s := newStore()
	isMine := mine(alice, bob)

	parent := coinbaseTx(1, txOut{alice, 50}, txOut{carol, 10})
	s.Add(parent, isMine)

	child := makeTx(2, []wire.OutPoint{parent.OutPoint(0)},
		txOut{bob, 30}, txOut{carol, 19})
	s.Add(child, isMine)

	require.Equal(t, []OutputEntry{{Index: 0, Value: 50, Coinbase: true}},
		s.Outputs(parent.TxID(), alice))
	require.Empty(t, s.Outputs(parent.TxID(), carol))

	require.Equal(t, []InputEntry{{OutPoint: parent.OutPoint(0), Value: 50}},
		s.Inputs(child.TxID(), alice))
	require.Equal(t, []OutputEntry{{Index: 0, Value: 30}},
		s.Outputs(child.TxID(), bob))

	require.ElementsMatch(t,
		[]chainhash.Hash{parent.TxID(), child.TxID()},
		s.LocalHistory(alice))
	require.Equal(t, []chainhash.Hash{child.TxID()}, s.LocalHistory(bob))
	require.Empty(t, s.LocalHistory(carol))

	spender, ok := s.SpenderOf(parent.OutPoint(0))
	require.True(t, ok)
	require.Equal(t, child.TxID(), spender)

	require.Equal(t, alice, s.InputAddress(&child.Inputs[0]))
}

// TestAddForwardReference indexes a child before its parent and checks the
// parent's insertion patches the child's input rows.
func TestAddForwardReference(t *testing.T) {
	t.Parallel()

	s := newStore()
	isMine := mine(alice)

	parent := makeTx(1, []wire.OutPoint{{Index: 9}}, txOut{alice, 40})
	child := makeTx(2, []wire.OutPoint{parent.OutPoint(0)}, txOut{bob, 39})

	s.Add(child, isMine)
	require.Empty(t, s.Inputs(child.TxID(), alice))
	require.Empty(t, s.LocalHistory(alice))

	s.Add(parent, isMine)
	require.Equal(t, []InputEntry{{OutPoint: parent.OutPoint(0), Value: 40}},
		s.Inputs(child.TxID(), alice))
	require.ElementsMatch(t,
		[]chainhash.Hash{parent.TxID(), child.TxID()},
		s.LocalHistory(alice))

	// Re-adding must not duplicate the patched row.
	s.Add(parent, isMine)
	require.Len(t, s.Inputs(child.TxID(), alice), 1)
}

// TestAddIdempotent asserts re-adding a transaction leaves the indices
// unchanged.
func TestAddIdempotent(t *testing.T) {
	t.Parallel()

	s := newStore()
	isMine := mine(alice, bob)

	parent := coinbaseTx(1, txOut{alice, 50})
	child := makeTx(2, []wire.OutPoint{parent.OutPoint(0)}, txOut{bob, 49})
	s.Add(parent, isMine)
	s.Add(child, isMine)

	before := snapshot(t, s)
	s.Add(child, isMine)
	s.Add(parent, isMine)
	require.Equal(t, before, snapshot(t, s))
}

// TestConflictsOf covers conflict detection, self exclusion and the
// corruption check.
func TestConflictsOf(t *testing.T) {
	t.Parallel()

	s := newStore()
	isMine := mine(alice)

	funding := coinbaseTx(1, txOut{alice, 50}, txOut{alice, 20})
	s.Add(funding, isMine)

	a := makeTx(2, []wire.OutPoint{funding.OutPoint(0)}, txOut{bob, 50})
	s.Add(a, isMine)

	b := makeTx(3, []wire.OutPoint{funding.OutPoint(0)}, txOut{carol, 50})
	conflicts, err := s.ConflictsOf(b)
	require.NoError(t, err)
	require.Equal(t, TxSet{a.TxID(): {}}, conflicts)

	// Already indexed: no conflict with itself.
	conflicts, err = s.ConflictsOf(a)
	require.NoError(t, err)
	require.Empty(t, conflicts)

	// A tx claiming both its own outpoint and someone else's is corrupt.
	c := makeTx(4, []wire.OutPoint{funding.OutPoint(1)}, txOut{bob, 20})
	s.Add(c, isMine)
	c.Inputs = append(c.Inputs, txrecord.TxIn{PrevOut: funding.OutPoint(0)})
	_, err = s.ConflictsOf(c)
	require.ErrorIs(t, err, ErrMalformedState)

	// A spender without a body is corrupt as well.
	s.DropBody(a.TxID())
	_, err = s.ConflictsOf(b)
	require.ErrorIs(t, err, ErrMalformedState)
}

// TestDepending checks transitive dependents are found.
func TestDepending(t *testing.T) {
	t.Parallel()

	s := newStore()
	isMine := mine(alice)

	a := coinbaseTx(1, txOut{alice, 10}, txOut{alice, 10})
	b := makeTx(2, []wire.OutPoint{a.OutPoint(0)}, txOut{alice, 10})
	c := makeTx(3, []wire.OutPoint{b.OutPoint(0)}, txOut{alice, 10})
	d := makeTx(4, []wire.OutPoint{a.OutPoint(1), c.OutPoint(0)},
		txOut{alice, 20})
	for _, tx := range []*txrecord.Tx{a, b, c, d} {
		s.Add(tx, isMine)
	}

	require.Equal(t,
		TxSet{b.TxID(): {}, c.TxID(): {}, d.TxID(): {}},
		s.Depending(a.TxID()))
	require.Equal(t, TxSet{c.TxID(): {}, d.TxID(): {}},
		s.Depending(b.TxID()))
	require.Empty(t, s.Depending(d.TxID()))
}

// TestRemove asserts Remove releases only the outpoints the tx spent and
// leaves dependents in place.
func TestRemove(t *testing.T) {
	t.Parallel()

	s := newStore()
	isMine := mine(alice, bob)

	a := coinbaseTx(1, txOut{alice, 10})
	b := makeTx(2, []wire.OutPoint{a.OutPoint(0)}, txOut{bob, 10})
	c := makeTx(3, []wire.OutPoint{b.OutPoint(0)}, txOut{alice, 10})
	for _, tx := range []*txrecord.Tx{a, b, c} {
		s.Add(tx, isMine)
	}

	s.Remove(b.TxID())
	require.False(t, s.Has(b.TxID()))
	require.False(t, s.IsIndexed(b.TxID()))

	_, ok := s.SpenderOf(a.OutPoint(0))
	require.False(t, ok)

	// c still claims b's output.
	spender, ok := s.SpenderOf(b.OutPoint(0))
	require.True(t, ok)
	require.Equal(t, c.TxID(), spender)
	require.True(t, s.Has(c.TxID()))

	// c keeps its row for the output of b it spent.
	require.Equal(t, []chainhash.Hash{c.TxID()}, s.LocalHistory(bob))

	// Removing a tx without a body falls back to scanning.
	s.DropBody(c.TxID())
	s.Remove(c.TxID())
	_, ok = s.SpenderOf(b.OutPoint(0))
	require.False(t, ok)
	require.Equal(t, []chainhash.Hash{a.TxID()}, s.LocalHistory(alice))
}

type storeSnapshot struct {
	bodies, txi, txo, spent []byte
	local                   map[string]TxSet
}

func snapshot(t *testing.T, s *Store) storeSnapshot {
	t.Helper()

	var bodies, txi, txo, spent bytes.Buffer
	require.NoError(t, s.EncodeBodies(&bodies))
	require.NoError(t, s.EncodeInputs(&txi))
	require.NoError(t, s.EncodeOutputs(&txo))
	require.NoError(t, s.EncodeSpent(&spent))

	local := make(map[string]TxSet, len(s.local))
	for addr, set := range s.local {
		cp := make(TxSet, len(set))
		for txid := range set {
			cp.Add(txid)
		}
		local[addr] = cp
	}

	return storeSnapshot{
		bodies: bodies.Bytes(),
		txi:    txi.Bytes(),
		txo:    txo.Bytes(),
		spent:  spent.Bytes(),
		local:  local,
	}
}

// TestCodecRoundTrip encodes a populated store, decodes it into a fresh one
// and checks the rebuilt local history matches.
func TestCodecRoundTrip(t *testing.T) {
	t.Parallel()

	s := newStore()
	isMine := mine(alice, bob)

	a := coinbaseTx(1, txOut{alice, 10}, txOut{bob, 5})
	a.Outputs[0].PkScript = []byte{0x51}
	b := makeTx(2, []wire.OutPoint{a.OutPoint(0)}, txOut{carol, 10})
	s.Add(a, isMine)
	s.Add(b, isMine)

	var bodies, txi, txo, spent bytes.Buffer
	require.NoError(t, s.EncodeBodies(&bodies))
	require.NoError(t, s.EncodeInputs(&txi))
	require.NoError(t, s.EncodeOutputs(&txo))
	require.NoError(t, s.EncodeSpent(&spent))

	restored := newStore()
	require.NoError(t, restored.DecodeBodies(&bodies))
	require.NoError(t, restored.DecodeInputs(&txi))
	require.NoError(t, restored.DecodeOutputs(&txo))
	require.NoError(t, restored.DecodeSpent(&spent))
	restored.ReindexLocalHistory()

	require.Equal(t, s.txs, restored.txs)
	require.Equal(t, s.txi, restored.txi)
	require.Equal(t, s.txo, restored.txo)
	require.Equal(t, s.spent, restored.spent)
	require.Equal(t, s.local, restored.local)
}
