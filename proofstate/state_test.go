package proofstate

import (
	"bytes"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

var (
	testTime = time.Unix(1_700_000_000, 0)

	txA = chainhash.Hash{0xa}
	txB = chainhash.Hash{0xb}
	txC = chainhash.Hash{0xc}

	headerH = chainhash.Hash{0x50}
	headerX = chainhash.Hash{0x51}
)

func newMachine() (*Machine, *clock.TestClock) {
	clk := clock.NewTestClock(testTime)
	return New(clk), clk
}

func lookupFrom(headers map[int32]chainhash.Hash) HeaderLookup {
	return func(height int32) fn.Option[chainhash.Hash] {
		h, ok := headers[height]
		if !ok {
			return fn.None[chainhash.Hash]()
		}

		return fn.Some(h)
	}
}

// TestObserveHeight walks a transaction through the height transitions.
func TestObserveHeight(t *testing.T) {
	t.Parallel()

	m, _ := newMachine()
	require.Equal(t, HeightLocal, m.Height(txA))

	require.True(t, m.ObserveHeight(txA, HeightUnconfirmed))
	require.Equal(t, HeightUnconfirmed, m.Height(txA))

	require.True(t, m.ObserveHeight(txA, 100))
	require.Equal(t, int32(100), m.Height(txA))
	require.Zero(t, m.Confirmations(txA, 120))

	m.ObserveProof(txA, VerifiedInfo{
		Height: 100, Timestamp: 7, TxPos: 3, HeaderHash: headerH,
	})
	require.True(t, m.IsVerified(txA))
	require.Empty(t, m.Unverified())
	require.Equal(t, int32(21), m.Confirmations(txA, 120))
	require.Zero(t, m.Confirmations(txA, 50))

	// A confirmed height report leaves the proof alone.
	require.False(t, m.ObserveHeight(txA, 101))
	require.True(t, m.IsVerified(txA))

	// Back in the mempool: demote using the new height.
	require.True(t, m.ObserveHeight(txA, HeightUnconfParent))
	require.False(t, m.IsVerified(txA))
	require.Equal(t, HeightUnconfParent, m.Height(txA))

	require.True(t, m.Forget(txA))
	require.False(t, m.Forget(txA))
	require.Equal(t, HeightLocal, m.Height(txA))
}

// TestStatus checks the mined status of each state.
func TestStatus(t *testing.T) {
	t.Parallel()

	m, _ := newMachine()
	m.ObserveProof(txA, VerifiedInfo{
		Height: 10, Timestamp: 99, HeaderHash: headerH,
	})
	m.ObserveHeight(txB, 12)

	status := m.Status(txA, 10)
	require.Equal(t, int32(10), status.Height)
	require.Equal(t, int32(1), status.Confirmations)
	require.Equal(t, fn.Some(uint32(99)), status.Timestamp)
	require.Equal(t, fn.Some(headerH), status.HeaderHash)

	require.Equal(t, TxMinedStatus{Height: 12}, m.Status(txB, 20))
	require.Equal(t, TxMinedStatus{Height: HeightLocal}, m.Status(txC, 20))
}

// TestUndoForReorg demotes proofs whose header changed or vanished.
func TestUndoForReorg(t *testing.T) {
	t.Parallel()

	m, _ := newMachine()
	m.ObserveProof(txA, VerifiedInfo{Height: 50, HeaderHash: headerH})
	m.ObserveProof(txB, VerifiedInfo{Height: 49, HeaderHash: headerX})
	m.ObserveProof(txC, VerifiedInfo{Height: 51, HeaderHash: headerX})

	affected := m.UndoForReorg(50, lookupFrom(map[int32]chainhash.Hash{
		49: chainhash.Hash{0xff},
		50: headerX,
		51: headerX,
	}))

	require.Equal(t, map[chainhash.Hash]int32{txA: 50}, affected)
	require.False(t, m.IsVerified(txA))
	require.Equal(t, int32(50), m.Height(txA))

	// Below the cutoff nothing is checked.
	require.True(t, m.IsVerified(txB))
	require.True(t, m.IsVerified(txC))

	// A missing header demotes as well.
	affected = m.UndoForReorg(51, lookupFrom(nil))
	require.Equal(t, map[chainhash.Hash]int32{txC: 51}, affected)
	require.Equal(t, 2, m.NumDemoted())
}

// TestExpireStale asserts reorg-demoted entries turn local only when no feed
// update arrived within the timeout.
func TestExpireStale(t *testing.T) {
	t.Parallel()

	m, clk := newMachine()
	m.ObserveProof(txA, VerifiedInfo{Height: 5, HeaderHash: headerH})
	m.ObserveProof(txB, VerifiedInfo{Height: 5, HeaderHash: headerH})
	m.UndoForReorg(5, lookupFrom(nil))

	// txB gets a fresh report before the timeout.
	m.ObserveHeight(txB, 6)

	clk.SetTime(testTime.Add(time.Minute))
	require.Empty(t, m.ExpireStale(time.Hour))

	clk.SetTime(testTime.Add(2 * time.Hour))
	require.Equal(t, []chainhash.Hash{txA}, m.ExpireStale(time.Hour))
	require.Equal(t, HeightLocal, m.Height(txA))
	require.Equal(t, int32(6), m.Height(txB))
	require.Zero(t, m.NumDemoted())
}

// TestSortKey checks the chronological ordering tiers.
func TestSortKey(t *testing.T) {
	t.Parallel()

	m, _ := newMachine()
	verified := chainhash.Hash{1}
	verifiedLater := chainhash.Hash{2}
	reported := chainhash.Hash{3}
	mempool := chainhash.Hash{4}
	unconfParent := chainhash.Hash{5}
	untracked := chainhash.Hash{6}

	m.ObserveProof(verified, VerifiedInfo{Height: 10, TxPos: 5})
	m.ObserveProof(verifiedLater, VerifiedInfo{Height: 10, TxPos: 6})
	m.ObserveHeight(reported, 11)
	m.ObserveHeight(mempool, HeightUnconfirmed)
	m.ObserveHeight(unconfParent, HeightUnconfParent)

	order := []chainhash.Hash{
		verified, verifiedLater, reported, mempool, unconfParent,
	}
	for i := 1; i < len(order); i++ {
		require.True(t, m.SortKey(order[i-1]).Less(m.SortKey(order[i])),
			"position %d", i)
	}

	require.False(t, m.SortKey(unconfParent).Less(m.SortKey(untracked)))
	require.True(t, m.SortKey(mempool).Less(m.SortKey(untracked)))
}

// TestVerifiedCodec round trips the verified map.
func TestVerifiedCodec(t *testing.T) {
	t.Parallel()

	m, _ := newMachine()
	m.ObserveProof(txA, VerifiedInfo{
		Height: 1, Timestamp: 2, TxPos: 3, HeaderHash: headerH,
	})
	m.ObserveProof(txB, VerifiedInfo{Height: 700_000, HeaderHash: headerX})

	var b bytes.Buffer
	require.NoError(t, m.EncodeVerified(&b))

	restored, _ := newMachine()
	require.NoError(t, restored.DecodeVerified(&b))
	require.Equal(t, m.verified, restored.verified)
}
