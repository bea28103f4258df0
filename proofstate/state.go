package proofstate

import (
	"sort"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
)

const (
	// HeightLocal marks a transaction the feed never reported.
	HeightLocal int32 = -2

	// HeightUnconfParent marks a mempool transaction spending another
	// unconfirmed transaction.
	HeightUnconfParent int32 = -1

	// HeightUnconfirmed marks a mempool transaction.
	HeightUnconfirmed int32 = 0
)

// IsUnconfirmed reports whether height is one of the mempool sentinels.
func IsUnconfirmed(height int32) bool {
	return height == HeightUnconfirmed || height == HeightUnconfParent
}

// VerifiedInfo is the proof-backed position of a transaction in the chain.
type VerifiedInfo struct {
	Height     int32
	Timestamp  uint32
	TxPos      uint32
	HeaderHash chainhash.Hash
}

// TxMinedStatus summarizes where a transaction is believed to be mined.
type TxMinedStatus struct {
	Height        int32
	Confirmations int32
	Timestamp     fn.Option[uint32]
	HeaderHash    fn.Option[chainhash.Hash]
}

// SortKey orders transactions chronologically. Verified transactions first
// by height and position, then every unverified or local transaction, then
// transactions that are not tracked at all.
type SortKey struct {
	Height int64
	Pos    uint32
}

// Less reports whether k sorts before o.
func (k SortKey) Less(o SortKey) bool {
	if k.Height != o.Height {
		return k.Height < o.Height
	}

	return k.Pos < o.Pos
}

// unconfirmedBase places unconfirmed transactions above any real height.
const unconfirmedBase = 1_000_000_000

// HeaderLookup returns the hash of the local header at height, if any.
type HeaderLookup func(height int32) fn.Option[chainhash.Hash]

// Machine tracks for every transaction whether its height is only reported
// by the feed or backed by a verified proof. A transaction in neither map is
// local.
//
// Machine is not safe for concurrent use.
type Machine struct {
	clock clock.Clock

	verified   map[chainhash.Hash]VerifiedInfo
	unverified map[chainhash.Hash]int32

	// demoted records when a reorg pushed a verified entry back to
	// unverified at its old height. Cleared by any later height report.
	demoted map[chainhash.Hash]time.Time
}

// New returns an empty machine.
func New(clk clock.Clock) *Machine {
	m := &Machine{clock: clk}
	m.Reset()

	return m
}

// Reset forgets every transaction.
func (m *Machine) Reset() {
	m.verified = make(map[chainhash.Hash]VerifiedInfo)
	m.unverified = make(map[chainhash.Hash]int32)
	m.demoted = make(map[chainhash.Hash]time.Time)
}

// ObserveHeight records a height reported by the feed. It returns true if
// any pending proof request for txid should be cancelled.
//
// A verified transaction is only touched when the feed reports it back in
// the mempool, in which case it is demoted to Unverified(height).
func (m *Machine) ObserveHeight(txid chainhash.Hash, height int32) bool {
	delete(m.demoted, txid)

	if _, ok := m.verified[txid]; ok {
		if !IsUnconfirmed(height) {
			return false
		}

		log.Debugf("Demoting verified tx %v, feed reports height %d",
			txid, height)

		delete(m.verified, txid)
		m.unverified[txid] = height

		return true
	}

	m.unverified[txid] = height

	return true
}

// ObserveProof promotes txid to verified.
func (m *Machine) ObserveProof(txid chainhash.Hash, info VerifiedInfo) {
	delete(m.unverified, txid)
	delete(m.demoted, txid)
	m.verified[txid] = info
}

// Forget turns txid local. It returns true if txid was tracked.
func (m *Machine) Forget(txid chainhash.Hash) bool {
	_, inVerified := m.verified[txid]
	_, inUnverified := m.unverified[txid]

	delete(m.verified, txid)
	delete(m.unverified, txid)
	delete(m.demoted, txid)

	return inVerified || inUnverified
}

// UndoForReorg demotes every verified entry at or above cutoff whose header
// is missing or no longer matches. Demoted entries keep their height. The
// returned map holds the affected txids and their heights.
func (m *Machine) UndoForReorg(cutoff int32,
	lookup HeaderLookup) map[chainhash.Hash]int32 {

	affected := make(map[chainhash.Hash]int32)
	now := m.clock.Now()

	for txid, info := range m.verified {
		if info.Height < cutoff {
			continue
		}

		hash := lookup(info.Height)
		if hash.IsSome() && hash.UnsafeFromSome() == info.HeaderHash {
			continue
		}

		delete(m.verified, txid)
		m.unverified[txid] = info.Height
		m.demoted[txid] = now
		affected[txid] = info.Height
	}

	if len(affected) > 0 {
		log.Infof("Reorg at height %d invalidated %d proofs", cutoff,
			len(affected))
	}

	return affected
}

// ExpireStale turns local every reorg-demoted entry that has not received a
// feed update within timeout. It returns the expired txids.
func (m *Machine) ExpireStale(timeout time.Duration) []chainhash.Hash {
	var (
		expired []chainhash.Hash
		now     = m.clock.Now()
	)
	for txid, at := range m.demoted {
		if now.Sub(at) < timeout {
			continue
		}

		delete(m.demoted, txid)
		delete(m.unverified, txid)
		expired = append(expired, txid)
	}

	sortHashes(expired)

	return expired
}

// IsVerified reports whether txid has a verified proof.
func (m *Machine) IsVerified(txid chainhash.Hash) bool {
	_, ok := m.verified[txid]
	return ok
}

// VerifiedInfo returns the proof info of txid.
func (m *Machine) VerifiedInfo(txid chainhash.Hash) fn.Option[VerifiedInfo] {
	info, ok := m.verified[txid]
	if !ok {
		return fn.None[VerifiedInfo]()
	}

	return fn.Some(info)
}

// Height returns the best known height of txid, HeightLocal if untracked.
func (m *Machine) Height(txid chainhash.Hash) int32 {
	if info, ok := m.verified[txid]; ok {
		return info.Height
	}
	if height, ok := m.unverified[txid]; ok {
		return height
	}

	return HeightLocal
}

// Confirmations returns the confirmation count of txid at localHeight.
// Only verified transactions have confirmations.
func (m *Machine) Confirmations(txid chainhash.Hash, localHeight int32) int32 {
	info, ok := m.verified[txid]
	if !ok {
		return 0
	}

	return max(localHeight-info.Height+1, 0)
}

// Status returns the mined status of txid at localHeight.
func (m *Machine) Status(txid chainhash.Hash, localHeight int32) TxMinedStatus {
	if info, ok := m.verified[txid]; ok {
		return TxMinedStatus{
			Height:        info.Height,
			Confirmations: max(localHeight-info.Height+1, 0),
			Timestamp:     fn.Some(info.Timestamp),
			HeaderHash:    fn.Some(info.HeaderHash),
		}
	}

	return TxMinedStatus{Height: m.Height(txid)}
}

// SortKey returns the chronological sort key of txid.
func (m *Machine) SortKey(txid chainhash.Hash) SortKey {
	if info, ok := m.verified[txid]; ok {
		return SortKey{Height: int64(info.Height), Pos: info.TxPos}
	}
	if height, ok := m.unverified[txid]; ok {
		if height > 0 {
			return SortKey{Height: int64(height)}
		}

		return SortKey{Height: unconfirmedBase - int64(height)}
	}

	return SortKey{Height: unconfirmedBase + 1}
}

// Unverified returns a copy of the unverified heights.
func (m *Machine) Unverified() map[chainhash.Hash]int32 {
	out := make(map[chainhash.Hash]int32, len(m.unverified))
	for txid, height := range m.unverified {
		out[txid] = height
	}

	return out
}

// NumVerified returns the number of verified entries.
func (m *Machine) NumVerified() int {
	return len(m.verified)
}

// NumUnverified returns the number of unverified entries.
func (m *Machine) NumUnverified() int {
	return len(m.unverified)
}

// NumDemoted returns the number of reorg-demoted entries awaiting a feed
// update.
func (m *Machine) NumDemoted() int {
	return len(m.demoted)
}

func sortHashes(hashes []chainhash.Hash) {
	sort.Slice(hashes, func(i, j int) bool {
		return string(hashes[i][:]) < string(hashes[j][:])
	})
}
