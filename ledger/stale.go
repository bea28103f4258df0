package ledger

import (
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// ExpireStale turns local every reorg-demoted transaction the feed has not
// reported again within the configured stale timeout, and cancels its
// pending proof. It returns the expired txids.
func (l *Ledger) ExpireStale() []chainhash.Hash {
	if l.cfg.StaleTimeout <= 0 {
		return nil
	}

	var fx effects
	defer l.apply(&fx)

	l.stateMtx.Lock()
	defer l.stateMtx.Unlock()

	expired := l.proofs.ExpireStale(l.cfg.StaleTimeout)
	for _, txid := range expired {
		log.Infof("Reorg-demoted tx %v got no feed update within %v, "+
			"making it local", txid, l.cfg.StaleTimeout)
		fx.cancelProof(txid)
	}

	return expired
}

// staleSweeper periodically expires stale reorg-demoted entries.
//
// NOTE: MUST be run as a goroutine.
func (l *Ledger) staleSweeper() {
	defer l.wg.Done()

	t := l.cfg.SweepTicker
	t.Resume()
	defer t.Stop()

	for {
		select {
		case <-t.Ticks():
			l.ExpireStale()

		case <-l.quit:
			return
		}
	}
}

func sortHashes(hashes []chainhash.Hash) {
	sort.Slice(hashes, func(i, j int) bool {
		return string(hashes[i][:]) < string(hashes[j][:])
	})
}
