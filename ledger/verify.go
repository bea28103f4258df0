package ledger

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/commerceblock/spvledger/proofstate"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// AddVerified records a verified proof for txid. Subscribers are notified
// with the resulting mined status.
func (l *Ledger) AddVerified(txid chainhash.Hash, info proofstate.VerifiedInfo) {
	ctx := l.newReadCtx()

	var fx effects
	defer l.apply(&fx)

	l.stateMtx.Lock()
	defer l.stateMtx.Unlock()

	l.proofs.ObserveProof(txid, info)

	log.Debugf("Verified tx %v at height %d pos %d", txid, info.Height,
		info.TxPos)

	fx.verified = append(fx.verified, &VerifiedEvent{
		TxID:   txid,
		Status: l.proofs.Status(txid, ctx.localHeight),
	})
}

// UndoVerifications demotes every verified transaction at or above cutoff
// whose block header vanished from the local chain or changed. Demoted
// transactions stay unverified at their old height until the feed reports
// them again. The affected txids are returned for re-verification.
func (l *Ledger) UndoVerifications(cutoff int32) ([]chainhash.Hash, error) {
	chain := l.cfg.Chain
	if chain == nil {
		return nil, ErrNoChainSource
	}

	lookup := func(height int32) fn.Option[chainhash.Hash] {
		return fn.MapOption(func(hdr wire.BlockHeader) chainhash.Hash {
			return chain.HeaderHash(&hdr)
		})(chain.ReadHeaderAt(height))
	}

	l.stateMtx.Lock()
	affected := l.proofs.UndoForReorg(cutoff, lookup)
	l.stateMtx.Unlock()

	txids := make([]chainhash.Hash, 0, len(affected))
	for txid, height := range affected {
		log.Infof("Proof of tx %v at height %d undone by reorg", txid,
			height)
		txids = append(txids, txid)
	}
	sortHashes(txids)

	return txids, nil
}

// TxMinedStatus returns the height, confirmations, and when verified the
// block time and header hash of txid.
func (l *Ledger) TxMinedStatus(txid chainhash.Hash) proofstate.TxMinedStatus {
	ctx := l.newReadCtx()

	l.stateMtx.RLock()
	defer l.stateMtx.RUnlock()

	return l.proofs.Status(txid, ctx.localHeight)
}

// UnverifiedTxs returns a copy of the heights still awaiting a proof.
func (l *Ledger) UnverifiedTxs() map[chainhash.Hash]int32 {
	l.stateMtx.RLock()
	defer l.stateMtx.RUnlock()

	return l.proofs.Unverified()
}

// notifyVerified hands ev to the dispatcher. Events raised before Start or
// after Stop are dropped.
func (l *Ledger) notifyVerified(ev *VerifiedEvent) {
	if !l.started.Load() || l.stopped.Load() {
		log.Tracef("Dropping verified event for %v, ledger not running",
			ev.TxID)
		return
	}

	select {
	case l.ntfnQueue.ChanIn() <- ev:
	case <-l.quit:
	}
}

// notificationDispatcher delivers verified events to the subscriber.
//
// NOTE: MUST be run as a goroutine.
func (l *Ledger) notificationDispatcher() {
	defer l.wg.Done()

	for {
		select {
		case item := <-l.ntfnQueue.ChanOut():
			ev, ok := item.(*VerifiedEvent)
			if !ok {
				continue
			}
			if l.cfg.OnVerified != nil {
				l.cfg.OnVerified(ev)
			}

		case <-l.quit:
			return
		}
	}
}
