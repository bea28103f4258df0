package ledger

import (
	"github.com/btcsuite/btcd/wire"
	"github.com/commerceblock/spvledger/credentials"
	"github.com/commerceblock/spvledger/txrecord"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// ParseWhitelistTx applies a policy transaction to the credential ledger.
// Inputs spending a whitelist output release the registration key assigned
// to it. Whitelist outputs paying an unknown address other than the issuer
// sink become whitelist watches, and those carrying a payload publish a new
// unassigned key. It returns the number of keys published.
func (l *Ledger) ParseWhitelistTx(tx *txrecord.Tx) int {
	var fx effects
	defer l.apply(&fx)

	unlock := l.lockAll()
	defer unlock()

	return l.parseWhitelistTxLocked(tx, &fx)
}

// NOTE: must be called with stateMtx and graphMtx held for writing.
func (l *Ledger) parseWhitelistTxLocked(tx *txrecord.Tx, fx *effects) int {
	asset := l.cfg.Params.WhitelistAsset

	for _, prev := range tx.SpentOutPoints() {
		_, out, ok := l.store.FundingOutput(prev)
		if !ok || out.Asset != asset {
			continue
		}

		if n := l.creds.UnassignOutPoint(prev); n > 0 {
			log.Debugf("Whitelist tx %v consumed %d keys at %v",
				tx.TxID(), n, prev)
		}
		l.upToDate = false
	}

	var published int
	for n := range tx.Outputs {
		out := &tx.Outputs[n]
		if out.Asset != asset {
			continue
		}

		switch out.Kind {
		case txrecord.KindAddress, txrecord.KindPubKey:
			addr := l.store.OutputAddress(out)
			if addr != "" && addr != l.cfg.Params.WhitelistSink &&
				!l.isMineLocked(addr) {

				l.addWhitelistAddressLocked(addr, fx)
			}
		}

		if !out.HasData() {
			continue
		}

		key, ok := credentials.DecodePayload(out.Data)
		if !ok {
			log.Warnf("Ignoring short whitelist payload in %v:%d",
				tx.TxID(), n)
			continue
		}

		l.creds.Assign(key, tx.OutPoint(uint32(n)))
		l.upToDate = false
		published++
	}

	return published
}

// UnassignedKey returns an arbitrary unassigned registration key without
// removing it.
func (l *Ledger) UnassignedKey() fn.Option[string] {
	l.stateMtx.RLock()
	defer l.stateMtx.RUnlock()

	return l.creds.TakeRandom()
}

// UnassignedKeys returns every unassigned registration key with the outpoint
// carrying it.
func (l *Ledger) UnassignedKeys() map[string]wire.OutPoint {
	l.stateMtx.RLock()
	defer l.stateMtx.RUnlock()

	keys := l.creds.Keys()
	out := make(map[string]wire.OutPoint, len(keys))
	for _, k := range keys {
		l.creds.OutPoint(k).WhenSome(func(op wire.OutPoint) {
			out[k] = op
		})
	}

	return out
}

// IsUnassignedKey reports whether key is published and unassigned.
func (l *Ledger) IsUnassignedKey(key string) bool {
	l.stateMtx.RLock()
	defer l.stateMtx.RUnlock()

	return l.creds.IsUnassigned(key)
}

// AssignKey records key as unassigned at op.
func (l *Ledger) AssignKey(key string, op wire.OutPoint) {
	l.stateMtx.Lock()
	defer l.stateMtx.Unlock()

	l.creds.Assign(key, op)
	l.upToDate = false
}

// UnassignKey removes registration keys by key or by outpoint. Exactly one
// selector must be set.
func (l *Ledger) UnassignKey(key fn.Option[string],
	op fn.Option[wire.OutPoint]) (int, error) {

	l.stateMtx.Lock()
	defer l.stateMtx.Unlock()

	n, err := l.creds.Unassign(key, op)
	if err != nil {
		return 0, err
	}
	l.upToDate = false

	return n, nil
}

// SetKYCPubKey sets the wallet's own registration key.
func (l *Ledger) SetKYCPubKey(key string) {
	l.stateMtx.Lock()
	defer l.stateMtx.Unlock()

	l.creds.SetKYCPubKey(key)
}

// KYCPubKey returns the wallet's own registration key.
func (l *Ledger) KYCPubKey() fn.Option[string] {
	l.stateMtx.RLock()
	defer l.stateMtx.RUnlock()

	return l.creds.KYCPubKey()
}

// SetOnboardAddress sets the address the wallet onboarded with.
func (l *Ledger) SetOnboardAddress(addr string) {
	l.stateMtx.Lock()
	defer l.stateMtx.Unlock()

	l.creds.SetOnboardAddress(addr)
}

// OnboardAddress returns the address the wallet onboarded with.
func (l *Ledger) OnboardAddress() fn.Option[string] {
	l.stateMtx.RLock()
	defer l.stateMtx.RUnlock()

	return l.creds.OnboardAddress()
}
