package ledger

import (
	"sort"

	"github.com/btcsuite/btcd/wire"
	"github.com/commerceblock/spvledger/txrecord"
)

// Utxo is an unspent output paying a watched address.
type Utxo struct {
	Address  string
	OutPoint wire.OutPoint
	Value    int64
	Asset    txrecord.Asset
	Height   int32
	Coinbase bool
	Script   []byte
}

type utxoOptions struct {
	excluded      map[string]struct{}
	mature        bool
	confirmedOnly bool
}

// UtxoOption tweaks a Utxos query.
type UtxoOption func(*utxoOptions)

// WithExcluded drops the given addresses from the queried domain.
func WithExcluded(addrs ...string) UtxoOption {
	return func(o *utxoOptions) {
		if o.excluded == nil {
			o.excluded = make(map[string]struct{}, len(addrs))
		}
		for _, addr := range addrs {
			o.excluded[addr] = struct{}{}
		}
	}
}

// MatureOnly skips coinbase outputs still inside the maturity window.
func MatureOnly() UtxoOption {
	return func(o *utxoOptions) {
		o.mature = true
	}
}

// ConfirmedOnly skips outputs of unconfirmed or local transactions.
func ConfirmedOnly() UtxoOption {
	return func(o *utxoOptions) {
		o.confirmedOnly = true
	}
}

// AddrUtxos returns the unspent outputs of addr.
func (l *Ledger) AddrUtxos(addr string) []Utxo {
	unlock := l.rlockAll()
	defer unlock()

	return l.addrUtxosLocked(addr)
}

// NOTE: must be called with stateMtx and graphMtx held.
func (l *Ledger) addrUtxosLocked(addr string) []Utxo {
	received, sent := l.addrIOLocked(addr)

	utxos := make([]Utxo, 0, len(received))
	for op, r := range received {
		if _, ok := sent[op]; ok {
			continue
		}
		utxos = append(utxos, Utxo{
			Address:  addr,
			OutPoint: op,
			Value:    r.Value,
			Asset:    r.Asset,
			Height:   r.Height,
			Coinbase: r.Coinbase,
			Script:   r.Script,
		})
	}
	sortUtxos(utxos)

	return utxos
}

// Utxos returns the unspent outputs of domain, every watched address if
// domain is empty.
func (l *Ledger) Utxos(domain []string, opts ...UtxoOption) []Utxo {
	var o utxoOptions
	for _, opt := range opts {
		opt(&o)
	}

	ctx := l.newReadCtx()

	unlock := l.rlockAll()
	defer unlock()

	var coins []Utxo
	for _, addr := range l.domainLocked(domain, o.excluded) {
		for _, u := range l.addrUtxosLocked(addr) {
			if o.confirmedOnly && u.Height <= 0 {
				continue
			}
			if o.mature && u.Coinbase && l.isImmature(ctx, u.Height) {
				continue
			}
			coins = append(coins, u)
		}
	}

	return coins
}

func sortUtxos(utxos []Utxo) {
	sort.Slice(utxos, func(i, j int) bool {
		a, b := utxos[i].OutPoint, utxos[j].OutPoint
		if a.Hash != b.Hash {
			return string(a.Hash[:]) < string(b.Hash[:])
		}

		return a.Index < b.Index
	})
}
