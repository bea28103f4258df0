package ledger

import (
	"sort"

	"github.com/btcsuite/btcd/wire"
	"github.com/commerceblock/spvledger/txrecord"
)

// Balance splits a value into confirmed, unconfirmed and immature coinbase
// parts.
type Balance struct {
	Confirmed   int64
	Unconfirmed int64
	Immature    int64
}

// Total returns the sum of every part.
func (b Balance) Total() int64 {
	return b.Confirmed + b.Unconfirmed + b.Immature
}

func (b Balance) add(o Balance) Balance {
	return Balance{
		Confirmed:   b.Confirmed + o.Confirmed,
		Unconfirmed: b.Unconfirmed + o.Unconfirmed,
		Immature:    b.Immature + o.Immature,
	}
}

// Received is an output paid to a watched address.
type Received struct {
	Height   int32
	Value    int64
	Asset    txrecord.Asset
	Coinbase bool
	Script   []byte
}

// AddrIO returns the outputs received by addr and, for those spent, the
// height of the spending transaction.
func (l *Ledger) AddrIO(addr string) (map[wire.OutPoint]Received,
	map[wire.OutPoint]int32) {

	unlock := l.rlockAll()
	defer unlock()

	return l.addrIOLocked(addr)
}

// NOTE: must be called with stateMtx and graphMtx held.
func (l *Ledger) addrIOLocked(addr string) (map[wire.OutPoint]Received,
	map[wire.OutPoint]int32) {

	hist := l.addressHistoryLocked(addr)

	received := make(map[wire.OutPoint]Received)
	for _, item := range hist {
		for _, out := range l.store.Outputs(item.TxID, addr) {
			op := wire.OutPoint{Hash: item.TxID, Index: out.Index}
			received[op] = Received{
				Height:   item.Height,
				Value:    out.Value,
				Asset:    out.Asset,
				Coinbase: out.Coinbase,
				Script:   out.Script,
			}
		}
	}

	sent := make(map[wire.OutPoint]int32)
	for _, item := range hist {
		for _, in := range l.store.Inputs(item.TxID, addr) {
			sent[in.OutPoint] = item.Height
		}
	}

	return received, sent
}

// AddrReceived returns the total value ever received by addr.
func (l *Ledger) AddrReceived(addr string) int64 {
	received, _ := l.AddrIO(addr)

	var total int64
	for _, r := range received {
		total += r.Value
	}

	return total
}

// AddrBalance returns the balance of addr.
func (l *Ledger) AddrBalance(addr string) Balance {
	ctx := l.newReadCtx()

	unlock := l.rlockAll()
	defer unlock()

	return l.addrBalanceLocked(ctx, addr)
}

// addrBalanceLocked credits every received output to the bucket its own
// height selects and debits a spent one from the bucket of the spending
// height, so confirmed receipts are debited by unconfirmed spends right away.
//
// NOTE: must be called with stateMtx and graphMtx held.
func (l *Ledger) addrBalanceLocked(ctx readCtx, addr string) Balance {
	received, sent := l.addrIOLocked(addr)

	var b Balance
	for op, r := range received {
		switch {
		case r.Coinbase && l.isImmature(ctx, r.Height):
			b.Immature += r.Value
		case r.Height > 0:
			b.Confirmed += r.Value
		default:
			b.Unconfirmed += r.Value
		}

		spendHeight, ok := sent[op]
		if !ok {
			continue
		}
		if spendHeight > 0 {
			b.Confirmed -= r.Value
		} else {
			b.Unconfirmed -= r.Value
		}
	}

	return b
}

func (l *Ledger) isImmature(ctx readCtx, height int32) bool {
	return height+l.cfg.Params.CoinbaseMaturity > ctx.localHeight
}

// Balance returns the summed balance of domain, every watched address if
// domain is empty.
func (l *Ledger) Balance(domain []string) Balance {
	ctx := l.newReadCtx()

	unlock := l.rlockAll()
	defer unlock()

	return l.balanceLocked(ctx, l.domainLocked(domain, nil))
}

// NOTE: must be called with stateMtx and graphMtx held.
func (l *Ledger) balanceLocked(ctx readCtx, domain []string) Balance {
	var total Balance
	for _, addr := range domain {
		total = total.add(l.addrBalanceLocked(ctx, addr))
	}

	return total
}

// IsEmpty reports whether addr holds no value.
func (l *Ledger) IsEmpty(addr string) bool {
	return l.AddrBalance(addr).Total() == 0
}

// domainLocked returns the sorted set of domain minus excluded. An empty
// domain selects every watched address.
//
// NOTE: must be called with stateMtx held.
func (l *Ledger) domainLocked(domain []string,
	excluded map[string]struct{}) []string {

	if len(domain) == 0 {
		domain = l.addressesLocked()
	}

	seen := make(map[string]struct{}, len(domain))
	out := make([]string, 0, len(domain))
	for _, addr := range domain {
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}

		if _, ok := excluded[addr]; ok {
			continue
		}
		out = append(out, addr)
	}
	sort.Strings(out)

	return out
}
