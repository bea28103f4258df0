package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/commerceblock/spvledger/ledger"
	"github.com/commerceblock/spvledger/proofstate"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/urfave/cli"
)

const defaultDBTimeout = 5 * time.Second

// output is where rendered tables go.
var output io.Writer = os.Stdout

// actionDecorator opens the ledger for a command and closes it afterwards.
func actionDecorator(f func(*cli.Context, *ledger.Ledger) error) func(
	*cli.Context) error {

	return func(ctx *cli.Context) error {
		l, cleanUp, err := openLedger(ctx)
		if err != nil {
			return err
		}
		defer cleanUp()

		return f(ctx, l)
	}
}

func newTable(header ...interface{}) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(output)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row(header))

	return t
}

// domainFlag restricts a query to some addresses.
var domainFlag = cli.StringSliceFlag{
	Name:  "addr",
	Usage: "Restrict to this address. Can be repeated.",
}

var balanceCommand = cli.Command{
	Name:     "balance",
	Category: "Wallet",
	Usage:    "Show the confirmed, unconfirmed and immature balance.",
	Flags:    []cli.Flag{domainFlag},
	Action:   actionDecorator(balance),
}

func balance(ctx *cli.Context, l *ledger.Ledger) error {
	t := newTable("ADDRESS", "CONFIRMED", "UNCONFIRMED", "IMMATURE")

	addrs := ctx.StringSlice("addr")
	if len(addrs) == 0 {
		addrs = l.Addresses()
	}
	for _, addr := range addrs {
		b := l.AddrBalance(addr)
		t.AppendRow(table.Row{
			addr, amount(b.Confirmed), amount(b.Unconfirmed),
			amount(b.Immature),
		})
	}

	total := l.Balance(ctx.StringSlice("addr"))
	t.AppendFooter(table.Row{
		"TOTAL", amount(total.Confirmed), amount(total.Unconfirmed),
		amount(total.Immature),
	})
	t.Render()

	return nil
}

var utxosCommand = cli.Command{
	Name:     "utxos",
	Category: "Wallet",
	Usage:    "List the unspent outputs of the wallet.",
	Flags: []cli.Flag{
		domainFlag,
		cli.BoolFlag{
			Name:  "confirmed",
			Usage: "Only list outputs of confirmed transactions.",
		},
		cli.BoolFlag{
			Name:  "mature",
			Usage: "Skip immature coinbase outputs.",
		},
		cli.StringSliceFlag{
			Name:  "exclude",
			Usage: "Skip outputs paying this address.",
		},
	},
	Action: actionDecorator(utxos),
}

func utxos(ctx *cli.Context, l *ledger.Ledger) error {
	var opts []ledger.UtxoOption
	if ctx.Bool("confirmed") {
		opts = append(opts, ledger.ConfirmedOnly())
	}
	if ctx.Bool("mature") {
		opts = append(opts, ledger.MatureOnly())
	}
	if excluded := ctx.StringSlice("exclude"); len(excluded) > 0 {
		opts = append(opts, ledger.WithExcluded(excluded...))
	}

	t := newTable("OUTPOINT", "ADDRESS", "VALUE", "HEIGHT")
	var sum int64
	for _, u := range l.Utxos(ctx.StringSlice("addr"), opts...) {
		sum += u.Value
		t.AppendRow(table.Row{
			u.OutPoint.String(), u.Address, amount(u.Value),
			heightString(u.Height),
		})
	}
	t.AppendFooter(table.Row{"", "TOTAL", amount(sum), ""})
	t.Render()

	return nil
}

var historyCommand = cli.Command{
	Name:     "history",
	Category: "Wallet",
	Usage:    "Show the wallet history, oldest first.",
	Flags:    []cli.Flag{domainFlag},
	Action:   actionDecorator(history),
}

func history(ctx *cli.Context, l *ledger.Ledger) error {
	t := newTable("TXID", "HEIGHT", "CONFS", "VERIFIED", "DELTA",
		"BALANCE")

	for _, e := range l.History(ctx.StringSlice("addr")) {
		t.AppendRow(table.Row{
			e.TxID.String(), heightString(e.Status.Height),
			e.Status.Confirmations, e.Status.HeaderHash.IsSome(),
			optAmount(e.Delta), optAmount(e.Balance),
		})
	}
	t.Render()

	return nil
}

var txStatusCommand = cli.Command{
	Name:      "txstatus",
	Category:  "Transactions",
	Usage:     "Show the verification state of a transaction.",
	ArgsUsage: "txid",
	Action:    actionDecorator(txStatus),
}

func txStatus(ctx *cli.Context, l *ledger.Ledger) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "txstatus")
	}

	txid, err := chainhash.NewHashFromStr(ctx.Args().First())
	if err != nil {
		return fmt.Errorf("invalid txid: %w", err)
	}

	status := l.TxMinedStatus(*txid)
	_, stored := l.Transaction(*txid)

	t := newTable("FIELD", "VALUE")
	t.AppendRows([]table.Row{
		{"stored", stored},
		{"height", heightString(status.Height)},
		{"confirmations", status.Confirmations},
		{"header", status.HeaderHash.UnwrapOr(chainhash.Hash{})},
		{"timestamp", status.Timestamp.UnwrapOr(0)},
		{"value", amount(l.TxValue(*txid))},
		{"fee", optAmount(l.TxFee(*txid))},
	})
	t.Render()

	return nil
}

var addressesCommand = cli.Command{
	Name:     "addresses",
	Category: "Wallet",
	Usage:    "List the watched addresses.",
	Action:   actionDecorator(addresses),
}

func addresses(_ *cli.Context, l *ledger.Ledger) error {
	t := newTable("ADDRESS", "TXS", "RECEIVED", "WHITELIST")
	for _, addr := range l.Addresses() {
		t.AppendRow(table.Row{
			addr, l.NumTx(addr), amount(l.AddrReceived(addr)),
			l.IsWhitelistAddress(addr),
		})
	}
	t.Render()

	return nil
}

var keysCommand = cli.Command{
	Name:     "keys",
	Category: "Credentials",
	Usage:    "List the unassigned registration keys.",
	Action:   actionDecorator(keys),
}

func keys(_ *cli.Context, l *ledger.Ledger) error {
	unassigned := l.UnassignedKeys()

	sorted := make([]string, 0, len(unassigned))
	for key := range unassigned {
		sorted = append(sorted, key)
	}
	sort.Strings(sorted)

	t := newTable("KEY", "OUTPOINT")
	for _, key := range sorted {
		t.AppendRow(table.Row{key, unassigned[key].String()})
	}
	t.AppendFooter(table.Row{
		"KYC " + l.KYCPubKey().UnwrapOr("-"),
		"ONBOARD " + l.OnboardAddress().UnwrapOr("-"),
	})
	t.Render()

	return nil
}

var statsCommand = cli.Command{
	Name:   "stats",
	Usage:  "Show the ledger sizes.",
	Action: actionDecorator(stats),
}

func stats(_ *cli.Context, l *ledger.Ledger) error {
	s := l.Stats()

	t := newTable("STAT", "VALUE")
	t.AppendRows([]table.Row{
		{"transactions", s.Transactions},
		{"addresses", s.Addresses},
		{"whitelist addresses", s.Whitelist},
		{"verified", s.Verified},
		{"unverified", s.Unverified},
		{"reorg demoted", s.Demoted},
		{"unassigned keys", s.Credentials},
		{"stored height", s.LocalHeight},
		{"up to date", s.UpToDate},
	})
	t.Render()

	return nil
}

// heightString names the mempool and local sentinels.
func heightString(height int32) string {
	switch height {
	case proofstate.HeightLocal:
		return "local"

	case proofstate.HeightUnconfParent:
		return "unconf parent"

	case proofstate.HeightUnconfirmed:
		return "mempool"

	default:
		return fmt.Sprintf("%d", height)
	}
}

// optAmount renders an unknown value as a dash.
func optAmount(v fn.Option[int64]) string {
	s := "-"
	v.WhenSome(func(sats int64) {
		s = amount(sats)
	})

	return s
}
