package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/commerceblock/spvledger"
	"github.com/commerceblock/spvledger/ledger"
	"github.com/commerceblock/spvledger/ledgercfg"
	"github.com/commerceblock/spvledger/ledgerdb"
	"github.com/urfave/cli"
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[ledgercli] %v\n", err)
	os.Exit(1)
}

// openLedger loads the ledger of the selected network without any network
// collaborator. The daemon must not be running, it holds the database lock.
func openLedger(ctx *cli.Context) (*ledger.Ledger, func(), error) {
	chain := &ledgercfg.Chain{
		Network:          ctx.GlobalString("network"),
		CoinbaseMaturity: int32(ctx.GlobalInt("coinbasematurity")),
	}
	if err := chain.Validate(); err != nil {
		return nil, nil, err
	}
	params, err := chain.Params()
	if err != nil {
		return nil, nil, err
	}

	dataDir := ctx.GlobalString("datadir")
	if dataDir == "" {
		dataDir = filepath.Join(
			ledgercfg.CleanAndExpandPath(ctx.GlobalString("spvdir")),
			"data",
		)
	}
	dbPath := filepath.Join(
		ledgercfg.CleanAndExpandPath(dataDir), params.Name,
		ledgercfg.DBName,
	)
	if _, err := os.Stat(dbPath); err != nil {
		return nil, nil, fmt.Errorf("no ledger database at %v: %w",
			dbPath, err)
	}

	db, err := ledgerdb.OpenBolt(
		dbPath, true, ctx.GlobalDuration("dbtimeout"),
	)
	if err != nil {
		return nil, nil, err
	}
	store, err := ledgerdb.NewStore(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	l, err := ledger.New(&ledger.Config{
		Params:  params.LedgerParams(chain.CoinbaseMaturity),
		Storage: store,
		Decoder: params.Decoder(),
	})
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	// The ledger is never stopped, so inspecting it writes nothing.
	cleanUp := func() {
		_ = store.Close()
	}

	return l, cleanUp, nil
}

func main() {
	app := cli.NewApp()
	app.Name = "ledgercli"
	app.Usage = "inspect the database of a stopped ledger daemon"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:      "spvdir",
			Value:     spvledger.DefaultSpvDir,
			Usage:     "The path to the daemon's base directory.",
			TakesFile: true,
		},
		cli.StringFlag{
			Name: "datadir",
			Usage: "The daemon's data directory, if not below " +
				"spvdir.",
			TakesFile: true,
		},
		cli.StringFlag{
			Name: "network, n",
			Usage: "The network the daemon runs on, e.g. mainnet, " +
				"testnet, regtest.",
			Value: ledgercfg.MainnetName,
		},
		cli.IntFlag{
			Name:  "coinbasematurity",
			Usage: "Blocks before a coinbase output is spendable.",
			Value: ledger.DefaultCoinbaseMaturity,
		},
		cli.DurationFlag{
			Name:  "dbtimeout",
			Usage: "How long to wait for the database lock.",
			Value: defaultDBTimeout,
		},
	}
	app.Commands = []cli.Command{
		balanceCommand,
		utxosCommand,
		historyCommand,
		txStatusCommand,
		addressesCommand,
		keysCommand,
		statsCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}

// amount renders satoshis the way the wallet displays them.
func amount(sats int64) string {
	return btcutil.Amount(sats).String()
}
