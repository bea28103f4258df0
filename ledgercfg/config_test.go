package ledgercfg_test

import (
	"encoding/hex"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/commerceblock/spvledger/ledgercfg"
	"github.com/commerceblock/spvledger/txrecord"
	"github.com/stretchr/testify/require"
)

// TestCleanAndExpandPath covers home and environment expansion.
func TestCleanAndExpandPath(t *testing.T) {
	t.Setenv("HOME", "/home/ledger")
	t.Setenv("LEDGER_DIR", "/var/ledger")

	require.Empty(t, ledgercfg.CleanAndExpandPath(""))
	require.Equal(t, "/var/ledger/data",
		ledgercfg.CleanAndExpandPath("$LEDGER_DIR/./data/"))

	// The current user's home takes precedence over $HOME.
	expanded := ledgercfg.CleanAndExpandPath("~/x")
	require.True(t, filepath.IsAbs(expanded))
	require.Equal(t, "x", filepath.Base(expanded))
}

// TestValidate asserts the sub configurations reject bad values and that
// Validate stops at the first failure.
func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		cfg   ledgercfg.Validator
		valid bool
	}{
		{"default db", ledgercfg.DefaultDB(), true},
		{"unknown backend", &ledgercfg.DB{Backend: "etcd"}, false},
		{"bolt missing", &ledgercfg.DB{Backend: "bolt"}, false},
		{"default chain", ledgercfg.DefaultChain(), true},
		{"unknown network", &ledgercfg.Chain{
			Network: "signet", CoinbaseMaturity: 1,
		}, false},
		{"zero maturity", &ledgercfg.Chain{Network: "regtest"}, false},
		{"default reorg", ledgercfg.DefaultReorg(), true},
		{"negative stale", &ledgercfg.Reorg{
			StaleTimeout: -time.Second,
		}, false},
		{"stale without sweep", &ledgercfg.Reorg{
			StaleTimeout: time.Hour,
		}, false},
		{"stale with sweep", &ledgercfg.Reorg{
			StaleTimeout: time.Hour, SweepInterval: time.Minute,
		}, true},
		{"default checkpoint", ledgercfg.DefaultCheckpoint(), true},
		{"negative checkpoint", &ledgercfg.Checkpoint{
			Interval: -1,
		}, false},
		{"disabled prometheus", &ledgercfg.Prometheus{}, true},
		{"bad listen", &ledgercfg.Prometheus{
			Enable: true, Listen: "8989",
		}, false},
		{"good listen", &ledgercfg.Prometheus{
			Enable: true, Listen: ":8989",
		}, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := test.cfg.Validate()
			if test.valid {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}

	err := ledgercfg.Validate(
		ledgercfg.DefaultDB(), &ledgercfg.Checkpoint{Interval: -1},
		&ledgercfg.Chain{},
	)
	require.ErrorContains(t, err, "checkpoint")
}

// TestNetParams asserts the whitelist sinks decode on their own network and
// pay the issuer's script.
func TestNetParams(t *testing.T) {
	t.Parallel()

	tests := []struct {
		network string
		hash160 string
	}{
		{
			network: ledgercfg.MainnetName,
			hash160: "64e33e58fa0a18348d94f064a09fe6ec65448ef5",
		},
		{
			network: ledgercfg.TestnetName,
			hash160: "4f33907bf3ded16fb263d01dc87cb0119732daf8",
		},
	}

	for _, test := range tests {
		t.Run(test.network, func(t *testing.T) {
			chain := &ledgercfg.Chain{
				Network: test.network, CoinbaseMaturity: 100,
			}
			params, err := chain.Params()
			require.NoError(t, err)

			addr, err := btcutil.DecodeAddress(
				params.WhitelistSink, params.Params,
			)
			require.NoError(t, err)
			require.True(t, addr.IsForNet(params.Params))
			require.Equal(t, test.hash160,
				hex.EncodeToString(addr.ScriptAddress()))

			lp := params.LedgerParams(chain.CoinbaseMaturity)
			require.Equal(t, params.WhitelistAsset, lp.WhitelistAsset)
			require.Equal(t, int32(100), lp.CoinbaseMaturity)

			dec := params.Decoder()
			require.Equal(t, params.Params, dec.Params)
			require.Equal(t, params.WhitelistAsset, dec.Asset)
			require.NotEqual(t, txrecord.Asset{}, dec.Asset)
		})
	}

	// The sink uses the main network encoding, which regtest rejects.
	_, err := btcutil.DecodeAddress(
		ledgercfg.OceanMainNetParams.WhitelistSink,
		ledgercfg.OceanRegTestParams.Params,
	)
	require.Error(t, err)

	require.Equal(t,
		"c66cb6eb7cd585788b294be28c8dcd6be4e37a0a6d238236b11c0beb25833bb9",
		ledgercfg.OceanMainNetParams.GenesisHash.String())
}

// TestOpenDB asserts the configured database opens below the data dir.
func TestOpenDB(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "nested")
	store, err := ledgercfg.DefaultDB().Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	require.FileExists(t, filepath.Join(dir, ledgercfg.DBName))
}
