package spvledger

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/commerceblock/spvledger/build"
	"github.com/commerceblock/spvledger/credentials"
	"github.com/commerceblock/spvledger/ledger"
	"github.com/commerceblock/spvledger/ledgercfg"
	"github.com/commerceblock/spvledger/ledgerdb"
	"github.com/commerceblock/spvledger/proofstate"
	"github.com/commerceblock/spvledger/txstore"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/stretchr/testify/require"
)

// regtestAddr returns a P2PKH address on the regtest network.
func regtestAddr(t *testing.T, b byte) string {
	t.Helper()

	addr, err := btcutil.NewAddressPubKeyHash(
		bytes.Repeat([]byte{b}, 20), ledgercfg.OceanRegTestParams.Params,
	)
	require.NoError(t, err)

	return addr.EncodeAddress()
}

// TestLoadConfig asserts command line options land in the config and that
// paths are made network specific.
func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	watch := regtestAddr(t, 0x01)

	cfg, err := LoadConfig([]string{
		"--spvdir=" + dir,
		"--chain.network=regtest",
		"--watch=" + watch,
		"--checkpoint.interval=1m",
		"--debuglevel=info,LEDG=debug",
	})
	require.NoError(t, err)

	require.Equal(t, filepath.Join(dir, "data", "regtest"), cfg.DataDir)
	require.Equal(t, filepath.Join(dir, "logs", "regtest"), cfg.LogDir)
	require.Equal(t, []string{watch}, cfg.Watch)
	require.Equal(t, time.Minute, cfg.Checkpoint.Interval)
	require.Equal(t, ledgercfg.OceanRegTestParams, cfg.Params())

	// A main network address is rejected on regtest.
	_, err = LoadConfig([]string{
		"--spvdir=" + dir,
		"--chain.network=regtest",
		"--watch=" + ledgercfg.OceanMainNetParams.WhitelistSink,
	})
	require.ErrorContains(t, err, "invalid watch address")

	// Debug levels are checked against the daemon's own subsystems.
	for _, subsystem := range []string{
		Subsystem, ledger.Subsystem, txstore.Subsystem,
		proofstate.Subsystem, ledgerdb.Subsystem, credentials.Subsystem,
	} {
		_, err = LoadConfig([]string{
			"--spvdir=" + dir, "--debuglevel=" + subsystem + "=trace",
		})
		require.NoError(t, err, subsystem)
	}

	_, err = LoadConfig([]string{
		"--spvdir=" + dir, "--debuglevel=HSWC=debug",
	})
	require.ErrorIs(t, err, build.ErrUnknownSubsystem)

	_, err = LoadConfig([]string{
		"--spvdir=" + dir, "--debuglevel=info,LEDG",
	})
	require.ErrorIs(t, err, build.ErrInvalidLogLevel)
}

// TestHeaderChainPersistence asserts the header chain survives being staged
// and flushed next to the ledger blobs.
func TestHeaderChainPersistence(t *testing.T) {
	t.Parallel()

	store, err := ledgercfg.DefaultDB().Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	chain, err := loadHeaderChain(store)
	require.NoError(t, err)
	require.Equal(t, int32(0), chain.LocalHeight())

	first := wire.BlockHeader{Version: 1, Nonce: 7}
	require.NoError(t, chain.Connect(1, &first))
	second := wire.BlockHeader{
		Version: 1, PrevBlock: first.BlockHash(), Nonce: 8,
	}
	require.NoError(t, chain.Connect(2, &second))

	stageHeaderChain(store, chain)
	require.NoError(t, store.Flush())

	loaded, err := loadHeaderChain(store)
	require.NoError(t, err)
	require.Equal(t, int32(2), loaded.LocalHeight())
	require.Equal(t, second.BlockHash(),
		loaded.HashAt(2).UnwrapOr(first.BlockHash()))
}

// TestRunCheckpoints asserts every tick writes a checkpoint and that the
// loop exits on quit.
func TestRunCheckpoints(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := ledgercfg.DefaultDB().Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	params := ledgercfg.OceanRegTestParams
	l, err := ledger.New(&ledger.Config{
		Params:  params.LedgerParams(100),
		Storage: store,
		Decoder: params.Decoder(),
	})
	require.NoError(t, err)

	addr := regtestAddr(t, 0x02)
	require.NoError(t, l.AddAddress(addr))

	mock := ticker.NewForce(time.Hour)
	quit := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- runCheckpoints(l, mock, quit)
	}()

	mock.Force <- time.Now()

	require.Eventually(t, func() bool {
		keys, err := store.Keys()
		return err == nil && len(keys) > 0
	}, 5*time.Second, 10*time.Millisecond)

	close(quit)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("checkpoint loop did not exit")
	}

	require.NoError(t, l.Stop())
	reopened, err := ledger.New(&ledger.Config{
		Params:  params.LedgerParams(100),
		Storage: store,
	})
	require.NoError(t, err)
	require.Equal(t, []string{addr}, reopened.Addresses())
}
