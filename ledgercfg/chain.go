package ledgercfg

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/commerceblock/spvledger/ledger"
	"github.com/commerceblock/spvledger/txrecord"
)

const (
	// MainnetName selects the Ocean main network.
	MainnetName = "mainnet"

	// TestnetName selects the Ocean public test network.
	TestnetName = "testnet"

	// RegtestName selects a local regression test network.
	RegtestName = "regtest"

	// SimnetName selects a locally hosted network sharing the main
	// network's address encoding.
	SimnetName = "simnet"
)

// NetParams couples the btcd parameters used to encode addresses with the
// policy constants of an Ocean network.
type NetParams struct {
	*chaincfg.Params

	// WhitelistAsset tags outputs that carry policy credentials.
	WhitelistAsset txrecord.Asset

	// WhitelistSink is the policy issuer's address.
	WhitelistSink string
}

// LedgerParams returns the network constants in the form the ledger takes
// them.
func (p *NetParams) LedgerParams(maturity int32) ledger.ChainParams {
	return ledger.ChainParams{
		Net:              p.Params,
		WhitelistAsset:   p.WhitelistAsset,
		WhitelistSink:    p.WhitelistSink,
		CoinbaseMaturity: maturity,
	}
}

// Decoder returns a wire decoder tagging outputs with the network's policy
// asset, which whitelist transactions are recognized by.
func (p *NetParams) Decoder() *txrecord.WireDecoder {
	return &txrecord.WireDecoder{
		Params: p.Params,
		Asset:  p.WhitelistAsset,
	}
}

var (
	// OceanMainNetParams are the parameters of the Ocean main network.
	OceanMainNetParams = newNetParams(
		chaincfg.MainNetParams, MainnetName, "50002",
		"c66cb6eb7cd585788b294be28c8dcd6be4e37a0a6d238236b11c0beb25833bb9",
		38, 97, 0xb4, "bc",
		"d109a2432528b0a9208e7f4258f569e246c25bd0cd90f4d8160f1704be833c23",
		"GT3NDU8J5NkBeZf6sU2UoHjc1uaiyES5Ld",
	)

	// OceanTestNetParams are the parameters of the Ocean test network.
	// Addresses use the main network encoding.
	OceanTestNetParams = newNetParams(
		chaincfg.TestNet3Params, TestnetName, "50002",
		"9e18c41bcffcb32e1fe3ec5f305baa61696e21fba1e570cfafc3a250013cce26",
		38, 97, 0xb4, "bc",
		"d09fe09cd516d723ed62a99d86cda67094ddefd2222f8049b6a858cee40ef94f",
		"GR4ha3BeUaMvekwX5JeDbsB54yYhPcJrRZ",
	)

	// OceanRegTestParams are the parameters of a regression test network.
	// Its genesis depends on the node, the btcd default is kept.
	OceanRegTestParams = newNetParams(
		chaincfg.RegressionNetParams, RegtestName, "51002", "",
		111, 196, 0xef, "tb",
		"d109a2432528b0a9208e7f4258f569e246c25bd0cd90f4d8160f1704be833c23",
		"GT3NDU8J5NkBeZf6sU2UoHjc1uaiyES5Ld",
	)

	// OceanSimNetParams are the parameters of a locally hosted network.
	OceanSimNetParams = newNetParams(
		chaincfg.SimNetParams, SimnetName, "50001",
		"6781e844009f9492a6b2f185d4984addf51343f0e22792e130116499149af051",
		38, 97, 0xb4, "bc",
		"d109a2432528b0a9208e7f4258f569e246c25bd0cd90f4d8160f1704be833c23",
		"GT3NDU8J5NkBeZf6sU2UoHjc1uaiyES5Ld",
	)
)

// newNetParams derives Ocean parameters from base. It panics on malformed
// constants.
func newNetParams(base chaincfg.Params, name, port, genesis string,
	p2pkh, p2sh, wif byte, hrp, asset, sink string) *NetParams {

	base.Name = name
	base.DefaultPort = port
	base.PubKeyHashAddrID = p2pkh
	base.ScriptHashAddrID = p2sh
	base.PrivateKeyID = wif
	base.Bech32HRPSegwit = hrp

	if genesis != "" {
		hash, err := chainhash.NewHashFromStr(genesis)
		if err != nil {
			panic(err)
		}
		base.GenesisHash = hash
	}

	whitelistAsset, err := txrecord.AssetFromHex(asset)
	if err != nil {
		panic(err)
	}

	return &NetParams{
		Params:         &base,
		WhitelistAsset: whitelistAsset,
		WhitelistSink:  sink,
	}
}

// Chain selects the network and its consensus knobs.
type Chain struct {
	Network string `long:"network" description:"The network to run on." choice:"mainnet" choice:"testnet" choice:"regtest" choice:"simnet"`

	CoinbaseMaturity int32 `long:"coinbasematurity" description:"Number of blocks before a coinbase output is spendable."`
}

// DefaultChain returns the main network with the default maturity.
func DefaultChain() *Chain {
	return &Chain{
		Network:          MainnetName,
		CoinbaseMaturity: ledger.DefaultCoinbaseMaturity,
	}
}

// Validate checks that the network is known and the maturity positive.
func (c *Chain) Validate() error {
	if _, err := c.Params(); err != nil {
		return err
	}
	if c.CoinbaseMaturity <= 0 {
		return fmt.Errorf("coinbase maturity must be positive, got %d",
			c.CoinbaseMaturity)
	}

	return nil
}

// Params returns the parameters of the selected network.
func (c *Chain) Params() (*NetParams, error) {
	switch c.Network {
	case MainnetName:
		return OceanMainNetParams, nil

	case TestnetName:
		return OceanTestNetParams, nil

	case RegtestName:
		return OceanRegTestParams, nil

	case SimnetName:
		return OceanSimNetParams, nil

	default:
		return nil, fmt.Errorf("unknown network %q", c.Network)
	}
}

// Compile-time constraint to ensure Chain implements the Validator interface.
var _ Validator = (*Chain)(nil)
