package txrecord

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Asset identifies the issued asset carried by an output. Chains without
// issuance use a single native asset for every output.
type Asset [32]byte

// String returns the hex encoding of the asset id.
func (a Asset) String() string {
	return hex.EncodeToString(a[:])
}

// AssetFromHex parses a 64 character hex asset id.
func AssetFromHex(s string) (Asset, error) {
	var a Asset

	b, err := hex.DecodeString(s)
	if err != nil {
		return a, fmt.Errorf("invalid asset id %q: %w", s, err)
	}
	if len(b) != len(a) {
		return a, fmt.Errorf("invalid asset id length: %d", len(b))
	}
	copy(a[:], b)

	return a, nil
}

// OutputKind tags how an output pays its value.
type OutputKind uint8

const (
	// KindNull is an output the decoder could not attribute to any
	// address, e.g. a non-standard script.
	KindNull OutputKind = iota

	// KindAddress pays to an encoded address.
	KindAddress

	// KindPubKey pays directly to a public key. Its address is the P2PKH
	// address of that key.
	KindPubKey

	// KindData carries only an embedded data payload.
	KindData
)

// String returns a human readable name for the output kind.
func (k OutputKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindAddress:
		return "address"
	case KindPubKey:
		return "pubkey"
	case KindData:
		return "data"
	default:
		return "unknown"
	}
}

// TxIn is a decoded transaction input.
type TxIn struct {
	// PrevOut is the outpoint spent by this input. It is meaningless for
	// coinbase inputs.
	PrevOut wire.OutPoint

	// Coinbase is set on the minting input of a coinbase transaction.
	Coinbase bool

	// Address is the address the decoder attributed to the input from its
	// signature script. It may be empty or PubKeyInputMarker, in which
	// case the funding output is consulted.
	Address string

	// Asset is the asset of the spent output, if the decoder knows it.
	Asset Asset
}

// TxOut is a decoded transaction output.
type TxOut struct {
	Kind OutputKind

	// Address is set for KindAddress outputs.
	Address string

	// PubKey is the serialized public key of KindPubKey outputs.
	PubKey []byte

	Value int64

	Asset Asset

	PkScript []byte

	// Data is the embedded policy payload an output carries, if any. An
	// output may carry a payload and still pay an address.
	Data []byte
}

// HasData reports whether the output embeds a data payload.
func (o *TxOut) HasData() bool {
	return len(o.Data) > 0
}

// Tx is a fully known transaction body.
type Tx struct {
	Hash chainhash.Hash

	Inputs  []TxIn
	Outputs []TxOut

	// Whitelist is set when the feed classified the transaction as a
	// protocol whitelist transaction.
	Whitelist bool
}

// TxID returns the transaction id.
func (t *Tx) TxID() chainhash.Hash {
	return t.Hash
}

// IsCoinbase reports whether the transaction mints new issuance.
func (t *Tx) IsCoinbase() bool {
	return len(t.Inputs) > 0 && t.Inputs[0].Coinbase
}

// OutPoint returns the outpoint of the tx's n-th output.
func (t *Tx) OutPoint(n uint32) wire.OutPoint {
	return wire.OutPoint{Hash: t.Hash, Index: n}
}

// SpentOutPoints returns every outpoint spent by a non-coinbase input.
func (t *Tx) SpentOutPoints() []wire.OutPoint {
	ops := make([]wire.OutPoint, 0, len(t.Inputs))
	for _, in := range t.Inputs {
		if in.Coinbase {
			continue
		}
		ops = append(ops, in.PrevOut)
	}

	return ops
}

// Decoder turns raw transaction bytes delivered by the feed into a Tx.
type Decoder interface {
	DecodeTx(raw []byte) (*Tx, error)
}
