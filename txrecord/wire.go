package txrecord

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// WireDecoder decodes transactions in the bitcoin wire format. Every output
// is tagged with the single configured Asset since the format carries no
// issuance data.
type WireDecoder struct {
	Params *chaincfg.Params
	Asset  Asset
}

// A compile-time check to ensure WireDecoder implements the Decoder
// interface.
var _ Decoder = (*WireDecoder)(nil)

// DecodeTx deserializes raw and classifies its inputs and outputs.
func (d *WireDecoder) DecodeTx(raw []byte) (*Tx, error) {
	var msgTx wire.MsgTx
	if err := msgTx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("unable to deserialize tx: %w", err)
	}

	return d.FromMsgTx(&msgTx), nil
}

// FromMsgTx converts an already deserialized transaction.
func (d *WireDecoder) FromMsgTx(msgTx *wire.MsgTx) *Tx {
	tx := &Tx{
		Hash:    msgTx.TxHash(),
		Inputs:  make([]TxIn, len(msgTx.TxIn)),
		Outputs: make([]TxOut, len(msgTx.TxOut)),
	}

	coinbase := blockchain.IsCoinBaseTx(msgTx)
	for i, txIn := range msgTx.TxIn {
		tx.Inputs[i] = TxIn{
			PrevOut:  txIn.PreviousOutPoint,
			Coinbase: coinbase,
			Asset:    d.Asset,
		}
		if !coinbase {
			tx.Inputs[i].Address = d.inputAddress(txIn)
		}
	}

	for i, txOut := range msgTx.TxOut {
		tx.Outputs[i] = d.classifyOutput(txOut)
	}

	return tx
}

// inputAddress guesses the address an input spends from by looking at the
// public key it reveals. Inputs that reveal only a signature spend a bare
// pubkey output and get the PubKeyInputMarker.
func (d *WireDecoder) inputAddress(txIn *wire.TxIn) string {
	if len(txIn.Witness) == 2 && isPubKey(txIn.Witness[1]) {
		pkHash := btcutil.Hash160(txIn.Witness[1])
		addr, err := btcutil.NewAddressWitnessPubKeyHash(
			pkHash, d.Params,
		)
		if err != nil {
			return ""
		}

		return addr.EncodeAddress()
	}

	pushes, err := txscript.PushedData(txIn.SignatureScript)
	if err != nil {
		return ""
	}

	switch {
	case len(pushes) == 1 && !isPubKey(pushes[0]):
		return PubKeyInputMarker

	case len(pushes) == 2 && isPubKey(pushes[1]):
		addr, err := btcutil.NewAddressPubKeyHash(
			btcutil.Hash160(pushes[1]), d.Params,
		)
		if err != nil {
			return ""
		}

		return addr.EncodeAddress()
	}

	return ""
}

func (d *WireDecoder) classifyOutput(txOut *wire.TxOut) TxOut {
	out := TxOut{
		Kind:     KindNull,
		Value:    txOut.Value,
		Asset:    d.Asset,
		PkScript: txOut.PkScript,
	}

	class, addrs, _, err := txscript.ExtractPkScriptAddrs(
		txOut.PkScript, d.Params,
	)
	if err != nil {
		return out
	}

	switch class {
	case txscript.PubKeyTy:
		if len(addrs) != 1 {
			return out
		}
		out.Kind = KindPubKey
		out.PubKey = addrs[0].ScriptAddress()

	case txscript.NullDataTy:
		pushes, err := txscript.PushedData(txOut.PkScript)
		if err != nil {
			return out
		}
		var data []byte
		for _, p := range pushes {
			data = append(data, p...)
		}
		out.Kind = KindData
		out.Data = nilIfEmpty(data)

	default:
		if len(addrs) != 1 {
			return out
		}
		out.Kind = KindAddress
		out.Address = addrs[0].EncodeAddress()
	}

	return out
}

// pubKeyBytesLenUncompressed is the length of a serialized uncompressed
// public key, which btcec/v2 no longer exports.
const pubKeyBytesLenUncompressed = 65

func isPubKey(b []byte) bool {
	if len(b) != btcec.PubKeyBytesLenCompressed &&
		len(b) != pubKeyBytesLenUncompressed {

		return false
	}
	_, err := btcec.ParsePubKey(b)

	return err == nil
}
