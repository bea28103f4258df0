package txrecord

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

// PubKeyInputMarker is the placeholder address decoders attach to inputs
// that spend pay-to-pubkey outputs. The real address must be taken from the
// funding output.
const PubKeyInputMarker = "(pubkey)"

// OutputAddress returns the address an output pays to, or the empty string
// if the output does not pay an address. Pay-to-pubkey outputs resolve to the
// P2PKH address of the key under the given network parameters.
func OutputAddress(out *TxOut, params *chaincfg.Params) string {
	switch out.Kind {
	case KindAddress:
		return out.Address

	case KindPubKey:
		if _, err := btcec.ParsePubKey(out.PubKey); err != nil {
			return ""
		}

		addr, err := btcutil.NewAddressPubKey(out.PubKey, params)
		if err != nil {
			return ""
		}

		return addr.AddressPubKeyHash().EncodeAddress()

	default:
		return ""
	}
}

// ValidAddress reports whether addr decodes under the given network.
func ValidAddress(addr string, params *chaincfg.Params) bool {
	a, err := btcutil.DecodeAddress(addr, params)
	if err != nil {
		return false
	}

	return a.IsForNet(params)
}
