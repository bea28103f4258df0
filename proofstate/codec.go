package proofstate

import (
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/commerceblock/spvledger/txrecord"
	"github.com/lightningnetwork/lnd/tlv"
)

func verifiedRecords(txid, header *[32]byte, height, timestamp,
	pos *uint32) []tlv.Record {

	return []tlv.Record{
		tlv.MakePrimitiveRecord(0, txid),
		tlv.MakePrimitiveRecord(1, height),
		tlv.MakePrimitiveRecord(2, timestamp),
		tlv.MakePrimitiveRecord(3, pos),
		tlv.MakePrimitiveRecord(4, header),
	}
}

// EncodeVerified writes the verified map. Unverified heights are not
// persisted since they are rebuilt from the address histories on load.
func (m *Machine) EncodeVerified(w io.Writer) error {
	ids := make([]chainhash.Hash, 0, len(m.verified))
	for txid := range m.verified {
		ids = append(ids, txid)
	}
	sortHashes(ids)

	if err := txrecord.WriteCount(w, len(ids)); err != nil {
		return err
	}
	for _, txid := range ids {
		info := m.verified[txid]

		id := [32]byte(txid)
		header := [32]byte(info.HeaderHash)
		height := uint32(info.Height)

		err := txrecord.WriteRecords(w, verifiedRecords(
			&id, &header, &height, &info.Timestamp, &info.TxPos,
		)...)
		if err != nil {
			return err
		}
	}

	return nil
}

// DecodeVerified replaces the verified map with the one read from r.
func (m *Machine) DecodeVerified(r io.Reader) error {
	n, err := txrecord.ReadCount(r)
	if err != nil {
		return err
	}

	verified := make(map[chainhash.Hash]VerifiedInfo, n)
	for i := 0; i < n; i++ {
		var (
			id, header             [32]byte
			height, timestamp, pos uint32
		)
		err := txrecord.ReadRecords(r, verifiedRecords(
			&id, &header, &height, &timestamp, &pos,
		)...)
		if err != nil {
			return err
		}

		verified[id] = VerifiedInfo{
			Height:     int32(height),
			Timestamp:  timestamp,
			TxPos:      pos,
			HeaderHash: header,
		}
	}
	m.verified = verified

	return nil
}
