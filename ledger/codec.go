package ledger

import (
	"io"
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/commerceblock/spvledger/txrecord"
	"github.com/lightningnetwork/lnd/tlv"
)

func historyItemRecords(txid *[32]byte, height *uint32) []tlv.Record {
	return []tlv.Record{
		tlv.MakePrimitiveRecord(0, txid),
		tlv.MakePrimitiveRecord(1, height),
	}
}

func writeString(w io.Writer, s string) error {
	b := []byte(s)
	return txrecord.WriteRecords(w, tlv.MakePrimitiveRecord(0, &b))
}

func readString(r io.Reader) (string, error) {
	var b []byte
	if err := txrecord.ReadRecords(r, tlv.MakePrimitiveRecord(0, &b)); err != nil {
		return "", err
	}

	return string(b), nil
}

// encodeHistory writes the address histories in address order.
func encodeHistory(w io.Writer, history map[string][]HistoryItem) error {
	addrs := make([]string, 0, len(history))
	for addr := range history {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	if err := txrecord.WriteCount(w, len(addrs)); err != nil {
		return err
	}
	for _, addr := range addrs {
		if err := writeString(w, addr); err != nil {
			return err
		}

		items := history[addr]
		if err := txrecord.WriteCount(w, len(items)); err != nil {
			return err
		}
		for _, item := range items {
			txid := [32]byte(item.TxID)
			height := uint32(item.Height)
			err := txrecord.WriteRecords(
				w, historyItemRecords(&txid, &height)...,
			)
			if err != nil {
				return err
			}
		}
	}

	return nil
}

func decodeHistory(r io.Reader) (map[string][]HistoryItem, error) {
	n, err := txrecord.ReadCount(r)
	if err != nil {
		return nil, err
	}

	history := make(map[string][]HistoryItem, n)
	for i := 0; i < n; i++ {
		addr, err := readString(r)
		if err != nil {
			return nil, err
		}

		count, err := txrecord.ReadCount(r)
		if err != nil {
			return nil, err
		}

		var items []HistoryItem
		for j := 0; j < count; j++ {
			var (
				txid   [32]byte
				height uint32
			)
			err := txrecord.ReadRecords(
				r, historyItemRecords(&txid, &height)...,
			)
			if err != nil {
				return nil, err
			}
			items = append(items, HistoryItem{
				TxID:   txid,
				Height: int32(height),
			})
		}
		history[addr] = items
	}

	return history, nil
}

func feeRecords(txid *[32]byte, fee *uint64) []tlv.Record {
	return []tlv.Record{
		tlv.MakePrimitiveRecord(0, txid),
		tlv.MakePrimitiveRecord(1, fee),
	}
}

func encodeFees(w io.Writer, fees map[chainhash.Hash]int64) error {
	txids := make([]chainhash.Hash, 0, len(fees))
	for txid := range fees {
		txids = append(txids, txid)
	}
	sortHashes(txids)

	if err := txrecord.WriteCount(w, len(txids)); err != nil {
		return err
	}
	for _, txid := range txids {
		hash := [32]byte(txid)
		fee := uint64(fees[txid])
		if err := txrecord.WriteRecords(w, feeRecords(&hash, &fee)...); err != nil {
			return err
		}
	}

	return nil
}

func decodeFees(r io.Reader) (map[chainhash.Hash]int64, error) {
	n, err := txrecord.ReadCount(r)
	if err != nil {
		return nil, err
	}

	fees := make(map[chainhash.Hash]int64, n)
	for i := 0; i < n; i++ {
		var (
			hash [32]byte
			fee  uint64
		)
		if err := txrecord.ReadRecords(r, feeRecords(&hash, &fee)...); err != nil {
			return nil, err
		}
		fees[hash] = int64(fee)
	}

	return fees, nil
}

func encodeAddrSet(w io.Writer, set map[string]struct{}) error {
	addrs := make([]string, 0, len(set))
	for addr := range set {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	if err := txrecord.WriteCount(w, len(addrs)); err != nil {
		return err
	}
	for _, addr := range addrs {
		if err := writeString(w, addr); err != nil {
			return err
		}
	}

	return nil
}

func decodeAddrSet(r io.Reader) (map[string]struct{}, error) {
	n, err := txrecord.ReadCount(r)
	if err != nil {
		return nil, err
	}

	set := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		addr, err := readString(r)
		if err != nil {
			return nil, err
		}
		set[addr] = struct{}{}
	}

	return set, nil
}

func encodeHeight(w io.Writer, height int32) error {
	h := uint32(height)
	return txrecord.WriteRecords(w, tlv.MakePrimitiveRecord(0, &h))
}

func decodeHeight(r io.Reader) (int32, error) {
	var h uint32
	if err := txrecord.ReadRecords(r, tlv.MakePrimitiveRecord(0, &h)); err != nil {
		return 0, err
	}

	return int32(h), nil
}
