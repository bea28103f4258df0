package txstore

import (
	"io"
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/commerceblock/spvledger/txrecord"
	"github.com/lightningnetwork/lnd/tlv"
)

// EncodeBodies writes every stored transaction body.
func (s *Store) EncodeBodies(w io.Writer) error {
	ids := s.TxIDs().Sorted()
	if err := txrecord.WriteCount(w, len(ids)); err != nil {
		return err
	}
	for _, txid := range ids {
		if err := s.txs[txid].Encode(w); err != nil {
			return err
		}
	}

	return nil
}

// DecodeBodies replaces the stored bodies with the ones read from r.
func (s *Store) DecodeBodies(r io.Reader) error {
	n, err := txrecord.ReadCount(r)
	if err != nil {
		return err
	}

	txs := make(map[chainhash.Hash]*txrecord.Tx, n)
	for i := 0; i < n; i++ {
		tx := &txrecord.Tx{}
		if err := tx.Decode(r); err != nil {
			return err
		}
		txs[tx.TxID()] = tx
	}
	s.txs = txs

	return nil
}

func writeHash(w io.Writer, h chainhash.Hash) error {
	b := [32]byte(h)
	return txrecord.WriteRecords(w, tlv.MakePrimitiveRecord(0, &b))
}

func readHash(r io.Reader) (chainhash.Hash, error) {
	var b [32]byte
	err := txrecord.ReadRecords(r, tlv.MakePrimitiveRecord(0, &b))

	return b, err
}

func writeAddr(w io.Writer, addr string) error {
	b := []byte(addr)
	return txrecord.WriteRecords(w, tlv.MakePrimitiveRecord(0, &b))
}

func readAddr(r io.Reader) (string, error) {
	var b []byte
	err := txrecord.ReadRecords(r, tlv.MakePrimitiveRecord(0, &b))

	return string(b), err
}

// encodeRows writes a txid -> address -> rows index. Both txi and txo share
// this layout.
func encodeRows[T any](w io.Writer, index map[chainhash.Hash]map[string][]T,
	enc func(io.Writer, *T) error) error {

	ids := make(TxSet, len(index))
	for txid := range index {
		ids.Add(txid)
	}

	if err := txrecord.WriteCount(w, len(ids)); err != nil {
		return err
	}
	for _, txid := range ids.Sorted() {
		if err := writeHash(w, txid); err != nil {
			return err
		}

		byAddr := index[txid]
		if err := txrecord.WriteCount(w, len(byAddr)); err != nil {
			return err
		}
		addrs := make([]string, 0, len(byAddr))
		for addr := range byAddr {
			addrs = append(addrs, addr)
		}
		sort.Strings(addrs)

		for _, addr := range addrs {
			rows := byAddr[addr]
			if err := writeAddr(w, addr); err != nil {
				return err
			}
			if err := txrecord.WriteCount(w, len(rows)); err != nil {
				return err
			}
			for i := range rows {
				if err := enc(w, &rows[i]); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

func decodeRows[T any](r io.Reader,
	dec func(io.Reader, *T) error) (map[chainhash.Hash]map[string][]T, error) {

	numTx, err := txrecord.ReadCount(r)
	if err != nil {
		return nil, err
	}

	index := make(map[chainhash.Hash]map[string][]T, numTx)
	for i := 0; i < numTx; i++ {
		txid, err := readHash(r)
		if err != nil {
			return nil, err
		}
		numAddr, err := txrecord.ReadCount(r)
		if err != nil {
			return nil, err
		}

		byAddr := make(map[string][]T, numAddr)
		for j := 0; j < numAddr; j++ {
			addr, err := readAddr(r)
			if err != nil {
				return nil, err
			}
			numRows, err := txrecord.ReadCount(r)
			if err != nil {
				return nil, err
			}

			rows := make([]T, numRows)
			for k := range rows {
				if err := dec(r, &rows[k]); err != nil {
					return nil, err
				}
			}
			byAddr[addr] = rows
		}
		index[txid] = byAddr
	}

	return index, nil
}

func inputRecords(hash *[32]byte, index *uint32, value *uint64,
	asset *[32]byte) []tlv.Record {

	records := txrecord.OutPointRecords(0, hash, index)
	return append(records,
		tlv.MakePrimitiveRecord(2, value),
		tlv.MakePrimitiveRecord(3, asset),
	)
}

func encodeInput(w io.Writer, in *InputEntry) error {
	hash := [32]byte(in.OutPoint.Hash)
	index := in.OutPoint.Index
	value := uint64(in.Value)
	asset := [32]byte(in.Asset)

	return txrecord.WriteRecords(w,
		inputRecords(&hash, &index, &value, &asset)...)
}

func decodeInput(r io.Reader, in *InputEntry) error {
	var (
		hash, asset [32]byte
		index       uint32
		value       uint64
	)
	err := txrecord.ReadRecords(r,
		inputRecords(&hash, &index, &value, &asset)...)
	if err != nil {
		return err
	}

	*in = InputEntry{
		OutPoint: wire.OutPoint{Hash: hash, Index: index},
		Value:    int64(value),
		Asset:    asset,
	}

	return nil
}

func encodeOutput(w io.Writer, out *OutputEntry) error {
	index := out.Index
	value := uint64(out.Value)
	asset := [32]byte(out.Asset)
	var coinbase uint8
	if out.Coinbase {
		coinbase = 1
	}
	script := out.Script

	return txrecord.WriteRecords(w,
		tlv.MakePrimitiveRecord(0, &index),
		tlv.MakePrimitiveRecord(1, &value),
		tlv.MakePrimitiveRecord(2, &asset),
		tlv.MakePrimitiveRecord(3, &coinbase),
		tlv.MakePrimitiveRecord(4, &script),
	)
}

func decodeOutput(r io.Reader, out *OutputEntry) error {
	var (
		index    uint32
		value    uint64
		asset    [32]byte
		coinbase uint8
		script   []byte
	)
	err := txrecord.ReadRecords(r,
		tlv.MakePrimitiveRecord(0, &index),
		tlv.MakePrimitiveRecord(1, &value),
		tlv.MakePrimitiveRecord(2, &asset),
		tlv.MakePrimitiveRecord(3, &coinbase),
		tlv.MakePrimitiveRecord(4, &script),
	)
	if err != nil {
		return err
	}
	if len(script) == 0 {
		script = nil
	}

	*out = OutputEntry{
		Index:    index,
		Value:    int64(value),
		Asset:    asset,
		Coinbase: coinbase == 1,
		Script:   script,
	}

	return nil
}

// EncodeInputs writes the txi index.
func (s *Store) EncodeInputs(w io.Writer) error {
	return encodeRows(w, s.txi, encodeInput)
}

// DecodeInputs replaces the txi index.
func (s *Store) DecodeInputs(r io.Reader) error {
	txi, err := decodeRows(r, decodeInput)
	if err != nil {
		return err
	}
	s.txi = txi

	return nil
}

// EncodeOutputs writes the txo index.
func (s *Store) EncodeOutputs(w io.Writer) error {
	return encodeRows(w, s.txo, encodeOutput)
}

// DecodeOutputs replaces the txo index.
func (s *Store) DecodeOutputs(r io.Reader) error {
	txo, err := decodeRows(r, decodeOutput)
	if err != nil {
		return err
	}
	s.txo = txo

	return nil
}

// EncodeSpent writes the spent outpoint index as a flat list of
// (outpoint, spender) pairs.
func (s *Store) EncodeSpent(w io.Writer) error {
	var total int
	for _, spends := range s.spent {
		total += len(spends)
	}
	if err := txrecord.WriteCount(w, total); err != nil {
		return err
	}

	prevs := make(TxSet, len(s.spent))
	for hash := range s.spent {
		prevs.Add(hash)
	}

	for _, hash := range prevs.Sorted() {
		spends := s.spent[hash]
		indices := make([]uint32, 0, len(spends))
		for index := range spends {
			indices = append(indices, index)
		}
		sort.Slice(indices, func(i, j int) bool {
			return indices[i] < indices[j]
		})

		for _, index := range indices {
			spender := spends[index]
			prev := [32]byte(hash)
			idx := index
			by := [32]byte(spender)

			records := txrecord.OutPointRecords(0, &prev, &idx)
			records = append(records, tlv.MakePrimitiveRecord(2, &by))
			if err := txrecord.WriteRecords(w, records...); err != nil {
				return err
			}
		}
	}

	return nil
}

// DecodeSpent replaces the spent outpoint index.
func (s *Store) DecodeSpent(r io.Reader) error {
	n, err := txrecord.ReadCount(r)
	if err != nil {
		return err
	}

	spent := make(map[chainhash.Hash]map[uint32]chainhash.Hash)
	for i := 0; i < n; i++ {
		var (
			prev, by [32]byte
			idx      uint32
		)
		records := txrecord.OutPointRecords(0, &prev, &idx)
		records = append(records, tlv.MakePrimitiveRecord(2, &by))
		if err := txrecord.ReadRecords(r, records...); err != nil {
			return err
		}

		hash := chainhash.Hash(prev)
		if spent[hash] == nil {
			spent[hash] = make(map[uint32]chainhash.Hash)
		}
		spent[hash][idx] = by
	}
	s.spent = spent

	return nil
}
