package txrecord

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/tlv"
)

// maxFrameSize bounds a single length-prefixed TLV frame so a corrupted
// length can't trigger a huge allocation.
const maxFrameSize = 4 * 1024 * 1024

var (
	// ErrFrameTooLarge is returned when a frame length exceeds
	// maxFrameSize.
	ErrFrameTooLarge = errors.New("tlv frame too large")
)

// WriteRecords encodes the records as a TLV stream prefixed by its length.
// Records must be passed in ascending type order.
func WriteRecords(w io.Writer, records ...tlv.Record) error {
	stream, err := tlv.NewStream(records...)
	if err != nil {
		return err
	}

	var b bytes.Buffer
	if err := stream.Encode(&b); err != nil {
		return err
	}

	var buf [8]byte
	if err := tlv.WriteVarInt(w, uint64(b.Len()), &buf); err != nil {
		return err
	}

	_, err = w.Write(b.Bytes())

	return err
}

// ReadRecords decodes one length-prefixed TLV frame into the records.
func ReadRecords(r io.Reader, records ...tlv.Record) error {
	var buf [8]byte
	n, err := tlv.ReadVarInt(r, &buf)
	if err != nil {
		return err
	}
	if n > maxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}

	frame := make([]byte, n)
	if _, err := io.ReadFull(r, frame); err != nil {
		return err
	}

	stream, err := tlv.NewStream(records...)
	if err != nil {
		return err
	}

	return stream.Decode(bytes.NewReader(frame))
}

// WriteCount writes a collection size.
func WriteCount(w io.Writer, n int) error {
	var buf [8]byte
	return tlv.WriteVarInt(w, uint64(n), &buf)
}

// ReadCount reads a collection size written by WriteCount.
func ReadCount(r io.Reader) (int, error) {
	var buf [8]byte
	n, err := tlv.ReadVarInt(r, &buf)
	if err != nil {
		return 0, err
	}
	if n > maxFrameSize {
		return 0, fmt.Errorf("%w: count %d", ErrFrameTooLarge, n)
	}

	return int(n), nil
}

// OutPointRecords returns the records of an outpoint with the given base
// type, using two consecutive types.
func OutPointRecords(base tlv.Type, hash *[32]byte, index *uint32) []tlv.Record {
	return []tlv.Record{
		tlv.MakePrimitiveRecord(base, hash),
		tlv.MakePrimitiveRecord(base+1, index),
	}
}

// WriteOutPoint encodes a single outpoint frame.
func WriteOutPoint(w io.Writer, op wire.OutPoint) error {
	hash := [32]byte(op.Hash)
	index := op.Index

	return WriteRecords(w, OutPointRecords(0, &hash, &index)...)
}

// ReadOutPoint decodes a frame written by WriteOutPoint.
func ReadOutPoint(r io.Reader) (wire.OutPoint, error) {
	var (
		hash  [32]byte
		index uint32
	)
	if err := ReadRecords(r, OutPointRecords(0, &hash, &index)...); err != nil {
		return wire.OutPoint{}, err
	}

	return wire.OutPoint{Hash: hash, Index: index}, nil
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}

	return 0
}

func nilIfEmpty(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}

	return b
}

// Encode serializes the transaction.
func (t *Tx) Encode(w io.Writer) error {
	hash := [32]byte(t.Hash)
	whitelist := boolByte(t.Whitelist)
	numIn := uint32(len(t.Inputs))
	numOut := uint32(len(t.Outputs))

	err := WriteRecords(w,
		tlv.MakePrimitiveRecord(0, &hash),
		tlv.MakePrimitiveRecord(1, &whitelist),
		tlv.MakePrimitiveRecord(2, &numIn),
		tlv.MakePrimitiveRecord(3, &numOut),
	)
	if err != nil {
		return err
	}

	for i := range t.Inputs {
		if err := encodeTxIn(w, &t.Inputs[i]); err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}
	}
	for i := range t.Outputs {
		if err := encodeTxOut(w, &t.Outputs[i]); err != nil {
			return fmt.Errorf("output %d: %w", i, err)
		}
	}

	return nil
}

// Decode deserializes a transaction written by Encode.
func (t *Tx) Decode(r io.Reader) error {
	var (
		hash          [32]byte
		whitelist     uint8
		numIn, numOut uint32
	)
	err := ReadRecords(r,
		tlv.MakePrimitiveRecord(0, &hash),
		tlv.MakePrimitiveRecord(1, &whitelist),
		tlv.MakePrimitiveRecord(2, &numIn),
		tlv.MakePrimitiveRecord(3, &numOut),
	)
	if err != nil {
		return err
	}
	if numIn > maxFrameSize || numOut > maxFrameSize {
		return fmt.Errorf("%w: %d inputs, %d outputs", ErrFrameTooLarge,
			numIn, numOut)
	}

	t.Hash = hash
	t.Whitelist = whitelist == 1
	t.Inputs = make([]TxIn, numIn)
	t.Outputs = make([]TxOut, numOut)

	for i := range t.Inputs {
		if err := decodeTxIn(r, &t.Inputs[i]); err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}
	}
	for i := range t.Outputs {
		if err := decodeTxOut(r, &t.Outputs[i]); err != nil {
			return fmt.Errorf("output %d: %w", i, err)
		}
	}

	return nil
}

// EncodeBytes is a convenience wrapper around Encode.
func (t *Tx) EncodeBytes() ([]byte, error) {
	var b bytes.Buffer
	if err := t.Encode(&b); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

func encodeTxIn(w io.Writer, in *TxIn) error {
	hash := [32]byte(in.PrevOut.Hash)
	index := in.PrevOut.Index
	coinbase := boolByte(in.Coinbase)
	addr := []byte(in.Address)
	asset := [32]byte(in.Asset)

	records := OutPointRecords(0, &hash, &index)
	records = append(records,
		tlv.MakePrimitiveRecord(2, &coinbase),
		tlv.MakePrimitiveRecord(3, &addr),
		tlv.MakePrimitiveRecord(4, &asset),
	)

	return WriteRecords(w, records...)
}

func decodeTxIn(r io.Reader, in *TxIn) error {
	var (
		hash     [32]byte
		index    uint32
		coinbase uint8
		addr     []byte
		asset    [32]byte
	)

	records := OutPointRecords(0, &hash, &index)
	records = append(records,
		tlv.MakePrimitiveRecord(2, &coinbase),
		tlv.MakePrimitiveRecord(3, &addr),
		tlv.MakePrimitiveRecord(4, &asset),
	)
	if err := ReadRecords(r, records...); err != nil {
		return err
	}

	*in = TxIn{
		PrevOut:  wire.OutPoint{Hash: hash, Index: index},
		Coinbase: coinbase == 1,
		Address:  string(addr),
		Asset:    asset,
	}

	return nil
}

func encodeTxOut(w io.Writer, out *TxOut) error {
	kind := uint8(out.Kind)
	addr := []byte(out.Address)
	pubKey := out.PubKey
	value := uint64(out.Value)
	asset := [32]byte(out.Asset)
	script := out.PkScript
	data := out.Data

	return WriteRecords(w,
		tlv.MakePrimitiveRecord(0, &kind),
		tlv.MakePrimitiveRecord(1, &addr),
		tlv.MakePrimitiveRecord(2, &pubKey),
		tlv.MakePrimitiveRecord(3, &value),
		tlv.MakePrimitiveRecord(4, &asset),
		tlv.MakePrimitiveRecord(5, &script),
		tlv.MakePrimitiveRecord(6, &data),
	)
}

func decodeTxOut(r io.Reader, out *TxOut) error {
	var (
		kind           uint8
		addr, pubKey   []byte
		value          uint64
		asset          [32]byte
		script, data   []byte
	)

	err := ReadRecords(r,
		tlv.MakePrimitiveRecord(0, &kind),
		tlv.MakePrimitiveRecord(1, &addr),
		tlv.MakePrimitiveRecord(2, &pubKey),
		tlv.MakePrimitiveRecord(3, &value),
		tlv.MakePrimitiveRecord(4, &asset),
		tlv.MakePrimitiveRecord(5, &script),
		tlv.MakePrimitiveRecord(6, &data),
	)
	if err != nil {
		return err
	}

	*out = TxOut{
		Kind:     OutputKind(kind),
		Address:  string(addr),
		PubKey:   nilIfEmpty(pubKey),
		Value:    int64(value),
		Asset:    asset,
		PkScript: nilIfEmpty(script),
		Data:     nilIfEmpty(data),
	}

	return nil
}
