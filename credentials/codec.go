package credentials

import (
	"io"

	"github.com/btcsuite/btcd/wire"
	"github.com/commerceblock/spvledger/txrecord"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/tlv"
)

func entryRecords(key *[]byte, hash *[32]byte, index *uint32) []tlv.Record {
	return append(
		[]tlv.Record{tlv.MakePrimitiveRecord(0, key)},
		txrecord.OutPointRecords(1, hash, index)...,
	)
}

// EncodeEntries writes the unassigned keys.
func (l *Ledger) EncodeEntries(w io.Writer) error {
	keys := l.Keys()
	if err := txrecord.WriteCount(w, len(keys)); err != nil {
		return err
	}

	for _, k := range keys {
		op := l.entries[k]

		key := []byte(k)
		hash := [32]byte(op.Hash)
		index := op.Index
		err := txrecord.WriteRecords(w, entryRecords(&key, &hash, &index)...)
		if err != nil {
			return err
		}
	}

	return nil
}

// DecodeEntries replaces the unassigned keys with the ones read from r.
func (l *Ledger) DecodeEntries(r io.Reader) error {
	n, err := txrecord.ReadCount(r)
	if err != nil {
		return err
	}

	entries := make(map[string]wire.OutPoint, n)
	for i := 0; i < n; i++ {
		var (
			key   []byte
			hash  [32]byte
			index uint32
		)
		err := txrecord.ReadRecords(r, entryRecords(&key, &hash, &index)...)
		if err != nil {
			return err
		}
		entries[string(key)] = wire.OutPoint{Hash: hash, Index: index}
	}
	l.entries = entries

	return nil
}

func optionRecords(set *uint8, val *[]byte, base tlv.Type) []tlv.Record {
	return []tlv.Record{
		tlv.MakePrimitiveRecord(base, set),
		tlv.MakePrimitiveRecord(base+1, val),
	}
}

func optionBytes(o fn.Option[string]) (uint8, []byte) {
	if o.IsNone() {
		return 0, nil
	}

	return 1, []byte(o.UnsafeFromSome())
}

func bytesOption(set uint8, val []byte) fn.Option[string] {
	if set == 0 {
		return fn.None[string]()
	}

	return fn.Some(string(val))
}

// EncodeProfile writes the wallet's registration key and onboard address.
func (l *Ledger) EncodeProfile(w io.Writer) error {
	kycSet, kyc := optionBytes(l.kycPubKey)
	addrSet, addr := optionBytes(l.onboardAddress)

	records := optionRecords(&kycSet, &kyc, 0)
	records = append(records, optionRecords(&addrSet, &addr, 2)...)

	return txrecord.WriteRecords(w, records...)
}

// DecodeProfile reads a profile written by EncodeProfile.
func (l *Ledger) DecodeProfile(r io.Reader) error {
	var (
		kycSet, addrSet uint8
		kyc, addr       []byte
	)
	records := optionRecords(&kycSet, &kyc, 0)
	records = append(records, optionRecords(&addrSet, &addr, 2)...)
	if err := txrecord.ReadRecords(r, records...); err != nil {
		return err
	}

	l.kycPubKey = bytesOption(kycSet, kyc)
	l.onboardAddress = bytesOption(addrSet, addr)

	return nil
}
