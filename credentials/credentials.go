// Package credentials tracks registration keys published by the policy
// issuer in whitelist outputs that have not yet been assigned to a user, and
// the wallet's own registration profile.
package credentials

import (
	"encoding/hex"
	"errors"
	"math/rand/v2"
	"sort"

	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
)

var (
	// ErrAmbiguousSelector is returned when Unassign is given both a key
	// and an outpoint.
	ErrAmbiguousSelector = errors.New("unassign requires exactly one of " +
		"key or outpoint, got both")

	// ErrNoSelector is returned when Unassign is given neither a key nor
	// an outpoint.
	ErrNoSelector = errors.New("unassign requires a key or an outpoint")
)

// PayloadPrefixLen is the number of leading payload bytes kept in order.
// The rest of the payload is stored byte reversed.
const PayloadPrefixLen = 3

// DecodePayload turns the data payload of a whitelist output into the hex
// registration key it carries. Payloads no longer than the fixed prefix
// carry no key.
func DecodePayload(payload []byte) (string, bool) {
	if len(payload) <= PayloadPrefixLen {
		return "", false
	}

	key := make([]byte, len(payload))
	copy(key, payload[:PayloadPrefixLen])

	tail := payload[PayloadPrefixLen:]
	for i, b := range tail {
		key[len(key)-1-i] = b
	}

	return hex.EncodeToString(key), true
}

// EncodePayload is the inverse of DecodePayload.
func EncodePayload(key string) ([]byte, error) {
	raw, err := hex.DecodeString(key)
	if err != nil {
		return nil, err
	}

	payload := make([]byte, len(raw))
	copy(payload, raw)
	if len(raw) > PayloadPrefixLen {
		tail := raw[PayloadPrefixLen:]
		for i, b := range tail {
			payload[len(payload)-1-i] = b
		}
	}

	return payload, nil
}

// Ledger maps unassigned registration keys to the outpoint carrying them.
//
// Ledger is not safe for concurrent use.
type Ledger struct {
	entries map[string]wire.OutPoint

	kycPubKey      fn.Option[string]
	onboardAddress fn.Option[string]

	intN func(n int) int
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{
		entries: make(map[string]wire.OutPoint),
		intN:    rand.IntN,
	}
}

// Assign records key as unassigned at op, replacing any earlier entry for
// key.
func (l *Ledger) Assign(key string, op wire.OutPoint) {
	delete(l.entries, key)
	l.entries[key] = op

	log.Debugf("Registration key %s available at %v", key, op)
}

// Unassign removes entries by exactly one selector. It returns the number
// of removed entries.
func (l *Ledger) Unassign(key fn.Option[string],
	op fn.Option[wire.OutPoint]) (int, error) {

	switch {
	case key.IsSome() && op.IsSome():
		return 0, ErrAmbiguousSelector

	case key.IsSome():
		if l.UnassignKey(key.UnsafeFromSome()) {
			return 1, nil
		}

		return 0, nil

	case op.IsSome():
		return l.UnassignOutPoint(op.UnsafeFromSome()), nil

	default:
		return 0, ErrNoSelector
	}
}

// UnassignKey removes key. It returns false if key was not present.
func (l *Ledger) UnassignKey(key string) bool {
	if _, ok := l.entries[key]; !ok {
		return false
	}
	delete(l.entries, key)

	return true
}

// UnassignOutPoint removes every entry stored at op.
func (l *Ledger) UnassignOutPoint(op wire.OutPoint) int {
	var removed int
	for key, entry := range l.entries {
		if entry != op {
			continue
		}

		delete(l.entries, key)
		removed++

		log.Debugf("Registration key %s consumed by spend of %v",
			key, op)
	}

	return removed
}

// TakeRandom returns an arbitrary unassigned key without removing it.
func (l *Ledger) TakeRandom() fn.Option[string] {
	if len(l.entries) == 0 {
		return fn.None[string]()
	}

	keys := l.Keys()

	return fn.Some(keys[l.intN(len(keys))])
}

// IsUnassigned reports whether key is waiting to be claimed.
func (l *Ledger) IsUnassigned(key string) bool {
	_, ok := l.entries[key]
	return ok
}

// OutPoint returns the outpoint carrying key.
func (l *Ledger) OutPoint(key string) fn.Option[wire.OutPoint] {
	op, ok := l.entries[key]
	if !ok {
		return fn.None[wire.OutPoint]()
	}

	return fn.Some(op)
}

// Keys returns the unassigned keys in sorted order.
func (l *Ledger) Keys() []string {
	keys := make([]string, 0, len(l.entries))
	for key := range l.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	return keys
}

// Len returns the number of unassigned keys.
func (l *Ledger) Len() int {
	return len(l.entries)
}

// Reset drops all entries. The profile is kept.
func (l *Ledger) Reset() {
	l.entries = make(map[string]wire.OutPoint)
}

// SetKYCPubKey sets the wallet's own registration key.
func (l *Ledger) SetKYCPubKey(key string) {
	l.kycPubKey = fn.Some(key)
}

// KYCPubKey returns the wallet's own registration key.
func (l *Ledger) KYCPubKey() fn.Option[string] {
	return l.kycPubKey
}

// SetOnboardAddress sets the address the wallet was onboarded with.
func (l *Ledger) SetOnboardAddress(addr string) {
	l.onboardAddress = fn.Some(addr)
}

// OnboardAddress returns the address the wallet was onboarded with.
func (l *Ledger) OnboardAddress() fn.Option[string] {
	return l.onboardAddress
}
