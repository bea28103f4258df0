// Package headerchain keeps a contiguous run of block headers in memory and
// serves them by height. It backs the ledger's chain source when no network
// header sync is attached.
package headerchain

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/commerceblock/spvledger/txrecord"
	"github.com/lightningnetwork/lnd/fn/v2"
)

var (
	// ErrHeightGap is returned when a header is connected at a height
	// other than the one right above the tip.
	ErrHeightGap = errors.New("header height is not contiguous")

	// ErrPrevMismatch is returned when a connected header does not build
	// on the current tip.
	ErrPrevMismatch = errors.New("header does not connect to tip")
)

// Chain is a height indexed header list. It is safe for concurrent use.
type Chain struct {
	mu sync.RWMutex

	// base is the height of headers[0].
	base    int32
	headers []wire.BlockHeader
}

// New returns an empty chain whose first connected header will sit at base.
func New(base int32) *Chain {
	return &Chain{base: base}
}

// Connect appends hdr at height.
func (c *Chain) Connect(height int32, hdr *wire.BlockHeader) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.base + int32(len(c.headers))
	if height != next {
		return fmt.Errorf("%w: got %d, want %d", ErrHeightGap, height,
			next)
	}
	if len(c.headers) > 0 {
		tip := c.headers[len(c.headers)-1].BlockHash()
		if hdr.PrevBlock != tip {
			return fmt.Errorf("%w: prev %v, tip %v at %d",
				ErrPrevMismatch, hdr.PrevBlock, tip, height-1)
		}
	}

	c.headers = append(c.headers, *hdr)
	log.Tracef("Connected header %v at height %d", hdr.BlockHash(), height)

	return nil
}

// DisconnectFrom drops every header at or above height and returns how many
// were removed.
func (c *Chain) DisconnectFrom(height int32) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	keep := height - c.base
	if keep < 0 {
		keep = 0
	}
	if int(keep) >= len(c.headers) {
		return 0
	}

	removed := len(c.headers) - int(keep)
	c.headers = c.headers[:keep]

	log.Debugf("Disconnected %d headers from height %d", removed, height)

	return removed
}

// LocalHeight returns the height of the tip, or base-1 when empty.
func (c *Chain) LocalHeight() int32 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.base + int32(len(c.headers)) - 1
}

// ReadHeaderAt returns the header at height.
func (c *Chain) ReadHeaderAt(height int32) fn.Option[wire.BlockHeader] {
	c.mu.RLock()
	defer c.mu.RUnlock()

	idx := height - c.base
	if idx < 0 || int(idx) >= len(c.headers) {
		return fn.None[wire.BlockHeader]()
	}

	return fn.Some(c.headers[idx])
}

// HeaderHash returns the block hash of hdr.
func (c *Chain) HeaderHash(hdr *wire.BlockHeader) chainhash.Hash {
	return hdr.BlockHash()
}

// HashAt returns the hash of the header at height.
func (c *Chain) HashAt(height int32) fn.Option[chainhash.Hash] {
	return fn.MapOption(func(hdr wire.BlockHeader) chainhash.Hash {
		return hdr.BlockHash()
	})(c.ReadHeaderAt(height))
}

// Encode writes the base height followed by the serialized headers.
func (c *Chain) Encode(w io.Writer) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := txrecord.WriteCount(w, int(c.base)); err != nil {
		return err
	}
	if err := txrecord.WriteCount(w, len(c.headers)); err != nil {
		return err
	}
	for i := range c.headers {
		if err := c.headers[i].Serialize(w); err != nil {
			return err
		}
	}

	return nil
}

// Decode replaces the chain with one written by Encode.
func (c *Chain) Decode(r io.Reader) error {
	base, err := txrecord.ReadCount(r)
	if err != nil {
		return err
	}
	n, err := txrecord.ReadCount(r)
	if err != nil {
		return err
	}

	headers := make([]wire.BlockHeader, n)
	for i := range headers {
		if err := headers[i].Deserialize(r); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.base = int32(base)
	c.headers = headers
	c.mu.Unlock()

	return nil
}

// EncodeBytes is a convenience wrapper around Encode.
func (c *Chain) EncodeBytes() ([]byte, error) {
	var b bytes.Buffer
	if err := c.Encode(&b); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}
