package ledger

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Storage is the persistence collaborator. Values are opaque blobs under
// fixed logical keys. Put only stages a value, Flush makes every staged
// value durable.
type Storage interface {
	// Get returns the blob stored under key, if any.
	Get(key string) (fn.Option[[]byte], error)

	// Put stages value under key.
	Put(key string, value []byte)

	// Flush writes all staged values.
	Flush() error
}

// ChainSource gives access to the locally known header chain.
type ChainSource interface {
	// LocalHeight returns the height of the local chain tip.
	LocalHeight() int32

	// ReadHeaderAt returns the local header at height, if any.
	ReadHeaderAt(height int32) fn.Option[wire.BlockHeader]

	// HeaderHash returns the hash of hdr.
	HeaderHash(hdr *wire.BlockHeader) chainhash.Hash
}

// Verifier is the SPV proof verifier collaborator.
type Verifier interface {
	// CancelPendingProof drops any outstanding proof request for txid.
	CancelPendingProof(txid chainhash.Hash)

	// IsUpToDate reports whether every requested proof has been
	// delivered.
	IsUpToDate() bool
}

// Watcher is the per-address subscription collaborator of the feed.
type Watcher interface {
	// WatchAddress subscribes to history updates of addr.
	WatchAddress(addr string)

	// WatchWhitelist marks addr as a whitelist watch, whose history is
	// reported with the whitelist flag set.
	WatchWhitelist(addr string)

	// UnwatchWhitelist clears the whitelist mark of addr.
	UnwatchWhitelist(addr string)
}
