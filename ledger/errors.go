package ledger

import (
	"errors"

	"github.com/commerceblock/spvledger/txstore"
)

var (
	// ErrUnrelatedTransaction is returned when a transaction touches no
	// watched address and is not a whitelist transaction. The caller may
	// retry with relevance checks relaxed.
	ErrUnrelatedTransaction = errors.New("transaction is unrelated to " +
		"this wallet")

	// ErrMalformedLedgerState signals a broken internal invariant. The
	// failing operation leaves the ledger untouched.
	ErrMalformedLedgerState = txstore.ErrMalformedState

	// ErrTxidMismatch is returned when the feed delivers a body whose id
	// differs from the one it was announced under.
	ErrTxidMismatch = errors.New("transaction id does not match body")

	// ErrInvalidAddress is returned when a watched address does not
	// decode under the ledger's network.
	ErrInvalidAddress = errors.New("invalid address for network")

	// ErrNoChainSource is returned by operations that need the local
	// header chain when none is configured.
	ErrNoChainSource = errors.New("no chain source configured")

	// ErrLedgerShuttingDown is returned by writes attempted after Stop.
	ErrLedgerShuttingDown = errors.New("ledger shutting down")
)
