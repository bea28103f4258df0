package ledger

// Stats is a snapshot of ledger sizes.
type Stats struct {
	Transactions int
	Addresses    int
	Whitelist    int
	Verified     int
	Unverified   int
	Demoted      int
	Credentials  int
	LocalHeight  int32
	UpToDate     bool
}

// Stats returns the current ledger sizes.
func (l *Ledger) Stats() Stats {
	height := l.LocalHeight()

	unlock := l.rlockAll()
	defer unlock()

	return Stats{
		Transactions: l.store.Len(),
		Addresses:    len(l.history),
		Whitelist:    len(l.whitelistAddrs),
		Verified:     l.proofs.NumVerified(),
		Unverified:   l.proofs.NumUnverified(),
		Demoted:      l.proofs.NumDemoted(),
		Credentials:  l.creds.Len(),
		LocalHeight:  height,
		UpToDate:     l.upToDate,
	}
}
