package ledgercfg

import (
	"fmt"
	"time"
)

// DefaultSweepInterval is how often reorg-demoted entries are checked for
// expiry when expiry is enabled.
const DefaultSweepInterval = time.Minute

// Reorg configures the handling of proofs undone by a reorg.
type Reorg struct {
	StaleTimeout time.Duration `long:"staletimeout" description:"Turn reorg-demoted transactions local if the server sends no update for them within this duration. 0 keeps them unverified at their old height."`

	SweepInterval time.Duration `long:"sweepinterval" description:"How often demoted transactions are checked for expiry."`
}

// DefaultReorg returns a config with expiry disabled.
func DefaultReorg() *Reorg {
	return &Reorg{
		SweepInterval: DefaultSweepInterval,
	}
}

// Validate rejects negative durations and an expiry without sweeps.
func (r *Reorg) Validate() error {
	switch {
	case r.StaleTimeout < 0:
		return fmt.Errorf("negative stale timeout: %v", r.StaleTimeout)

	case r.StaleTimeout > 0 && r.SweepInterval <= 0:
		return fmt.Errorf("stale timeout %v needs a positive sweep "+
			"interval", r.StaleTimeout)
	}

	return nil
}

var _ Validator = (*Reorg)(nil)
