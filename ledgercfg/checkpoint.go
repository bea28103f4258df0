package ledgercfg

import (
	"fmt"
	"time"
)

// DefaultCheckpointInterval is the default period between checkpoints of
// a running daemon.
const DefaultCheckpointInterval = 10 * time.Minute

// Checkpoint configures periodic persistence of the ledger.
type Checkpoint struct {
	Interval time.Duration `long:"interval" description:"Period between full checkpoints of the ledger. 0 only writes on shutdown and when caught up."`
}

// DefaultCheckpoint returns the default checkpoint config.
func DefaultCheckpoint() *Checkpoint {
	return &Checkpoint{
		Interval: DefaultCheckpointInterval,
	}
}

// Validate rejects a negative interval.
func (c *Checkpoint) Validate() error {
	if c.Interval < 0 {
		return fmt.Errorf("negative checkpoint interval: %v", c.Interval)
	}

	return nil
}

var _ Validator = (*Checkpoint)(nil)
