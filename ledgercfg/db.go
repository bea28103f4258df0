package ledgercfg

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/commerceblock/spvledger/ledgerdb"
	"github.com/lightningnetwork/lnd/kvdb"
)

const (
	// DBName is the file name of the ledger database.
	DBName = "ledger.db"

	boltBackend = "bolt"
)

// Bolt holds the bbolt tuning knobs.
type Bolt struct {
	NoFreelistSync bool `long:"nofreelistsync" description:"Don't sync the freelist to disk, trading a slower startup for faster writes."`

	DBTimeout time.Duration `long:"dbtimeout" description:"Timeout for obtaining the database file lock."`
}

// DB holds the database configuration of the daemon.
type DB struct {
	Backend string `long:"backend" description:"The selected database backend." choice:"bolt"`

	Bolt *Bolt `group:"bolt" namespace:"bolt" description:"Bolt settings."`
}

// DefaultDB creates and returns a new default DB config.
func DefaultDB() *DB {
	return &DB{
		Backend: boltBackend,
		Bolt: &Bolt{
			NoFreelistSync: true,
			DBTimeout:      kvdb.DefaultDBTimeout,
		},
	}
}

// Validate validates the DB config.
func (db *DB) Validate() error {
	switch db.Backend {
	case boltBackend:
		if db.Bolt == nil {
			return fmt.Errorf("bolt settings missing")
		}
		if db.Bolt.DBTimeout < 0 {
			return fmt.Errorf("negative bolt db timeout: %v",
				db.Bolt.DBTimeout)
		}

	default:
		return fmt.Errorf("unknown backend, must be \"%v\"", boltBackend)
	}

	return nil
}

// Open opens, creating if needed, the ledger database below dir.
func (db *DB) Open(dir string) (*ledgerdb.Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	backend, err := ledgerdb.OpenBolt(
		filepath.Join(dir, DBName), db.Bolt.NoFreelistSync,
		db.Bolt.DBTimeout,
	)
	if err != nil {
		return nil, err
	}

	store, err := ledgerdb.NewStore(backend)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	return store, nil
}

// Compile-time constraint to ensure DB implements the Validator interface.
var _ Validator = (*DB)(nil)
