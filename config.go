package spvledger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/commerceblock/spvledger/build"
	"github.com/commerceblock/spvledger/ledgercfg"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultDataDirname = "data"
	defaultLogDirname  = "logs"
	defaultLogLevel    = "info"
)

var (
	// DefaultSpvDir is the default directory holding the daemon's config,
	// data and logs.
	DefaultSpvDir = btcutil.AppDataDir("spvledger", false)

	// DefaultConfigFile is the default full path of the config file.
	DefaultConfigFile = filepath.Join(
		DefaultSpvDir, ledgercfg.DefaultConfigFilename,
	)

	defaultDataDir = filepath.Join(DefaultSpvDir, defaultDataDirname)
	defaultLogDir  = filepath.Join(DefaultSpvDir, defaultLogDirname)
)

// Config defines the configuration options for the ledger daemon.
//
//nolint:lll
type Config struct {
	SpvDir     string `long:"spvdir" description:"The base directory that contains the daemon's data, logs, configuration file, etc."`
	ConfigFile string `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir    string `short:"b" long:"datadir" description:"The directory to store the ledger database within"`
	LogDir     string `long:"logdir" description:"Directory to log output."`

	DebugLevel string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <global-level>,<subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`

	Watch          []string `long:"watch" description:"Add an address to the watched set on startup. Can be specified multiple times."`
	WhitelistWatch []string `long:"whitelistwatch" description:"Add an address watched for policy outputs on startup. Can be specified multiple times."`

	Chain      *ledgercfg.Chain      `group:"chain" namespace:"chain"`
	DB         *ledgercfg.DB         `group:"db" namespace:"db"`
	Reorg      *ledgercfg.Reorg      `group:"reorg" namespace:"reorg"`
	Checkpoint *ledgercfg.Checkpoint `group:"checkpoint" namespace:"checkpoint"`
	Prometheus *ledgercfg.Prometheus `group:"prometheus" namespace:"prometheus"`
	LogConfig  *build.LogConfig      `group:"logging" namespace:"logging"`

	// params is the network resolved from Chain by ValidateConfig.
	params *ledgercfg.NetParams
}

// DefaultConfig returns all default values for the Config struct.
func DefaultConfig() Config {
	return Config{
		SpvDir:     DefaultSpvDir,
		ConfigFile: DefaultConfigFile,
		DataDir:    defaultDataDir,
		LogDir:     defaultLogDir,
		DebugLevel: defaultLogLevel,
		Chain:      ledgercfg.DefaultChain(),
		DB:         ledgercfg.DefaultDB(),
		Reorg:      ledgercfg.DefaultReorg(),
		Checkpoint: ledgercfg.DefaultCheckpoint(),
		Prometheus: ledgercfg.DefaultPrometheus(),
		LogConfig:  build.DefaultLogConfig(),
	}
}

// LoadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
func LoadConfig(args []string) (*Config, error) {
	// Pre-parse the command line options to pick up an alternative config
	// file.
	preCfg := DefaultConfig()
	if _, err := flags.ParseArgs(&preCfg, args); err != nil {
		return nil, err
	}

	// If the config file path has not been modified by the user, then
	// we'll use the default config file path. However, if the user has
	// modified their spvdir, then we should assume they intend to use the
	// config file within it.
	configFileDir := ledgercfg.CleanAndExpandPath(preCfg.SpvDir)
	configFilePath := ledgercfg.CleanAndExpandPath(preCfg.ConfigFile)
	if configFileDir != DefaultSpvDir && configFilePath == DefaultConfigFile {
		configFilePath = filepath.Join(
			configFileDir, ledgercfg.DefaultConfigFilename,
		)
	}

	// Next, load any additional configuration options from the file.
	var configFileError error
	cfg := preCfg
	if err := flags.IniParse(configFilePath, &cfg); err != nil {
		// If it's a parsing related error, then we'll return
		// immediately, otherwise we can proceed as possibly the config
		// file doesn't exist which is OK.
		var iniErr *flags.IniError
		if errors.As(err, &iniErr) {
			return nil, err
		}

		configFileError = err
	}

	// Finally, parse the remaining command line options again to ensure
	// they take precedence.
	if _, err := flags.ParseArgs(&cfg, args); err != nil {
		return nil, err
	}

	cleanCfg, err := ValidateConfig(cfg)
	if err != nil {
		return nil, err
	}

	// Warn about missing config file only after all other configuration is
	// done. This prevents the warning on help messages and invalid
	// options.
	if configFileError != nil {
		spvlLog.Warnf("%v", configFileError)
	}

	return cleanCfg, nil
}

// ValidateConfig checks the given configuration to be sane. All file system
// paths are normalized and made network specific. The cleaned up config is
// returned on success.
func ValidateConfig(cfg Config) (*Config, error) {
	// If the provided directory is not the default, we'll modify the
	// path to all of the files and directories that will live within it.
	spvDir := ledgercfg.CleanAndExpandPath(cfg.SpvDir)
	if spvDir != DefaultSpvDir {
		if cfg.DataDir == defaultDataDir {
			cfg.DataDir = filepath.Join(spvDir, defaultDataDirname)
		}
		if cfg.LogDir == defaultLogDir {
			cfg.LogDir = filepath.Join(spvDir, defaultLogDirname)
		}
	}

	err := ledgercfg.Validate(
		cfg.Chain, cfg.DB, cfg.Reorg, cfg.Checkpoint, cfg.Prometheus,
		cfg.LogConfig,
	)
	if err != nil {
		return nil, err
	}

	cfg.params, err = cfg.Chain.Params()
	if err != nil {
		return nil, err
	}

	// Every network gets its own database and log file.
	network := cfg.params.Name
	cfg.DataDir = filepath.Join(
		ledgercfg.CleanAndExpandPath(cfg.DataDir), network,
	)
	cfg.LogDir = filepath.Join(
		ledgercfg.CleanAndExpandPath(cfg.LogDir), network,
	)

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems",
			rootLogger.SupportedSubsystems())
		os.Exit(0)
	}

	err = build.ParseAndSetDebugLevels(cfg.DebugLevel, rootLogger)
	if err != nil {
		return nil, err
	}

	// The startup watches must be valid on the chosen network.
	for _, list := range [][]string{cfg.Watch, cfg.WhitelistWatch} {
		for _, addr := range list {
			_, err := btcutil.DecodeAddress(addr, cfg.params.Params)
			if err != nil {
				return nil, fmt.Errorf("invalid watch address "+
					"%q for %v: %w", addr, network, err)
			}
		}
	}

	return &cfg, nil
}

// Params returns the resolved network parameters. It is only set on configs
// returned by ValidateConfig.
func (c *Config) Params() *ledgercfg.NetParams {
	return c.params
}

// logFile returns the path of the daemon's log file.
func (c *Config) logFile() string {
	return filepath.Join(c.LogDir, ledgercfg.DefaultLogFilename)
}

// String summarizes the config for the startup log.
func (c *Config) String() string {
	return fmt.Sprintf("network=%v datadir=%v watches=[%v] "+
		"whitelist=[%v]", c.params.Name, c.DataDir,
		strings.Join(c.Watch, ","), strings.Join(c.WhitelistWatch, ","))
}
