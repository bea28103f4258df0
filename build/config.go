package build

import (
	"fmt"
)

const (
	defaultLogCompressor = Gzip

	// DefaultMaxLogFiles is the default maximum number of log files to
	// keep.
	DefaultMaxLogFiles = 10

	// DefaultMaxLogFileSize is the default maximum log file size in MB.
	DefaultMaxLogFileSize = 20
)

// LogConfig holds the log file options.
//
//nolint:lll
type LogConfig struct {
	Compressor     string `long:"compressor" description:"Compression algorithm to use when rotating logs." choice:"gzip" choice:"zstd"`
	MaxLogFiles    int    `long:"max-files" description:"Maximum logfiles to keep (0 for no rotation)"`
	MaxLogFileSize int    `long:"max-file-size" description:"Maximum logfile size in MB"`
}

// DefaultLogConfig returns the default logging config options.
func DefaultLogConfig() *LogConfig {
	return &LogConfig{
		Compressor:     defaultLogCompressor,
		MaxLogFiles:    DefaultMaxLogFiles,
		MaxLogFileSize: DefaultMaxLogFileSize,
	}
}

// Validate validates the LogConfig struct values.
func (c *LogConfig) Validate() error {
	if !SupportedLogCompressor(c.Compressor) {
		return fmt.Errorf("invalid log compressor: %v", c.Compressor)
	}
	if c.MaxLogFiles < 0 {
		return fmt.Errorf("max-files must be non-negative, got %d",
			c.MaxLogFiles)
	}
	if c.MaxLogFileSize <= 0 {
		return fmt.Errorf("max-file-size must be positive, got %d",
			c.MaxLogFileSize)
	}

	return nil
}
