package types

import (
	"errors"
	"fmt"
)

// Config holds the parameters for Vault.Attach.
type Config struct {
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// RetentionDays is how long trash entries are kept before pruning.
	RetentionDays int `json:"retention_days" yaml:"retention_days"`

	// PruneOnAttach prunes expired trash entries during Attach.
	PruneOnAttach bool `json:"prune_on_attach" yaml:"prune_on_attach"`

	// Restore holds the default restore policies.
	Restore RestoreOptions `json:"restore" yaml:"restore"`

	// CompressionLevel is the zstd level for snapshot blobs (1 fastest,
	// 4 best). Zero selects the default.
	CompressionLevel int `json:"compression_level" yaml:"compression_level"`
}

// Defaults.
const (
	DefaultRetentionDays    = 14
	DefaultCompressionLevel = 2
)

// Config validation errors.
var (
	ErrRetentionInvalid   = errors.New("retention days must not be negative")
	ErrCompressionInvalid = errors.New("compression level must be between 1 and 4")
)

// DefaultConfig returns a Config with every default filled in.
func DefaultConfig(dataDir string) Config {
	return Config{
		DataDir:          dataDir,
		RetentionDays:    DefaultRetentionDays,
		Restore:          RestoreOptions{Position: PositionKeep, Name: NameKeep},
		CompressionLevel: DefaultCompressionLevel,
	}
}

// Validate checks that the Config is well-formed. It returns a sentinel error
// from this package on failure.
func (c Config) Validate() error {
	if c.RetentionDays < 0 {
		return ErrRetentionInvalid
	}
	if c.CompressionLevel < 0 || c.CompressionLevel > 4 {
		return fmt.Errorf("%w: %d", ErrCompressionInvalid, c.CompressionLevel)
	}
	return c.Restore.Validate()
}
