package storage

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"github.com/atomdb/atomdb/atomdb"
)

// Backend names accepted in Config.Backend.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendBadger = "badger"
)

// Config selects and tunes a storage backend.
type Config struct {
	// Backend is one of memory, file, badger.
	Backend string `yaml:"backend"`

	// Path is the data directory for file and badger backends.
	Path string `yaml:"path"`

	// MaxWALSize is the segment rollover threshold in bytes for the file
	// backend. A flush that leaves the active segment above this size
	// rotates to a fresh segment.
	MaxWALSize int64 `yaml:"max_wal_size"`

	// Badger tuning. Zero values fall back to badger defaults.
	MemTableSize   int64 `yaml:"mem_table_size"`
	BlockCacheSize int64 `yaml:"block_cache_size"`
	IndexCacheSize int64 `yaml:"index_cache_size"`
}

// DefaultConfig returns an in-memory configuration suitable for tests and
// experimentation.
func DefaultConfig() *Config {
	return &Config{
		Backend:    BackendMemory,
		MaxWALSize: 64 << 20, // 64MB segments
	}
}

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Option adjusts backend construction.
type Option func(*options)

type options struct {
	logger *zap.Logger
}

// WithLogger installs a logger. Backends log nothing by default.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func applyOptions(opts []Option) *options {
	o := &options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Open constructs the backend selected by cfg.
func Open(cfg *Config, opts ...Option) (atomdb.SharedStorage, error) {
	switch cfg.Backend {
	case BackendMemory, "":
		return NewMemoryStorage(opts...), nil
	case BackendFile:
		provider, err := NewFileBlockProvider(cfg.Path)
		if err != nil {
			return nil, err
		}
		return NewWALStorage(provider, cfg, opts...)
	case BackendBadger:
		return NewBadgerStorage(cfg, opts...)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
