// Package config holds the settings for booting the kernel and the tools
// around it.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/me/strider/internal/logging"
	"github.com/me/strider/internal/scheduler"
	"github.com/me/strider/internal/task"
)

// KernelSettings configures the scheduling core.
type KernelSettings struct {
	BigStride       uint64 `yaml:"big_stride"`
	MemoryFrames    int    `yaml:"memory_frames"`
	DefaultPriority int    `yaml:"default_priority"`
	MaxDispatches   int    `yaml:"max_dispatches"` // 0 means no limit
	UserStackPages  int    `yaml:"user_stack_pages"`
	Policy          string `yaml:"policy"` // stride or fifo
}

// StoreSettings configures the trace store.
type StoreSettings struct {
	DBPath string `yaml:"db_path"` // ":memory:" for testing
}

// ServerSettings configures the trace API.
type ServerSettings struct {
	Addr string `yaml:"addr"`
}

// KernelConfig is the whole configuration file.
type KernelConfig struct {
	Kernel KernelSettings  `yaml:"kernel"`
	Log    logging.Options `yaml:"log"`
	Store  StoreSettings   `yaml:"store"`
	Server ServerSettings  `yaml:"server"`
}

// DefaultKernelConfig returns sensible defaults.
func DefaultKernelConfig() KernelConfig {
	return KernelConfig{
		Kernel: KernelSettings{
			BigStride:       scheduler.DefaultBigStride,
			MemoryFrames:    1024,
			DefaultPriority: task.DefaultPriority,
			UserStackPages:  2,
			Policy:          string(scheduler.PolicyStride),
		},
		Log:    logging.DefaultOptions(),
		Store:  StoreSettings{DBPath: DefaultDBPath()},
		Server: ServerSettings{Addr: ":8080"},
	}
}

// DefaultDBPath returns ~/.strider/strider.db, or a relative path when the
// home directory is unknown.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "strider.db"
	}
	return filepath.Join(home, ".strider", "strider.db")
}

// Load reads a YAML file and overlays it on the defaults. An empty path
// returns the defaults.
func Load(path string) (KernelConfig, error) {
	cfg := DefaultKernelConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every section and reports all problems at once.
func (c KernelConfig) Validate() error {
	var errs []error
	k := c.Kernel
	if k.BigStride == 0 || k.BigStride > math.MaxInt64 {
		errs = append(errs, fmt.Errorf("kernel.big_stride must be in (0, %d], got %d", uint64(math.MaxInt64), k.BigStride))
	}
	if k.MemoryFrames <= 0 {
		errs = append(errs, fmt.Errorf("kernel.memory_frames must be positive, got %d", k.MemoryFrames))
	}
	if k.DefaultPriority < task.MinPriority {
		errs = append(errs, fmt.Errorf("kernel.default_priority must be at least %d, got %d", task.MinPriority, k.DefaultPriority))
	}
	if k.MaxDispatches < 0 {
		errs = append(errs, fmt.Errorf("kernel.max_dispatches must not be negative, got %d", k.MaxDispatches))
	}
	if k.UserStackPages < 0 {
		errs = append(errs, fmt.Errorf("kernel.user_stack_pages must not be negative, got %d", k.UserStackPages))
	}
	switch scheduler.Policy(k.Policy) {
	case "", scheduler.PolicyStride, scheduler.PolicyFIFO:
	default:
		errs = append(errs, fmt.Errorf("kernel.policy %q is not stride or fifo", k.Policy))
	}
	if err := c.Log.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("log: %w", err))
	}
	return errors.Join(errs...)
}
