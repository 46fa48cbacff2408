// Package config loads kernelrun.toml runtime configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/kernel-runtime/bridge"
	"github.com/wippyai/kernel-runtime/engine"
	"github.com/wippyai/kernel-runtime/errors"
	"github.com/wippyai/kernel-runtime/job"
)

// FileName is the configuration file looked up by FindAndLoad.
const FileName = "kernelrun.toml"

// Config is the runtime configuration.
type Config struct {
	Heap      Heap                 `toml:"heap"`
	Job       Job                  `toml:"job"`
	Engine    Engine               `toml:"engine"`
	Toolchain map[string]Toolchain `toml:"toolchain"`
	Log       Log                  `toml:"log"`

	// Dir is the directory containing the config file (set at load time).
	Dir string `toml:"-"`
}

// Heap configures pass capacity.
type Heap struct {
	Capacity    uint32 `toml:"capacity"`
	Growth      string `toml:"growth"` // constant, increment or doubling
	GrowthBytes uint32 `toml:"growth-bytes"`
	MaxCapacity uint32 `toml:"max-capacity"`
}

// Job configures batching.
type Job struct {
	Threads          int `toml:"threads"`
	KernelsPerThread int `toml:"kernels-per-thread"`
}

// Engine configures the wazero engine.
type Engine struct {
	MemoryLimitPages uint32 `toml:"memory-limit-pages"`
	CacheDir         string `toml:"cache-dir"`
	WorkDir          string `toml:"work-dir"`
}

// Toolchain overrides the source compiler for one platform.
type Toolchain struct {
	Command   []string `toml:"command"`
	SourceExt string   `toml:"source-ext"`
}

// Log configures the zap logger.
type Log struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Heap: Heap{
			Capacity:    1 << 20,
			Growth:      "doubling",
			MaxCapacity: job.MaxCapacity,
		},
		Job: Job{
			KernelsPerThread: job.DefaultKernelsPerThread,
		},
		Log: Log{Level: "info"},
	}
}

// Load parses the file at path over the defaults and validates the result.
// Unknown keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c := Default()
	md, err := toml.Decode(string(data), c)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "parse error in "+path)
	}
	if und := md.Undecoded(); len(und) > 0 {
		return nil, errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("unknown key %q in %s", und[0].String(), path))
	}

	c.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	c.Engine.CacheDir = c.resolve(c.Engine.CacheDir)
	c.Engine.WorkDir = c.resolve(c.Engine.WorkDir)

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// FindAndLoad walks up from startDir looking for FileName. It returns the
// defaults when no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}
	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return Default(), nil
		}
		dir = parent
	}
}

func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.Dir == "" {
		return p
	}
	return filepath.Join(c.Dir, p)
}

// Validate checks value ranges and names.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf(format, args...))
	}
	switch {
	case c.Heap.Capacity == 0:
		return invalid("heap.capacity must be positive")
	case c.Heap.Capacity > job.MaxCapacity:
		return invalid("heap.capacity %d exceeds %d", c.Heap.Capacity, job.MaxCapacity)
	case c.Heap.MaxCapacity != 0 && c.Heap.MaxCapacity < c.Heap.Capacity:
		return invalid("heap.max-capacity %d below heap.capacity %d", c.Heap.MaxCapacity, c.Heap.Capacity)
	case c.Job.Threads < 0:
		return invalid("job.threads must not be negative")
	case c.Job.KernelsPerThread < 0:
		return invalid("job.kernels-per-thread must not be negative")
	}
	if _, err := c.GrowthPolicy(); err != nil {
		return err
	}
	for name, tc := range c.Toolchain {
		if _, err := ParsePlatform(name); err != nil {
			return err
		}
		if len(tc.Command) == 0 {
			return invalid("toolchain.%s.command is empty", name)
		}
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level: %v", err)
	}
	return nil
}

// ParsePlatform maps a toolchain table name to a platform.
func ParsePlatform(name string) (bridge.Platform, error) {
	switch strings.ToLower(name) {
	case "unix":
		return bridge.PlatformUnix, nil
	case "windows":
		return bridge.PlatformWindows, nil
	}
	return 0, errors.NotFound(errors.PhaseConfig, "platform", name)
}

// GrowthPolicy returns the configured retry growth policy.
func (c *Config) GrowthPolicy() (job.GrowthPolicy, error) {
	switch strings.ToLower(c.Heap.Growth) {
	case "", "constant":
		return job.Constant{}, nil
	case "increment":
		if c.Heap.GrowthBytes == 0 {
			return nil, errors.InvalidInput(errors.PhaseConfig, "heap.growth-bytes must be positive for increment growth")
		}
		return job.Increment{Bytes: c.Heap.GrowthBytes, Max: c.Heap.MaxCapacity}, nil
	case "doubling":
		return job.Doubling{Max: c.Heap.MaxCapacity}, nil
	}
	return nil, errors.NotFound(errors.PhaseConfig, "growth policy", c.Heap.Growth)
}

// JobConfig returns the driver configuration. The observer is left unset.
func (c *Config) JobConfig() (job.Config, error) {
	g, err := c.GrowthPolicy()
	if err != nil {
		return job.Config{}, err
	}
	return job.Config{
		Capacity:         c.Heap.Capacity,
		Growth:           g,
		Threads:          c.Job.Threads,
		KernelsPerThread: c.Job.KernelsPerThread,
	}, nil
}

// EngineConfig returns the engine configuration for platform p.
func (c *Config) EngineConfig(p bridge.Platform) *engine.Config {
	cfg := &engine.Config{
		MemoryLimitPages: c.Engine.MemoryLimitPages,
		CacheDir:         c.Engine.CacheDir,
		WorkDir:          c.Engine.WorkDir,
		MaxThreads:       c.Job.Threads,
	}
	for name, tc := range c.Toolchain {
		if tp, err := ParsePlatform(name); err == nil && tp == p {
			cfg.Toolchain = &engine.Toolchain{
				Command:   tc.Command,
				SourceExt: tc.SourceExt,
				WorkDir:   c.Engine.WorkDir,
			}
		}
	}
	return cfg
}

// Logger builds a zap logger at the configured level.
func (c *Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if c.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
