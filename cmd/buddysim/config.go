package main

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/cloudwego/buddy/malloc"
	"go.uber.org/zap/zapcore"
)

// Operation kinds of a workload.
const (
	opAlloc  = "alloc"
	opFree   = "free"
	opDump   = "dump"
	opStats  = "stats"
	opVerify = "verify"
	opReset  = "reset"
)

// Config is the TOML description of a simulation run.
//
//	min_order = 12
//	max_order = 20
//
//	[[op]]
//	kind = "alloc"
//	name = "a"
//	size = 5000
//
//	[[op]]
//	kind = "free"
//	name = "a"
type Config struct {
	MinOrder int    `toml:"min_order"`
	MaxOrder int    `toml:"max_order"`
	LogLevel string `toml:"log_level"`

	// Locked runs the workload against a SyncAllocator.
	Locked bool `toml:"locked"`
	// Metrics counts the traffic with prometheus and logs the totals at the end.
	Metrics bool `toml:"metrics"`
	// FailFast stops at the first failed alloc or free.
	FailFast bool `toml:"fail_fast"`
	// DumpEach prints the free lists after every alloc and free.
	DumpEach bool `toml:"dump_each"`

	Ops []Op `toml:"op"`
}

// Op is one step of a workload.
type Op struct {
	Kind string `toml:"kind"`
	// Name labels an allocation so a later free can refer to it.
	Name string `toml:"name"`
	Size int    `toml:"size"`
}

// LoadConfig reads the config file at path.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return finishConfig(&cfg, md)
}

// ParseConfig reads a config from TOML text.
func ParseConfig(data string) (*Config, error) {
	var cfg Config
	md, err := toml.Decode(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return finishConfig(&cfg, md)
}

func finishConfig(cfg *Config, md toml.MetaData) (*Config, error) {
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown config key %q", undecoded[0].String())
	}
	if !md.IsDefined("min_order") {
		cfg.MinOrder = malloc.DefaultMinOrder
	}
	if !md.IsDefined("max_order") {
		cfg.MaxOrder = malloc.DefaultMaxOrder
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the config without building an allocator.
func (c *Config) Validate() error {
	if c.MinOrder < 0 || c.MinOrder > c.MaxOrder || c.MaxOrder > malloc.MaxArenaOrder {
		return fmt.Errorf("invalid orders: min_order=%d max_order=%d", c.MinOrder, c.MaxOrder)
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	for i, op := range c.Ops {
		switch op.Kind {
		case opAlloc:
			// sizes are checked by the allocator itself, a bad one is a failed step
		case opFree:
			if op.Name == "" {
				return fmt.Errorf("op %d: free needs a name", i)
			}
		case opDump, opStats, opVerify, opReset:
		default:
			return fmt.Errorf("op %d: unknown kind %q", i, op.Kind)
		}
	}
	return nil
}
