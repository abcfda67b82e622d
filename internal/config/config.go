package config

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/vk/taskgridgo/internal/ctxlog"
)

// Store backends understood by the app package.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Config is the fully validated worker configuration.
type Config struct {
	Store      Store
	Defaults   Defaults
	Parameters map[string]any
}

// Store selects and configures the state store backend.
type Store struct {
	Backend string
	DSN     string
}

// Defaults holds scheduling defaults applied when a task does not bring its
// own scheduler or lock policy.
type Defaults struct {
	Interval    time.Duration
	LockTimeout time.Duration
}

// fileRoot mirrors the top-level structure of a worker configuration file.
type fileRoot struct {
	Store      *storeBlock    `hcl:"store,block"`
	Defaults   *defaultsBlock `hcl:"defaults,block"`
	Parameters hcl.Expression `hcl:"parameters,optional"`
}

type storeBlock struct {
	Backend string `hcl:"backend"`
	DSN     string `hcl:"dsn,optional"`
}

type defaultsBlock struct {
	Interval    string `hcl:"interval,optional"`
	LockTimeout string `hcl:"lock_timeout,optional"`
}

// Default returns the configuration used when no file is given: in-memory
// store, no default interval, empty parameters.
func Default() *Config {
	return &Config{Store: Store{Backend: BackendMemory}}
}

// Load parses and validates the worker configuration file at path.
func Load(ctx context.Context, path string) (*Config, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Loading worker configuration.", "path", path)

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, diags)
	}

	var root fileRoot
	if diags := gohcl.DecodeBody(file.Body, nil, &root); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode config file %s: %w", path, diags)
	}

	cfg := Default()

	if root.Store != nil {
		switch root.Store.Backend {
		case BackendMemory, BackendPostgres:
			// valid
		default:
			return nil, fmt.Errorf("invalid store backend %q: must be %q or %q", root.Store.Backend, BackendMemory, BackendPostgres)
		}
		if root.Store.Backend == BackendPostgres && root.Store.DSN == "" {
			return nil, fmt.Errorf("store backend %q requires a dsn", BackendPostgres)
		}
		cfg.Store = Store{Backend: root.Store.Backend, DSN: root.Store.DSN}
	}

	if root.Defaults != nil {
		if root.Defaults.Interval != "" {
			d, err := time.ParseDuration(root.Defaults.Interval)
			if err != nil {
				return nil, fmt.Errorf("invalid defaults.interval: %w", err)
			}
			cfg.Defaults.Interval = d
		}
		if root.Defaults.LockTimeout != "" {
			d, err := time.ParseDuration(root.Defaults.LockTimeout)
			if err != nil {
				return nil, fmt.Errorf("invalid defaults.lock_timeout: %w", err)
			}
			cfg.Defaults.LockTimeout = d
		}
	}

	if root.Parameters != nil {
		val, diags := root.Parameters.Value(nil)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to evaluate parameters: %w", diags)
		}
		if !val.IsNull() {
			native, err := ctyToNative(val)
			if err != nil {
				return nil, fmt.Errorf("invalid parameters: %w", err)
			}
			params, ok := native.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("parameters must be an object, got %s", val.Type().FriendlyName())
			}
			cfg.Parameters = params
		}
	}

	logger.Debug("Worker configuration loaded.", "backend", cfg.Store.Backend, "parameter_count", len(cfg.Parameters))
	return cfg, nil
}
