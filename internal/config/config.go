// Package config loads the optional .quarry.toml at the index root. CLI
// flags override anything set here.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Filename is the config file name looked up at the index root.
const Filename = ".quarry.toml"

// ErrInvalid marks a malformed config file.
var ErrInvalid = errors.New("invalid config")

// Config is the root configuration.
type Config struct {
	// DBPath overrides the database location, relative to the root
	// unless absolute.
	DBPath string `toml:"db_path"`

	// Profile selects the worker pool sizing: eco, balanced, or max.
	Profile string `toml:"profile"`

	// Threads pins an explicit worker count, overriding Profile.
	Threads int `toml:"threads"`

	// ThrottleMS sleeps each worker between files, capping thermal load.
	ThrottleMS int `toml:"throttle_ms"`

	// FastMode selects the low-durability write profile.
	FastMode bool `toml:"fast_mode"`

	// MaxFileSizeBytes caps how large a file gets parsed.
	MaxFileSizeBytes int64 `toml:"max_file_size_bytes"`

	// Languages restricts indexing to the listed languages.
	Languages []string `toml:"languages"`
}

var validProfiles = map[string]bool{"": true, "eco": true, "balanced": true, "max": true}

// Load reads the config at root, returning zero-value defaults when the
// file is absent.
func Load(root string) (*Config, error) {
	var cfg Config
	raw, err := os.ReadFile(filepath.Join(root, Filename))
	if os.IsNotExist(err) {
		return &cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !validProfiles[cfg.Profile] {
		return nil, fmt.Errorf("%w: unknown profile %q", ErrInvalid, cfg.Profile)
	}
	if cfg.Threads < 0 {
		return nil, fmt.Errorf("%w: negative threads", ErrInvalid)
	}
	return &cfg, nil
}
