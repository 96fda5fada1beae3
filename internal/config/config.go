// Package config loads the daemon's config.toml (spec.md §6).
package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

// Summarization is the `[summarization]` table.
type Summarization struct {
	Enabled   bool   `toml:"enabled"`
	Model     string `toml:"model"`
	MaxTokens int64  `toml:"max_tokens"`
	APIKey    string `toml:"api_key"`
}

// Config is the full parsed contents of config.toml.
type Config struct {
	Summarization Summarization `toml:"summarization"`
}

// Default returns a Config with the spec's defaults: summarization off until
// explicitly enabled.
func Default() Config {
	return Config{}
}

// Load reads and parses config.toml at path. A missing file is not an
// error; Load returns Default() instead, since every daemon can run with no
// config file at all (summarization simply stays disabled).
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path) // #nosec G304 - path is the daemon's own config file
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
