package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"agchain/native/token"
)

// Config is the node configuration, loaded from a TOML file. Every field
// has a default so a node can start with no file at all.
type Config struct {
	ListenAddress    string           `toml:"ListenAddress"`
	DataDir          string           `toml:"DataDir"`
	Env              string           `toml:"Env"`
	BlockInterval    string           `toml:"BlockInterval"`
	TokenProfilePath string           `toml:"TokenProfilePath"`
	Logging          Logging          `toml:"Logging"`
	Genesis          []GenesisBalance `toml:"Genesis"`
}

// GenesisBalance is one initial core-asset allocation, applied only when
// the node starts with an empty database.
type GenesisBalance struct {
	Address string `toml:"Address"`
	Balance string `toml:"Balance"`
}

// Logging mirrors observability/logging.Options in file form.
type Logging struct {
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// Default returns the built-in node configuration.
func Default() *Config {
	return &Config{
		ListenAddress: ":8645",
		DataDir:       "./agd-data",
		Env:           "dev",
		BlockInterval: "3s",
		Logging: Logging{
			Level:      "info",
			MaxSizeMB:  128,
			MaxBackups: 7,
			MaxAgeDays: 30,
		},
	}
}

// Load reads a TOML config from path, layered over the defaults. A missing
// file is not an error; a malformed one is.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the node cannot run with.
func (c *Config) Validate() error {
	if c.ListenAddress == "" {
		return fmt.Errorf("config: ListenAddress must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("config: DataDir must not be empty")
	}
	if _, err := c.BlockIntervalDuration(); err != nil {
		return err
	}
	return nil
}

// BlockIntervalDuration parses the block interval.
func (c *Config) BlockIntervalDuration() (time.Duration, error) {
	d, err := time.ParseDuration(c.BlockInterval)
	if err != nil {
		return 0, fmt.Errorf("config: BlockInterval %q: %w", c.BlockInterval, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("config: BlockInterval must be positive")
	}
	return d, nil
}

// LoadTokenProfile reads the YAML token limits file. A missing path yields
// the defaults.
func LoadTokenProfile(path string) (*token.Profile, error) {
	profile := token.DefaultProfile()
	if path == "" {
		return profile, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return profile, nil
		}
		return nil, fmt.Errorf("config: read token profile %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, profile); err != nil {
		return nil, fmt.Errorf("config: decode token profile %s: %w", path, err)
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	return profile, nil
}
