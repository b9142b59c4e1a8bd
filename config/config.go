// Package config loads the ledgerd node configuration from TOML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	BackendMemory  = "memory"
	BackendLevelDB = "leveldb"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	DataDir     string    `toml:"DataDir"`
	GenesisFile string    `toml:"GenesisFile"`
	API         API       `toml:"api"`
	Storage     Storage   `toml:"storage"`
	Journal     Journal   `toml:"journal"`
	Logging     Logging   `toml:"logging"`
	Telemetry   Telemetry `toml:"telemetry"`
	Accounts    Accounts  `toml:"accounts"`
	Tokens      Tokens    `toml:"tokens"`
	Issuance    Issuance  `toml:"issuance"`
	Pauses      Pauses    `toml:"pauses"`
}

// Load loads the configuration from the given path, writing a default file
// when none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, key := range undecoded {
			keys[i] = key.String()
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}
	cfg.applyDefaults()
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns the configuration written on first start.
func Default() *Config {
	return &Config{
		DataDir: "./ledger-data",
		API: API{
			ListenAddress:     ":8090",
			AdminTokenEnv:     "LEDGERD_ADMIN_TOKEN",
			ReadHeaderTimeout: 5,
			ReadTimeout:       15,
			WriteTimeout:      15,
			IdleTimeout:       60,
			ShutdownTimeout:   10,
			MaxBodyBytes:      1 << 20,
			Quota:             Quota{RequestsPerSecond: 50, Burst: 100},
		},
		Storage:   Storage{Backend: BackendLevelDB},
		Journal:   Journal{Driver: DriverSQLite},
		Logging:   Logging{Env: "prod", Level: "info", MaxSizeMB: 100, MaxBackups: 5},
		Telemetry: Telemetry{Insecure: true},
		Issuance:  Issuance{PeriodSeconds: 7 * 24 * 60 * 60},
	}
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./ledger-data"
	}
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendLevelDB
	}
	if c.Storage.Backend == BackendLevelDB && strings.TrimSpace(c.Storage.Path) == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "state")
	}
	c.Journal.Driver = strings.ToLower(strings.TrimSpace(c.Journal.Driver))
	if c.Journal.Driver == DriverSQLite && strings.TrimSpace(c.Journal.DSN) == "" {
		c.Journal.DSN = filepath.Join(c.DataDir, "journal.db")
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	cfg.applyDefaults()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
