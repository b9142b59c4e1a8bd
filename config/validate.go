package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	MinIssuancePeriodSeconds = uint64(60)
)

func ValidateConfig(c *Config) error {
	if c == nil {
		return fmt.Errorf("config: nil")
	}
	if strings.TrimSpace(c.API.ListenAddress) == "" {
		return fmt.Errorf("api: listen_address required")
	}
	if c.API.Quota.RequestsPerSecond < 0 || c.API.Quota.Burst < 0 {
		return fmt.Errorf("api.quota: negative limit")
	}
	if c.API.Quota.RequestsPerSecond > 0 && c.API.Quota.Burst == 0 {
		return fmt.Errorf("api.quota: burst must be positive when a rate is set")
	}
	if c.API.MaxBodyBytes < 0 {
		return fmt.Errorf("api: max_body_bytes < 0")
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendLevelDB:
		if strings.TrimSpace(c.Storage.Path) == "" {
			return fmt.Errorf("storage: leveldb path required")
		}
	default:
		return fmt.Errorf("storage: unknown backend %q", c.Storage.Backend)
	}
	switch c.Journal.Driver {
	case "":
	case DriverSQLite, DriverPostgres:
		if strings.TrimSpace(c.Journal.DSN) == "" {
			return fmt.Errorf("journal: dsn required for %s", c.Journal.Driver)
		}
	default:
		return fmt.Errorf("journal: unknown driver %q", c.Journal.Driver)
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: sample_ratio outside [0,1]")
	}
	if c.Issuance.PeriodSeconds < MinIssuancePeriodSeconds {
		return fmt.Errorf("issuance: period_seconds below %d", MinIssuancePeriodSeconds)
	}
	for name, value := range c.addressFields() {
		if strings.TrimSpace(value) == "" {
			continue
		}
		if !common.IsHexAddress(strings.TrimSpace(value)) {
			return fmt.Errorf("%s: invalid address %q", name, value)
		}
	}
	return nil
}

func (c *Config) addressFields() map[string]string {
	return map[string]string{
		"accounts.active_pool":    c.Accounts.ActivePool,
		"accounts.default_pool":   c.Accounts.DefaultPool,
		"accounts.stability_pool": c.Accounts.StabilityPool,
		"accounts.staking":        c.Accounts.Staking,
		"accounts.vault":          c.Accounts.Vault,
		"accounts.issuance":       c.Accounts.Issuance,
		"tokens.stable":           c.Tokens.Stable,
		"tokens.governance":       c.Tokens.Governance,
	}
}
