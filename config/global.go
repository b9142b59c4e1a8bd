package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "reserveledger/native/common"
)

// ResolveAdminToken resolves the API admin token, preferring the inline value over
// the environment.
func (a API) ResolveAdminToken() (string, error) {
	if token := strings.TrimSpace(a.AdminToken); token != "" {
		return token, nil
	}
	if env := strings.TrimSpace(a.AdminTokenEnv); env != "" {
		if token := strings.TrimSpace(os.Getenv(env)); token != "" {
			return token, nil
		}
		return "", fmt.Errorf("api: admin token env %s is empty", env)
	}
	return "", fmt.Errorf("api: admin token not configured")
}

// Seconds converts a seconds field into a duration, substituting fallback
// for non-positive values.
func Seconds(value int, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return time.Duration(value) * time.Second
}

// Address parses an optional override. The zero address means unset.
func Address(value string) common.Address {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return common.Address{}
	}
	return common.HexToAddress(trimmed)
}

// Modules returns the names of the modules paused at startup.
func (p Pauses) Modules() []string {
	out := make([]string, 0, 4)
	if p.Pool {
		out = append(out, nativecommon.ModulePool)
	}
	if p.Stability {
		out = append(out, nativecommon.ModuleStability)
	}
	if p.Staking {
		out = append(out, nativecommon.ModuleStaking)
	}
	if p.Issuance {
		out = append(out, nativecommon.ModuleIssuance)
	}
	return out
}

// IssuancePeriod returns the configured default emission period.
func (i Issuance) IssuancePeriod() time.Duration {
	return time.Duration(i.PeriodSeconds) * time.Second
}
