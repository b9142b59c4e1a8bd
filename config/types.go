package config

// API configures the HTTP listener.
type API struct {
	ListenAddress string `toml:"ListenAddress"`
	// AdminToken guards mutating endpoints. AdminTokenEnv names an
	// environment variable read when AdminToken is empty.
	AdminToken    string `toml:"AdminToken"`
	AdminTokenEnv string `toml:"AdminTokenEnv"`
	// ReadHeaderTimeout, ReadTimeout, WriteTimeout, IdleTimeout and
	// ShutdownTimeout are expressed in seconds.
	ReadHeaderTimeout int   `toml:"ReadHeaderTimeout"`
	ReadTimeout       int   `toml:"ReadTimeout"`
	WriteTimeout      int   `toml:"WriteTimeout"`
	IdleTimeout       int   `toml:"IdleTimeout"`
	ShutdownTimeout   int   `toml:"ShutdownTimeout"`
	MaxBodyBytes      int64 `toml:"MaxBodyBytes"`
	// Quota applies per client address.
	Quota Quota `toml:"quota"`
}

// Quota defines rate limits for API interactions on a per-address basis.
type Quota struct {
	RequestsPerSecond float64 `toml:"RequestsPerSecond"`
	Burst             int     `toml:"Burst"`
}

// Storage selects the key-value backend.
type Storage struct {
	// Backend is "memory" or "leveldb".
	Backend string `toml:"Backend"`
	Path    string `toml:"Path"`
}

// Journal configures the committed receipt journal. An empty Driver
// disables it.
type Journal struct {
	// Driver is "sqlite" or "postgres".
	Driver string `toml:"Driver"`
	DSN    string `toml:"DSN"`
}

// Logging configures the slog handler.
type Logging struct {
	Env        string `toml:"Env"`
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
}

// Telemetry configures the OTLP exporters.
type Telemetry struct {
	Endpoint    string  `toml:"Endpoint"`
	Insecure    bool    `toml:"Insecure"`
	Headers     string  `toml:"Headers"`
	Traces      bool    `toml:"Traces"`
	Metrics     bool    `toml:"Metrics"`
	SampleRatio float64 `toml:"SampleRatio"`
}

// Accounts overrides the derived module accounts. Empty entries keep the
// derived address.
type Accounts struct {
	ActivePool    string `toml:"ActivePool"`
	DefaultPool   string `toml:"DefaultPool"`
	StabilityPool string `toml:"StabilityPool"`
	Staking       string `toml:"Staking"`
	Vault         string `toml:"Vault"`
	Issuance      string `toml:"Issuance"`
}

// Tokens overrides the derived protocol token addresses.
type Tokens struct {
	Stable     string `toml:"Stable"`
	Governance string `toml:"Governance"`
}

// Issuance configures the default emission period.
type Issuance struct {
	// PeriodSeconds applies until genesis or an admin call changes it.
	PeriodSeconds uint64 `toml:"PeriodSeconds"`
}

// Pauses lists the modules halted at startup.
type Pauses struct {
	Pool      bool `toml:"Pool"`
	Stability bool `toml:"Stability"`
	Staking   bool `toml:"Staking"`
	Issuance  bool `toml:"Issuance"`
}
