package config

// Node controls the daemon's listener and ledger storage.
type Node struct {
	ListenAddress string `toml:"ListenAddress"`
	DataDir       string `toml:"DataDir"`
	// StorageBackend is one of memory, leveldb or pebble.
	StorageBackend string `toml:"StorageBackend"`
	Environment    string `toml:"Environment"`
	LogLevel       string `toml:"LogLevel"`
	// DevFaucet enables the mint endpoint. It is refused on persistent
	// backends.
	DevFaucet       bool `toml:"DevFaucet"`
	ShutdownSeconds int  `toml:"ShutdownSeconds"`
	// CORSOrigins lists browser origins allowed to call the API.
	CORSOrigins []string `toml:"CORSOrigins"`
}

// Escrow mirrors the engine parameters.
type Escrow struct {
	DisputeStake   uint64 `toml:"DisputeStake"`
	OpenPeerFeeBps uint64 `toml:"OpenPeerFeeBps"`
	MinWaitingTime int64  `toml:"MinWaitingTimeSeconds"`
	MaxWaitingTime int64  `toml:"MaxWaitingTimeSeconds"`
}

// Auth configures bearer token authentication in front of the API.
type Auth struct {
	Enabled        bool     `toml:"Enabled"`
	HMACSecret     string   `toml:"HMACSecret"`
	HMACSecretEnv  string   `toml:"HMACSecretEnv"`
	Issuer         string   `toml:"Issuer"`
	Audience       []string `toml:"Audience"`
	AllowAnonymous []string `toml:"AllowAnonymous"`
}

// RateLimit caps per-client request rates.
type RateLimit struct {
	RatePerSecond float64 `toml:"RatePerSecond"`
	Burst         int     `toml:"Burst"`
	// MethodCost charges named JSON-RPC methods more than one token.
	MethodCost map[string]int `toml:"MethodCost"`
}

// Indexer configures the event index database.
type Indexer struct {
	Enabled bool `toml:"Enabled"`
	// Driver is sqlite or postgres.
	Driver string `toml:"Driver"`
	DSN    string `toml:"DSN"`
	Buffer int    `toml:"Buffer"`
}

// Kafka configures event publication.
type Kafka struct {
	Enabled bool     `toml:"Enabled"`
	Brokers []string `toml:"Brokers"`
	Topic   string   `toml:"Topic"`
}

// Telemetry configures OpenTelemetry export.
type Telemetry struct {
	Endpoint    string  `toml:"Endpoint"`
	Insecure    bool    `toml:"Insecure"`
	Headers     string  `toml:"Headers"`
	Traces      bool    `toml:"Traces"`
	Metrics     bool    `toml:"Metrics"`
	SampleRatio float64 `toml:"SampleRatio"`
}

// Replay bounds signed request freshness.
type Replay struct {
	MaxSkewSeconds int64 `toml:"MaxSkewSeconds"`
	CacheSize      int   `toml:"CacheSize"`
}
