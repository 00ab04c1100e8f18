package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Tier determines which backends are wired
	Tier Tier `json:"tier" mapstructure:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" mapstructure:"repository"`
	Cache      CacheConfig      `json:"cache" mapstructure:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" mapstructure:"eventbus"`

	// Engines
	Reconciliation ReconciliationConfig `json:"reconciliation" mapstructure:"reconciliation"`
	Risk           RiskConfig           `json:"risk" mapstructure:"risk"`

	// Observability
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" mapstructure:"host"`
	Port         int    `json:"port" mapstructure:"port"`
	ReadTimeout  int    `json:"readTimeout" mapstructure:"read_timeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" mapstructure:"write_timeout"` // seconds
}

// ReconciliationConfig tunes the three-way matcher.
type ReconciliationConfig struct {
	// Tolerance is the absolute currency difference allowed between sources.
	Tolerance string `json:"tolerance" mapstructure:"tolerance"`

	// CompareIGST adds integrated tax to the compared fields.
	CompareIGST bool `json:"compareIgst" mapstructure:"compare_igst"`

	// Workers bounds per-invoice parallelism.
	Workers int `json:"workers" mapstructure:"workers"`

	// EligibilityTTL is how long eligibility decisions stay cached. Zero disables caching.
	EligibilityTTL time.Duration `json:"eligibilityTtl" mapstructure:"eligibility_ttl"`
}

// RiskConfig tunes vendor risk scoring.
type RiskConfig struct {
	ExpectedPeriods int `json:"expectedPeriods" mapstructure:"expected_periods"`
	Workers         int `json:"workers" mapstructure:"workers"`

	// Forest hyperparameters
	Trees    int   `json:"trees" mapstructure:"trees"`
	MaxDepth int   `json:"maxDepth" mapstructure:"max_depth"`
	Seed     int64 `json:"seed" mapstructure:"seed"`

	// Degree statistics for the centrality heuristic
	DegreeMean            float64 `json:"degreeMean" mapstructure:"degree_mean"`
	DegreeStd             float64 `json:"degreeStd" mapstructure:"degree_std"`
	PopulationDegreeStats bool    `json:"populationDegreeStats" mapstructure:"population_degree_stats"`

	// AlertTiers lists tiers that publish a vendor alert.
	AlertTiers []RiskTier `json:"alertTiers" mapstructure:"alert_tiers"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	ServiceName string `json:"serviceName" mapstructure:"service_name"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite, an in-process LRU and channels
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL, Redis and NATS
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 120,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 100,
		},
		Reconciliation: ReconciliationConfig{
			Tolerance:      "1.00",
			CompareIGST:    true,
			Workers:        8,
			EligibilityTTL: 5 * time.Minute,
		},
		Risk: RiskConfig{
			ExpectedPeriods: 3,
			Workers:         8,
			Trees:           50,
			MaxDepth:        5,
			Seed:            42,
			DegreeMean:      15,
			DegreeStd:       5,
			AlertTiers:      []RiskTier{TierHigh, TierCritical},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Reconciliation.Workers = 32
	cfg.Risk.Workers = 32
	cfg.Tracing.Enabled = true
	return cfg
}
