package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier"`

	// Component configurations
	Store    StoreConfig    `json:"store"`
	Cache    CacheConfig    `json:"cache"`
	EventBus EventBusConfig `json:"eventBus"`
	Engine   EngineConfig   `json:"engine"`
	Risk     RiskConfig     `json:"risk"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// EngineConfig holds calculation orchestrator settings.
type EngineConfig struct {
	// ResolverTimeout bounds each resolver / risk adapter call.
	ResolverTimeout time.Duration `json:"resolverTimeout"`

	// CalculationTimeout is the end-to-end parent deadline. On expiry all
	// in-flight resolver tasks are cancelled and partial results discarded.
	CalculationTimeout time.Duration `json:"calculationTimeout"`

	// BulkConcurrency caps in-flight requests during bulk calculation.
	BulkConcurrency int `json:"bulkConcurrency"`

	// BulkQueueDepth is how many waiters may queue on the admission gate
	// before Overloaded is returned.
	BulkQueueDepth int `json:"bulkQueueDepth"`

	// OptionalResolvers lists factor sources whose failure does not fail
	// the calculation. Empty by default: no silent defaults.
	OptionalResolvers []string `json:"optionalResolvers,omitempty"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Store: StoreConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:             "memory",
			LocalMaxSize:     10000,
			LocalTTL:         time.Minute,
			FactorTTL:        5 * time.Minute,
			ActivePointerTTL: time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Engine: EngineConfig{
			ResolverTimeout:    150 * time.Millisecond,
			CalculationTimeout: 500 * time.Millisecond,
			BulkConcurrency:    50,
			BulkQueueDepth:     200,
		},
		Risk: RiskConfig{
			Policy:        RiskPolicyDegraded,
			MinAdjustment: 0.5,
			MaxAdjustment: 1.5,
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

// ProConfig returns a configuration for Pro tier: PostgreSQL store, two-tier
// Redis cache and NATS bus for cross-instance consistency.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Store = StoreConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:             "redis",
		RedisAddr:        "localhost:6379",
		EnableTwoTier:    true,
		LocalMaxSize:     1000,
		LocalTTL:         time.Minute,
		FactorTTL:        15 * time.Minute,
		ActivePointerTTL: 5 * time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Risk.Policy = RiskPolicyRequired
	cfg.Tracing.Enabled = true
	return cfg
}
