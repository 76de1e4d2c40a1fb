package domain

import "time"

// Config holds the complete Heron configuration.
type Config struct {
	// Server settings
	Server ServerConfig `koanf:"server" json:"server"`

	// Tier determines feature availability
	Tier Tier `koanf:"tier" json:"tier" validate:"oneof=community pro"`

	// Engine controls how calculations run
	Engine EngineConfig `koanf:"engine" json:"engine"`

	// Catalog seeding
	Catalog CatalogConfig `koanf:"catalog" json:"catalog"`

	// Component configurations
	Repository RepositoryConfig `koanf:"repository" json:"repository"`
	Cache      CacheConfig      `koanf:"cache" json:"cache"`
	EventBus   EventBusConfig   `koanf:"bus" json:"eventBus"`

	Logging LoggingConfig `koanf:"logging" json:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `koanf:"host" json:"host"`
	Port         int    `koanf:"port" json:"port" validate:"gte=1,lte=65535"`
	ReadTimeout  int    `koanf:"read_timeout" json:"readTimeout" validate:"gte=0"`   // seconds
	WriteTimeout int    `koanf:"write_timeout" json:"writeTimeout" validate:"gte=0"` // seconds
}

// EngineConfig holds calculation settings.
type EngineConfig struct {
	// MaxConcurrency bounds how many models one calculation evaluates at once.
	MaxConcurrency int `koanf:"max_concurrency" json:"maxConcurrency" validate:"gte=1"`

	// Explain includes per-term contributions in results.
	Explain bool `koanf:"explain" json:"explain"`

	// Persist stores every calculation in the repository.
	Persist bool `koanf:"persist" json:"persist"`

	// Timeout bounds a single calculation.
	Timeout time.Duration `koanf:"timeout" json:"timeout"`
}

// CatalogConfig controls where the catalog comes from at startup.
type CatalogConfig struct {
	// SeedPath is a YAML catalog written to the repository at startup when
	// set. Existing definitions with the same names are replaced.
	SeedPath string `koanf:"seed_path" json:"seedPath"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level" json:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" json:"format" validate:"oneof=json text"`
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
		Engine: EngineConfig{
			MaxConcurrency: 4,
			Explain:        true,
			Persist:        true,
			Timeout:        5 * time.Second,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./heron.db",
		},
		Cache: CacheConfig{
			Type:           "memory",
			LocalMaxSize:   10000,
			LocalTTL:       5 * time.Minute,
			CalculationTTL: time.Hour,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
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
		PostgresDB:   "heron",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
		CalculationTTL: 24 * time.Hour,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Engine.MaxConcurrency = 8
	return cfg
}
