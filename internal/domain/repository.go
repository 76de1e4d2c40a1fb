// Package domain defines the core interfaces and types for Heron.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Catalog operations
	SaveGroup(ctx context.Context, group *VariableGroup) error
	ListGroups(ctx context.Context) ([]VariableGroup, error)
	SaveVariable(ctx context.Context, def *VariableDefinition) error
	ListVariables(ctx context.Context) ([]VariableDefinition, error)
	SaveRule(ctx context.Context, def *RuleDefinition) error
	ListRules(ctx context.Context) ([]RuleDefinition, error)
	SaveModel(ctx context.Context, def *ModelDefinition) error
	GetModel(ctx context.Context, name string) (*ModelDefinition, error)
	ListModels(ctx context.Context) ([]ModelDefinition, error)
	DeleteModel(ctx context.Context, name string) error

	// Procedure operations
	SaveProcedure(ctx context.Context, p *Procedure) error
	GetProcedure(ctx context.Context, cptCode string) (*Procedure, error)
	ListProcedures(ctx context.Context) ([]Procedure, error)

	// LoadCatalog assembles every enabled definition into a Catalog.
	LoadCatalog(ctx context.Context) (*Catalog, error)

	// SaveCatalog upserts every definition of cat in a single transaction.
	SaveCatalog(ctx context.Context, cat *Catalog) error

	// Calculation results
	SaveCalculation(ctx context.Context, calc *Calculation) error
	GetCalculation(ctx context.Context, id string) (*Calculation, error)
	ListCalculationsByPatient(ctx context.Context, patientID string, limit int) ([]*Calculation, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `koanf:"driver" validate:"oneof=sqlite postgres"`

	// SQLite specific
	SQLitePath string `koanf:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `koanf:"postgres_host"`
	PostgresPort     int    `koanf:"postgres_port" validate:"gte=0,lte=65535"`
	PostgresUser     string `koanf:"postgres_user"`
	PostgresPassword string `koanf:"postgres_password"`
	PostgresDB       string `koanf:"postgres_db"`
	PostgresSSLMode  string `koanf:"postgres_sslmode"`

	// Connection pool settings
	MaxOpenConns    int           `koanf:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `koanf:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}
