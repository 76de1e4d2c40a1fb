package repository

import (
	"cmp"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/opensource-clinical/heron/internal/domain"
)

// openPostgres opens a PostgreSQL database connection.
func openPostgres(cfg domain.RepositoryConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", postgresDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}

	return db, nil
}

// postgresDSN builds a key/value connection string, filling defaults for
// host, port, database and sslmode.
func postgresDSN(cfg domain.RepositoryConfig) string {
	host := cmp.Or(cfg.PostgresHost, "localhost")
	port := cmp.Or(cfg.PostgresPort, 5432)
	dbname := cmp.Or(cfg.PostgresDB, "heron")
	sslmode := cmp.Or(cfg.PostgresSSLMode, "disable")

	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		host, port, cfg.PostgresUser, cfg.PostgresPassword, dbname, sslmode,
	)
}
