package repository

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// openPostgres opens the pro-tier graph store.
func openPostgres(cfg domain.RepositoryConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", postgresDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres graph store: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres graph store: %w", err)
	}
	return db, nil
}

// postgresDSN builds a key/value connection string, omitting empty credentials.
func postgresDSN(cfg domain.RepositoryConfig) string {
	host := cfg.PostgresHost
	if host == "" {
		host = "localhost"
	}
	port := cfg.PostgresPort
	if port == 0 {
		port = 5432
	}
	dbname := cfg.PostgresDB
	if dbname == "" {
		dbname = "kestrel"
	}
	sslmode := cfg.PostgresSSLMode
	if sslmode == "" {
		sslmode = "disable"
	}

	parts := []string{
		fmt.Sprintf("host=%s", host),
		fmt.Sprintf("port=%d", port),
		fmt.Sprintf("dbname=%s", dbname),
		fmt.Sprintf("sslmode=%s", sslmode),
		"application_name=kestrel",
	}
	if cfg.PostgresUser != "" {
		parts = append(parts, fmt.Sprintf("user=%s", cfg.PostgresUser))
	}
	if cfg.PostgresPassword != "" {
		parts = append(parts, fmt.Sprintf("password='%s'", strings.ReplaceAll(cfg.PostgresPassword, "'", `\'`)))
	}
	return strings.Join(parts, " ")
}
