package app

import (
	"database/sql"
	"fmt"

	"alixia/internal/config"
	"alixia/internal/db"
	"alixia/internal/migrate"
)

// Open opens the workspace database and applies migrations.
func Open(workspace string) (*sql.DB, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return conn, nil
}

// ResolveConfig prefers an explicit file, then the workspace alixia.yml,
// then built-in defaults.
func ResolveConfig(workspace, file string) (*config.Config, error) {
	if file != "" {
		return config.FromFile(file)
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}
