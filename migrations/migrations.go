// Package migrations embeds the goose SQL migrations of every SQL store.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
)

//go:embed clickhouse/*.sql postgres/*.sql
var FS embed.FS

// Dir returns the migrations directory for a storage driver ("clickhouse" or "postgres")
func Dir(driver string) (fs.FS, error) {
	switch driver {
	case "clickhouse", "postgres":
		return fs.Sub(FS, driver)
	default:
		return nil, fmt.Errorf("no migrations for storage driver %q", driver)
	}
}

// NewProvider creates a goose provider running the embedded migrations of driver against db
func NewProvider(driver string, db *sql.DB) (*goose.Provider, error) {
	dir, err := Dir(driver)
	if err != nil {
		return nil, err
	}

	dialect := goose.DialectPostgres
	if driver == "clickhouse" {
		dialect = goose.DialectClickHouse
	}

	provider, err := goose.NewProvider(dialect, db, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to create goose provider: %w", err)
	}
	return provider, nil
}
