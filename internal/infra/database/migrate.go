package database

import (
	"embed"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Migration sets, one per service database.
const (
	MigrationsPost     = "post"
	MigrationsMedia    = "media"
	MigrationsSearch   = "search"
	MigrationsIdentity = "identity"
)

//go:embed migrations
var migrationsFS embed.FS

// NewMigrator opens the named migration set against databaseURL.
func NewMigrator(databaseURL, set string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, path.Join("migrations", set))
	if err != nil {
		return nil, fmt.Errorf("open migration set %s: %w", set, err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, migrateURL(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}

	return m, nil
}

// Migrate applies every pending migration of set. An up-to-date schema is
// not an error.
func Migrate(databaseURL, set string) error {
	m, err := NewMigrator(databaseURL, set)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations %s: %w", set, err)
	}

	return nil
}

// migrateURL points a postgres:// url at the pgx driver registered as pgx5.
func migrateURL(databaseURL string) string {
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if rest, ok := strings.CutPrefix(databaseURL, scheme); ok {
			return "pgx5://" + rest
		}
	}
	return databaseURL
}
