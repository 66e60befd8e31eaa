package db

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Migrate applies every pending up migration found in source. It reports
// whether any migration ran.
func Migrate(dsn string, source fs.FS) (bool, error) {
	driver, err := iofs.New(source, ".")
	if err != nil {
		return false, fmt.Errorf("platform/db: migration source: %w", err)
	}
	migrator, err := migrate.NewWithSourceInstance("iofs", driver, migrationURL(dsn))
	if err != nil {
		return false, fmt.Errorf("platform/db: new migrator: %w", err)
	}
	defer func() {
		_, _ = migrator.Close()
	}()

	err = migrator.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("platform/db: migrate up: %w", err)
	}
	return true, nil
}

// migrationURL rewrites a libpq style DSN to the pgx/v5 driver scheme.
func migrationURL(dsn string) string {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "pgx5://" + strings.TrimPrefix(dsn, prefix)
		}
	}
	return dsn
}
