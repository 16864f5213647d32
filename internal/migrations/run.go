package migrations

import (
	"embed"
	"log/slog"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "github.com/golang-migrate/migrate/v4/database/postgres"
)

//go:embed *.sql
var fs embed.FS

// Run applies all up migrations embedded in this package against dsn.
func Run(dsn string) {
	d, err := iofs.New(fs, ".")
	if err != nil {
		slog.Error("migrations: iofs", "error", err)
		os.Exit(1)
	}

	m, err := migrate.NewWithSourceInstance("iofs", d, dsn)
	if err != nil {
		slog.Error("migrations: new", "error", err)
		os.Exit(1)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		slog.Error("migrations: up", "error", err)
		os.Exit(1)
	}
}
