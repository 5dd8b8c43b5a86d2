// Package storage holds what the dataset store backends share: schema
// migration and the column layout of the access_points table.
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// AccessPointColumns is the insert column order shared by both backends.
var AccessPointColumns = []string{
	"dataset_id", "mac_address", "ssid", "auth_mode", "first_seen", "channel", "rssi",
	"latitude", "longitude", "altitude", "accuracy", "type",
}

// MigrateUp applies every pending migration found under dir in migrations.
// driverName is only used in log lines and errors.
//
// The migrate instance is not closed; closing it would close the caller's
// database handle.
func MigrateUp(migrations fs.FS, dir, driverName string, driver database.Driver) error {
	src, err := iofs.New(migrations, dir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, driverName, driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	m.Log = migrateLogger{driver: driverName}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read migration version: %w", err)
	}
	slog.Info("schema migrated", "driver", driverName, "version", version, "dirty", dirty)
	return nil
}

// migrateLogger routes golang-migrate output through slog.
type migrateLogger struct {
	driver string
}

func (l migrateLogger) Printf(format string, v ...any) {
	slog.Debug(fmt.Sprintf(format, v...), "component", "migrate", "driver", l.driver)
}

func (l migrateLogger) Verbose() bool { return false }
