package database

import (
	"os"
	"path/filepath"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/pkg/errors"
)

// MigratorOptions controls how schema migrations are applied at boot.
type MigratorOptions struct {
	// FolderPath is the directory with the .up.sql / .down.sql pairs, given
	// absolute or relative to the working directory.
	FolderPath string

	// TargetVersion migrates to a specific version. Zero means latest.
	TargetVersion uint

	// ForceVersion stamps the schema version before migrating, clearing a
	// dirty flag left by a crashed run. Zero disables it.
	ForceVersion int

	// AutoRollback stamps a dirty schema back to its pre-run version when a
	// migration fails. The failure is still returned.
	AutoRollback bool
}

// Migrator applies the SQL migrations with golang-migrate.
type Migrator struct {
	opts   MigratorOptions
	logger ectologger.Logger
}

func NewMigrator(logger ectologger.Logger, opts MigratorOptions) *Migrator {
	return &Migrator{opts: opts, logger: logger}
}

// migrateLogger adapts ectologger to golang-migrate's Logger interface.
type migrateLogger struct {
	ectologger.Logger
}

func (l migrateLogger) Verbose() bool { return true }

func (l migrateLogger) Printf(format string, v ...any) {
	l.Infof(format, v...)
}

// Run applies pending migrations against an already-open database handle.
func (m *Migrator) Run(databaseName string, driver migratedb.Driver) error {
	folder, err := m.folder()
	if err != nil {
		return err
	}

	runner, err := migrate.NewWithDatabaseInstance("file://"+folder, databaseName, driver)
	if err != nil {
		return errors.Wrap(err, "create migrate instance")
	}
	runner.Log = migrateLogger{m.logger}

	if m.opts.ForceVersion != 0 {
		if err := runner.Force(m.opts.ForceVersion); err != nil {
			return errors.Wrapf(err, "force schema version %d", m.opts.ForceVersion)
		}
	}

	before, _, err := runner.Version()
	if err != nil && err != migrate.ErrNilVersion {
		m.logger.WithError(err).Error("Failed to read current schema version")
	}

	start := time.Now()
	if m.opts.TargetVersion != 0 {
		err = runner.Migrate(m.opts.TargetVersion)
	} else {
		err = runner.Up()
	}

	switch {
	case err == nil:
		m.logger.Infof("Database migrations applied in %v", time.Since(start))
		return nil
	case err == migrate.ErrNoChange:
		m.logger.Info("Database schema already up to date")
		return nil
	}

	return m.recover(runner, err, before)
}

// folder resolves the migration directory, trying the configured path as
// given and then relative to the working directory.
func (m *Migrator) folder() (string, error) {
	path := m.opts.FolderPath
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", errors.Wrap(err, "resolve working directory")
	}
	path = filepath.Join(wd, m.opts.FolderPath)
	if _, err := os.Stat(path); err != nil {
		return "", errors.Wrapf(err, "migration folder %s not found", m.opts.FolderPath)
	}
	return path, nil
}

// recover handles a failed run. With AutoRollback a dirty schema is stamped
// back to the version recorded before the run; the original failure is still
// returned so the service does not start on a half-applied schema.
func (m *Migrator) recover(runner *migrate.Migrate, runErr error, before uint) error {
	m.logger.WithError(runErr).Error("Database migration failed")

	version, dirty, err := runner.Version()
	if err != nil && err != migrate.ErrNilVersion {
		m.logger.WithError(err).Error("Failed to read schema version after failure")
		return runErr
	}

	if m.opts.AutoRollback && dirty {
		if before == 0 && version > 0 {
			before = version - 1
		}
		m.logger.Warnf("Schema dirty at version %d, stamping back to %d", version, before)
		if err := runner.Force(int(before)); err != nil {
			return errors.Wrapf(err, "rollback to version %d", before)
		}
	}
	return runErr
}
