// Package migrate applies numbered SQL migrations on top of a gorm
// connection, recording each applied version.
package migrate

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"
)

// Migration represents a single database migration
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// Provider loads the available migrations
type Provider interface {
	GetMigrations() ([]Migration, error)
}

// appliedMigration is one row of the version table
type appliedMigration struct {
	Version   int       `gorm:"primaryKey;autoIncrement:false;column:version"`
	Name      string    `gorm:"column:name;not null"`
	AppliedAt time.Time `gorm:"column:applied_at;not null"`
}

// DefaultTable is the version table used when none is given
const DefaultTable = "schema_migrations"

// Migrator handles the execution of migrations
type Migrator struct {
	db       *gorm.DB
	provider Provider
	table    string
}

// NewMigrator creates a new migrator instance
func NewMigrator(db *gorm.DB, provider Provider, table string) *Migrator {
	if table == "" {
		table = DefaultTable
	}
	return &Migrator{db: db, provider: provider, table: table}
}

func (m *Migrator) versions() *gorm.DB {
	return m.db.Table(m.table)
}

func (m *Migrator) ensureTable() error {
	if err := m.versions().AutoMigrate(&appliedMigration{}); err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}
	return nil
}

// CurrentVersion returns the highest applied version, 0 when none is.
func (m *Migrator) CurrentVersion() (int, error) {
	if err := m.ensureTable(); err != nil {
		return 0, err
	}
	var version sql.NullInt64
	if err := m.versions().Select("MAX(version)").Row().Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get current version: %w", err)
	}
	return int(version.Int64), nil
}

func (m *Migrator) sorted() ([]Migration, error) {
	migrations, err := m.provider.GetMigrations()
	if err != nil {
		return nil, fmt.Errorf("failed to get migrations: %w", err)
	}
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// MigrateUp runs all pending migrations and returns how many were applied
func (m *Migrator) MigrateUp() (int, error) {
	current, err := m.CurrentVersion()
	if err != nil {
		return 0, err
	}
	migrations, err := m.sorted()
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, migration := range migrations {
		if migration.Version <= current {
			continue
		}
		if err := m.apply(migration); err != nil {
			return applied, fmt.Errorf("failed to apply migration %d: %w", migration.Version, err)
		}
		applied++
	}
	return applied, nil
}

// MigrateDown reverts applied migrations newer than targetVersion
func (m *Migrator) MigrateDown(targetVersion int) error {
	current, err := m.CurrentVersion()
	if err != nil {
		return err
	}
	if targetVersion >= current {
		return fmt.Errorf("target version %d must be less than current version %d", targetVersion, current)
	}
	migrations, err := m.sorted()
	if err != nil {
		return err
	}

	for i := len(migrations) - 1; i >= 0; i-- {
		migration := migrations[i]
		if migration.Version <= targetVersion || migration.Version > current {
			continue
		}
		if err := m.revert(migration); err != nil {
			return fmt.Errorf("failed to rollback migration %d: %w", migration.Version, err)
		}
	}
	return nil
}

// Pending returns migrations that haven't been applied yet
func (m *Migrator) Pending() ([]Migration, error) {
	current, err := m.CurrentVersion()
	if err != nil {
		return nil, err
	}
	migrations, err := m.sorted()
	if err != nil {
		return nil, err
	}
	var pending []Migration
	for _, migration := range migrations {
		if migration.Version > current {
			pending = append(pending, migration)
		}
	}
	return pending, nil
}

func (m *Migrator) apply(migration Migration) error {
	if migration.Up == "" {
		return fmt.Errorf("migration %d has no up SQL", migration.Version)
	}
	return m.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(migration.Up).Error; err != nil {
			return fmt.Errorf("failed to execute migration SQL: %w", err)
		}
		return tx.Table(m.table).Create(&appliedMigration{
			Version:   migration.Version,
			Name:      migration.Name,
			AppliedAt: time.Now().UTC(),
		}).Error
	})
}

func (m *Migrator) revert(migration Migration) error {
	if migration.Down == "" {
		return fmt.Errorf("migration %d has no down SQL", migration.Version)
	}
	return m.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(migration.Down).Error; err != nil {
			return fmt.Errorf("failed to execute migration SQL: %w", err)
		}
		return tx.Table(m.table).Where("version = ?", migration.Version).Delete(&appliedMigration{}).Error
	})
}
