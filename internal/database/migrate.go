// Package database はデータベース接続（PostgreSQL/MongoDB）とマイグレーション管理を提供する。
package database

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// migrationsFS はusers・identities・sessions・reportsのスキーマと、
// ライブフィード用のreports_changed通知トリガーを含む。
//
//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrDirtySchema は前回のマイグレーションが途中で失敗したままの場合に返される。
var ErrDirtySchema = errors.New("schema is dirty")

// MigrationStatus はRunMigrations実行後のスキーマの状態。
type MigrationStatus struct {
	Version uint // 適用済みの最新バージョン。未適用なら0
	Applied bool // 今回の実行で1つ以上適用したか
}

func newMigrationSource() (source.Driver, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}
	return src, nil
}

// NewMigrator はPostgreSQL用のmigrateインスタンスを生成する。
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	src, err := newMigrationSource()
	if err != nil {
		return nil, err
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator for %s: %w", RedactURI(databaseURL), err)
	}
	return m, nil
}

// LatestMigrationVersion は埋め込まれたマイグレーションの最新バージョンを返す。
func LatestMigrationVersion() (uint, error) {
	src, err := newMigrationSource()
	if err != nil {
		return 0, err
	}
	defer src.Close()

	v, err := src.First()
	if err != nil {
		return 0, fmt.Errorf("no migrations embedded: %w", err)
	}
	for {
		next, err := src.Next(v)
		if errors.Is(err, fs.ErrNotExist) {
			return v, nil
		}
		if err != nil {
			return 0, fmt.Errorf("failed to read migration after %d: %w", v, err)
		}
		v = next
	}
}

// RunMigrations は未適用のマイグレーションを全て適用する。最新なら何もしない。
// dirtyなスキーマには手を付けずErrDirtySchemaを返す。
func RunMigrations(databaseURL string) (MigrationStatus, error) {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return MigrationStatus{}, err
	}
	defer m.Close()

	if _, dirty, err := m.Version(); err == nil && dirty {
		return MigrationStatus{}, ErrDirtySchema
	}

	status := MigrationStatus{Applied: true}
	if err := m.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return MigrationStatus{}, fmt.Errorf("failed to run migrations: %w", err)
		}
		status.Applied = false
	}

	version, _, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return MigrationStatus{}, fmt.Errorf("failed to read schema version: %w", err)
	}
	status.Version = version
	return status, nil
}
