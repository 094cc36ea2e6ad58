// Package sqldb implements the trial and history repositories on top of
// sqlx. The same schema serves SQLite and PostgreSQL.
package sqldb

import (
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	migrate "github.com/rubenv/sql-migrate"
)

var (
	ErrDBConnection = errors.New("database connection error")
	ErrDBQuery      = errors.New("database query error")
	ErrCreate       = errors.New("create error")
	ErrUpdate       = errors.New("update error")
	ErrMigration    = errors.New("database migration error")
)

type Database struct {
	*sqlx.DB

	dialect string
}

type PostgresConfig struct {
	Host    string
	Port    string
	User    string
	Pass    string
	Name    string
	SSLMode string
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s", c.Host, c.Port, c.User, c.Pass, c.Name, c.SSLMode)
}

func NewPostgres(cfg PostgresConfig) (*Database, error) {
	return NewPostgresDSN(cfg.DSN())
}

func NewPostgresDSN(dsn string) (*Database, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDBConnection, err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	return open(db, "postgres")
}

func NewSQLite(path string) (*Database, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDBConnection, err)
	}

	// SQLite serialises writers anyway.
	db.SetMaxOpenConns(1)

	return open(db, "sqlite3")
}

func open(db *sqlx.DB, dialect string) (*Database, error) {
	database := &Database{DB: db, dialect: dialect}
	if err := database.Migrate(); err != nil {
		db.Close()

		return nil, err
	}

	return database, nil
}

func (db *Database) Migrate() error {
	migrations := &migrate.MemoryMigrationSource{
		Migrations: []*migrate.Migration{
			{
				Id: "1_create_tables",
				Up: []string{
					`CREATE TABLE IF NOT EXISTS trials (
						id VARCHAR(36) PRIMARY KEY,
						name VARCHAR(255) NOT NULL,
						status VARCHAR(16) NOT NULL,
						metric DOUBLE PRECISION NOT NULL DEFAULT 0,
						data TEXT NOT NULL
					)`,
					`CREATE INDEX IF NOT EXISTS idx_trials_status ON trials(status)`,
					`CREATE TABLE IF NOT EXISTS histories (
						name VARCHAR(255) PRIMARY KEY,
						model VARCHAR(255) NOT NULL,
						trial VARCHAR(255) NOT NULL,
						data TEXT NOT NULL
					)`,
				},
				Down: []string{
					`DROP TABLE IF EXISTS histories`,
					`DROP INDEX IF EXISTS idx_trials_status`,
					`DROP TABLE IF EXISTS trials`,
				},
			},
		},
	}

	if _, err := migrate.Exec(db.DB.DB, db.dialect, migrations, migrate.Up); err != nil {
		return fmt.Errorf("%w: %w", ErrMigration, err)
	}

	return nil
}
