package storage

import (
	"fmt"

	"github.com/absmach/gradsync/pkg/errors"
	"github.com/absmach/gradsync/pkg/storage/badger"
	"github.com/absmach/gradsync/pkg/storage/sqldb"
)

type Config struct {
	Type string `env:"TYPE" envDefault:"memory"`

	PostgresHost    string `env:"POSTGRES_HOST"    envDefault:"localhost"`
	PostgresPort    string `env:"POSTGRES_PORT"    envDefault:"5432"`
	PostgresUser    string `env:"POSTGRES_USER"    envDefault:"gradsync"`
	PostgresPass    string `env:"POSTGRES_PASS"    envDefault:"gradsync"`
	PostgresDB      string `env:"POSTGRES_DB"      envDefault:"gradsync"`
	PostgresSSLMode string `env:"POSTGRES_SSLMODE" envDefault:"disable"`

	SQLitePath string `env:"SQLITE_PATH" envDefault:"./gradsync.db"`

	BadgerPath string `env:"BADGER_PATH" envDefault:"./data/badger"`
}

func NewRepositories(cfg Config) (*Repositories, error) {
	switch cfg.Type {
	case "postgres":
		db, err := sqldb.NewPostgres(sqldb.PostgresConfig{
			Host:    cfg.PostgresHost,
			Port:    cfg.PostgresPort,
			User:    cfg.PostgresUser,
			Pass:    cfg.PostgresPass,
			Name:    cfg.PostgresDB,
			SSLMode: cfg.PostgresSSLMode,
		})
		if err != nil {
			return nil, err
		}

		return &Repositories{Trials: sqldb.NewTrialRepository(db), Histories: sqldb.NewHistoryRepository(db), Closer: db}, nil
	case "sqlite":
		db, err := sqldb.NewSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}

		return &Repositories{Trials: sqldb.NewTrialRepository(db), Histories: sqldb.NewHistoryRepository(db), Closer: db}, nil
	case "badger":
		db, err := badger.NewDatabase(cfg.BadgerPath)
		if err != nil {
			return nil, err
		}

		return &Repositories{Trials: badger.NewTrialRepository(db), Histories: badger.NewHistoryRepository(db), Closer: db}, nil
	case "", "memory":
		return &Repositories{Trials: NewMemoryTrialRepository(), Histories: NewMemoryHistoryRepository()}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported storage type %q", errors.ErrConfiguration, cfg.Type)
	}
}
