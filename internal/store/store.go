// Package store owns all relational state: accounts, bets, transactions, and
// withdrawal requests. Every balance mutation happens inside a transaction
// that row-locks the account first, so invariants hold under concurrency.
package store

import (
	"time"

	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"casino-settlement/internal/models"
)

type Store struct {
	db *gorm.DB
}

// Open connects to postgres and runs migrations. TranslateError is load
// bearing: unique constraint violations surface as gorm.ErrDuplicatedKey,
// which the dedup paths map to models.ErrDuplicateTransaction.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to access connection pool")
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(
		&models.Account{},
		&models.Bet{},
		&models.Transaction{},
		&models.WithdrawalRequest{},
	); err != nil {
		return nil, errors.Wrap(err, "failed to migrate schema")
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
