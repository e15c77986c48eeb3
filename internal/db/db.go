package db

import (
	"database/sql"
	"fmt"

	"github.com/MosinFAM/timeline/internal/logger"

	_ "github.com/lib/pq"
	"github.com/pressly/goose"
	"go.uber.org/zap"
)

var log = logger.NewNamed("db")

func Connect(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	log.Info("connected to PostgreSQL")
	return db, nil
}

// Migrate applies goose SQL migrations from dir.
func Migrate(db *sql.DB, dir string) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.Up(db, dir); err != nil {
		return fmt.Errorf("migrate %s: %w", dir, err)
	}
	log.Info("migrations applied", zap.String("dir", dir))
	return nil
}
