package database

import (
	"database/sql"
	"fmt"
	"time"

	"shipper-agent/internal/config"
	"shipper-agent/internal/logger"

	_ "github.com/lib/pq"
)

// DB is the Postgres connection used by the dispatch service.
type DB struct {
	*sql.DB
}

// Connect opens the database connection and configures the pool.
func Connect(cfg *config.DatabaseConfig, log *logger.Logger) (*DB, error) {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info("Successfully connected to database")

	return &DB{DB: db}, nil
}

// Close closes the connection.
func (db *DB) Close() error {
	return db.DB.Close()
}

// Health pings the database.
func (db *DB) Health() error {
	return db.Ping()
}
