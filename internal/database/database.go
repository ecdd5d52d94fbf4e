package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
)

// Database represents the database connection pool
type Database struct {
	Pool *pgxpool.Pool
}

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// New creates a new database connection pool
func New(config Config) (*Database, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %v", err)
	}

	// Configure connection pool
	poolConfig.MaxConns = 20
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %v", err)
	}

	// Test the connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %v", err)
	}

	log.Println("database connection established successfully")

	return &Database{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *Database) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		log.Println("database connection pool closed")
	}
}

// Exec executes a query without returning any rows.
// Implements DatabaseInterface.
func (db *Database) Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error) {
	return db.Pool.Exec(ctx, sql, arguments...)
}

// Query executes a query that returns rows.
// Implements DatabaseInterface.
func (db *Database) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return db.Pool.Query(ctx, sql, args...)
}

// QueryRow executes a query that returns at most one row.
// Implements DatabaseInterface.
func (db *Database) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return db.Pool.QueryRow(ctx, sql, args...)
}

// Ping verifies the database connection.
// Implements DatabaseInterface.
func (db *Database) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// InitializeSchema creates the database schema if it doesn't exist
func (db *Database) InitializeSchema() error {
	ctx := context.Background()

	// Check if schema exists
	var schemaExists bool
	err := db.Pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = 'public' AND table_name = 'vim_wim_actions'
		)
	`).Scan(&schemaExists)

	if err != nil {
		return fmt.Errorf("failed to check schema existence: %v", err)
	}

	if schemaExists {
		log.Println("database schema already exists")
		return nil
	}

	log.Println("creating database schema...")

	// Execute schema creation
	_, err = db.Pool.Exec(ctx, createSchemaSQL)
	if err != nil {
		return fmt.Errorf("failed to create schema: %v", err)
	}

	log.Println("database schema created successfully")
	return nil
}

// GetDB returns a standard sql.DB for compatibility with other libraries
func (db *Database) GetDB() (*sql.DB, error) {
	if db.Pool == nil {
		return nil, fmt.Errorf("database pool is not initialized")
	}

	// Convert pgxpool.Pool to *sql.DB
	return stdlib.OpenDBFromPool(db.Pool), nil
}

// HealthCheck performs a health check on the database
func (db *Database) HealthCheck() error {
	if db.Pool == nil {
		return fmt.Errorf("database pool is not initialized")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return db.Pool.Ping(ctx)
}


// createSchemaSQL contains the complete database schema for the task
// engine: the flat action table it drains, and one table per item kind
// it tracks VIM-side state for.
const createSchemaSQL = `
CREATE EXTENSION IF NOT EXISTS "uuid-ossp";

-- =============================================
-- 1. INSTANCE ACTIONS (parent aggregate)
-- =============================================

CREATE TABLE instance_actions (
    uuid UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
    number_tasks INTEGER NOT NULL DEFAULT 0,
    number_done INTEGER NOT NULL DEFAULT 0,
    number_failed INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    modified_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- =============================================
-- 2. VIM/WIM ACTIONS (the flat task table workers drain)
-- =============================================

CREATE TABLE vim_wim_actions (
    instance_action_id UUID NOT NULL REFERENCES instance_actions(uuid) ON DELETE CASCADE,
    task_index INTEGER NOT NULL,
    datacenter_vim_id VARCHAR(255) NOT NULL,
    item VARCHAR(50) NOT NULL
        CHECK (item IN ('vm', 'net', 'sfi', 'sf', 'classification', 'sfp')),
    item_id UUID NOT NULL,
    action VARCHAR(20) NOT NULL
        CHECK (action IN ('CREATE', 'DELETE', 'FIND')),
    status VARCHAR(20) NOT NULL DEFAULT 'SCHEDULED'
        CHECK (status IN ('SCHEDULED', 'BUILD', 'DONE', 'FAILED', 'SUPERSEDED')),
    vim_id VARCHAR(255),
    extra TEXT NOT NULL DEFAULT '{}',
    error_msg TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    modified_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (instance_action_id, task_index)
);

CREATE INDEX vim_wim_actions_vim_item_idx ON vim_wim_actions (datacenter_vim_id, item_id, item, created_at);
CREATE INDEX vim_wim_actions_status_idx ON vim_wim_actions (status);

-- =============================================
-- 3. PER-ITEM VIM STATE TABLES
-- =============================================

CREATE TABLE instance_vms (
    item_id UUID PRIMARY KEY,
    vim_vm_id VARCHAR(255),
    status VARCHAR(20) NOT NULL DEFAULT 'BUILD',
    error_msg TEXT,
    vim_info TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    modified_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE instance_nets (
    item_id UUID PRIMARY KEY,
    vim_net_id VARCHAR(255),
    sdn_net_id VARCHAR(255),
    status VARCHAR(20) NOT NULL DEFAULT 'BUILD',
    error_msg TEXT,
    vim_info TEXT,
    created BOOLEAN NOT NULL DEFAULT true,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    modified_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE instance_interfaces (
    item_id UUID PRIMARY KEY,
    net_id UUID NOT NULL,
    vim_interface_id VARCHAR(255),
    mac_address VARCHAR(32),
    ip_address VARCHAR(64),
    vlan INTEGER,
    pci VARCHAR(32),
    sdn_port_id VARCHAR(255),
    modified_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX instance_interfaces_net_id_idx ON instance_interfaces (net_id);

CREATE TABLE instance_sfis (
    item_id UUID PRIMARY KEY,
    vim_sfi_id VARCHAR(255),
    status VARCHAR(20) NOT NULL DEFAULT 'BUILD',
    error_msg TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE instance_sfs (
    item_id UUID PRIMARY KEY,
    vim_sf_id VARCHAR(255),
    status VARCHAR(20) NOT NULL DEFAULT 'BUILD',
    error_msg TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE instance_classifications (
    item_id UUID PRIMARY KEY,
    vim_classification_id VARCHAR(255),
    status VARCHAR(20) NOT NULL DEFAULT 'BUILD',
    error_msg TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE instance_sfps (
    item_id UUID PRIMARY KEY,
    vim_sfp_id VARCHAR(255),
    status VARCHAR(20) NOT NULL DEFAULT 'BUILD',
    error_msg TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
