// Copyright 2025 Certen Protocol
//
// Database client for the sidechain node's read-model mirror: finalized
// blocks and anchored rounds, written here for external queries (block
// explorers, witness dashboards) without contending with the ledger's own
// KV store. Provides connection pooling, health checks, and migration
// support.
package database

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/certen/sidechain-node/pkg/config"
	"github.com/certen/sidechain-node/pkg/ledger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Client represents a database client with connection pooling.
type Client struct {
	db     *sql.DB
	config *config.Config
	logger *log.Logger
}

// ClientOption is a functional option for configuring the client.
type ClientOption func(*Client)

// WithLogger sets a custom logger for the client.
func WithLogger(logger *log.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a new database client with connection pooling.
func NewClient(cfg *config.Config, opts ...ClientOption) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	client := &Client{
		config: cfg,
		logger: log.New(log.Writer(), "[Database] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(client)
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)

	client.db = db

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	client.logger.Printf("connected to database %s@%s:%d/%s", cfg.DBUser, cfg.DBHost, cfg.DBPort, cfg.DBName)
	return client, nil
}

// DB returns the underlying *sql.DB for direct access.
func (c *Client) DB() *sql.DB { return c.db }

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Ping verifies the database connection is alive.
func (c *Client) Ping(ctx context.Context) error { return c.db.PingContext(ctx) }

// Health returns database health information.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	status := &HealthStatus{CheckedAt: time.Now()}

	if err := c.db.PingContext(ctx); err != nil {
		status.Healthy = false
		status.Error = err.Error()
		return status, nil
	}

	stats := c.db.Stats()
	status.Healthy = true
	status.OpenConnections = stats.OpenConnections
	status.InUse = stats.InUse
	status.Idle = stats.Idle

	return status, nil
}

// HealthStatus represents the health status of the database.
type HealthStatus struct {
	Healthy         bool      `json:"healthy"`
	Error           string    `json:"error,omitempty"`
	OpenConnections int       `json:"open_connections"`
	InUse           int       `json:"in_use"`
	Idle            int       `json:"idle"`
	CheckedAt       time.Time `json:"checked_at"`
}

// ============================================================================
// MIRROR WRITES — a finalized block/round is mirrored here for read
// queries, after the ledger/round coordinator have already committed it.
// ============================================================================

// MirrorBlock upserts a finalized block and its transactions into the read
// model.
func (c *Client) MirrorBlock(ctx context.Context, block *ledger.Block) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mirror tx: %w", err)
	}
	defer tx.Rollback()

	txJSON, err := json.Marshal(block.Transactions)
	if err != nil {
		return fmt.Errorf("marshal transactions: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO blocks (block_number, ref_anchor_block_number, previous_hash, timestamp, hash, merkle_root, transactions)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (block_number) DO NOTHING`,
		block.BlockNumber, block.RefAnchorBlockNumber, block.PreviousHash, block.Timestamp, block.Hash, block.MerkleRoot, txJSON)
	if err != nil {
		return fmt.Errorf("insert block: %w", err)
	}

	for _, t := range block.Transactions {
		var contract, action *string
		contract, action = t.Contract, t.Action
		_, err = tx.ExecContext(ctx, `
			INSERT INTO block_transactions (block_number, transaction_id, sender, contract, action, hash, logs)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (block_number, transaction_id) DO NOTHING`,
			block.BlockNumber, t.TransactionID, t.Sender, contract, action, t.Hash, t.Logs)
		if err != nil {
			return fmt.Errorf("insert transaction %s: %w", t.TransactionID, err)
		}
	}

	return tx.Commit()
}

// MirrorRound upserts an anchored round's range and hash. Per-witness
// signatures are recorded separately via MirrorRoundSignature, since the
// consensus package's WitnessSignature type would otherwise pull
// pkg/consensus into pkg/database.
func (c *Client) MirrorRound(ctx context.Context, round uint64, roundHash string, from, to uint64) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO rounds (round, round_hash, from_block, to_block)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (round) DO NOTHING`, round, roundHash, from, to)
	return err
}

// MirrorRoundSignature records one witness's signature over an anchored
// round.
func (c *Client) MirrorRoundSignature(ctx context.Context, round uint64, witnessAccount, signatureHex string) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO round_signatures (round, witness_account, signature_hex)
		VALUES ($1, $2, $3)
		ON CONFLICT (round, witness_account) DO NOTHING`, round, witnessAccount, signatureHex)
	return err
}

// ============================================================================
// MIGRATION SUPPORT
// ============================================================================

// MigrateUp runs all pending database migrations.
func (c *Client) MigrateUp(ctx context.Context) error {
	migrations, err := c.getMigrations()
	if err != nil {
		return fmt.Errorf("failed to get migrations: %w", err)
	}

	applied, err := c.getAppliedMigrations(ctx)
	if err != nil {
		if !strings.Contains(err.Error(), "does not exist") {
			return fmt.Errorf("failed to get applied migrations: %w", err)
		}
		applied = make(map[string]bool)
	}

	for _, migration := range migrations {
		if applied[migration.Version] {
			continue
		}
		c.logger.Printf("applying migration %s", migration.Version)
		if err := c.applyMigration(ctx, migration); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}
	}

	return nil
}

// Migration represents a database migration.
type Migration struct {
	Version  string
	Filename string
	SQL      string
}

func (c *Client) getMigrations() ([]Migration, error) {
	var migrations []Migration

	err := fs.WalkDir(migrationsFS, "migrations", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".sql") {
			return nil
		}
		content, err := migrationsFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		version := strings.TrimSuffix(d.Name(), ".sql")
		migrations = append(migrations, Migration{Version: version, Filename: d.Name(), SQL: string(content)})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

func (c *Client) getAppliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (c *Client) applyMigration(ctx context.Context, migration Migration) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}
	return tx.Commit()
}
