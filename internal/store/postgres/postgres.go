// Package postgres implements the store port on a pgx connection pool.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/deveric/decksync/internal/config"
	"github.com/deveric/decksync/internal/store"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Store wraps the database connection pool.
type Store struct {
	pool   *pgxpool.Pool
	config *config.DatabaseConfig
}

var _ store.Store = (*Store)(nil)

// New creates a connection pool and verifies connectivity.
func New(ctx context.Context, cfg *config.DatabaseConfig) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("connected to database",
		"host", cfg.Host,
		"database", cfg.Database)

	return &Store{pool: pool, config: cfg}, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
		slog.Info("database connection closed")
	}
	return nil
}

// Ping checks if the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// RunMigrations executes all pending migrations from the embedded set.
func (s *Store) RunMigrations() error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	goose.SetBaseFS(embedMigrations)

	stdDB, err := sql.Open("pgx", s.config.ConnectionString())
	if err != nil {
		return fmt.Errorf("failed to open stdlib connection: %w", err)
	}
	defer stdDB.Close()

	if err := goose.Up(stdDB, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	slog.Info("migrations completed successfully")
	return nil
}

// FindOrCreateWorkspace resolves a workspace name to its identity,
// creating the workspace on first use.
func (s *Store) FindOrCreateWorkspace(ctx context.Context, name string) (store.Workspace, error) {
	ws := store.Workspace{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO workspaces (id, name)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, name, created_at
	`, uuid.New(), name).Scan(&ws.ID, &ws.Name, &ws.CreatedAt)
	if err != nil {
		return store.Workspace{}, fmt.Errorf("failed to resolve workspace %q: %w", name, err)
	}
	return ws, nil
}

// WithTx runs fn inside one transaction. With serialize set, an advisory
// transaction lock keyed on the workspace id excludes concurrent imports
// into the same workspace until commit or rollback.
func (s *Store) WithTx(ctx context.Context, workspaceID uuid.UUID, serialize bool, fn func(tx store.Tx) error) error {
	pgtx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer pgtx.Rollback(ctx)

	if serialize {
		_, err := pgtx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, workspaceID.String())
		if err != nil {
			return fmt.Errorf("failed to acquire workspace lock: %w", err)
		}
	}

	if err := fn(&Tx{tx: pgtx}); err != nil {
		return err
	}

	if err := pgtx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetStatus returns workspace row counts for the status command.
func (s *Store) GetStatus(ctx context.Context, workspaceID uuid.UUID) (*Status, error) {
	status := &Status{Connected: true}

	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM decks WHERE workspace_id = $1),
			(SELECT COUNT(*) FROM notes WHERE workspace_id = $1),
			(SELECT COUNT(*) FROM cards c JOIN notes n ON n.id = c.note_id WHERE n.workspace_id = $1),
			(SELECT COUNT(*) FROM media_records m JOIN notes n ON n.id = m.note_id WHERE n.workspace_id = $1)
	`, workspaceID).Scan(&status.Decks, &status.Notes, &status.Cards, &status.MediaRecords)
	if err != nil {
		return nil, fmt.Errorf("failed to count workspace rows: %w", err)
	}

	return status, nil
}

// Status summarizes one workspace for the status command.
type Status struct {
	Connected    bool
	Decks        int
	Notes        int
	Cards        int
	MediaRecords int
}
