package sql

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/iac-sandbox/stackd/internal/domain"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// isUniqueViolation checks if an error is a UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	// SQLite
	if strings.Contains(errStr, "UNIQUE constraint failed") {
		return true
	}
	// PostgreSQL
	if strings.Contains(errStr, "duplicate key value violates unique constraint") {
		return true
	}
	return false
}

// wrapUniqueError converts UNIQUE violations to domain.ErrAlreadyExists.
func wrapUniqueError(err error) error {
	if isUniqueViolation(err) {
		return domain.ErrAlreadyExists
	}
	return err
}

// Store implements the storage.Storage interface using SQL.
type Store struct {
	db     *sqlx.DB
	driver string
}

// New creates a new SQL store.
func New(driver, dsn string) (*Store, error) {
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	// Run migrations
	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect(driver); err != nil {
		return nil, fmt.Errorf("setting goose dialect: %w", err)
	}

	if err := goose.Up(db.DB, "migrations"); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db, driver: driver}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ============================================
// API Keys
// ============================================

func (s *Store) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, created_at, last_used_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.CreatedAt, key.LastUsedAt)
	return wrapUniqueError(err)
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	var key domain.APIKey
	err := s.db.GetContext(ctx, &key,
		`SELECT id, name, key_hash, key_prefix, created_at, last_used_at FROM api_keys WHERE key_hash = $1`, keyHash)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return &key, err
}

func (s *Store) ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error) {
	var keys []*domain.APIKey
	err := s.db.SelectContext(ctx, &keys,
		`SELECT id, name, key_hash, key_prefix, created_at, last_used_at FROM api_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *Store) DeleteAPIKey(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = CURRENT_TIMESTAMP WHERE id = $1`, id)
	return err
}

func (s *Store) CountAPIKeys(ctx context.Context) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM api_keys`)
	return count, err
}

// ============================================
// Deployment history
// ============================================

func (s *Store) CreateDeployment(ctx context.Context, record *domain.DeploymentRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deployments (id, stack_name, operation, status, created, updated, deleted, unchanged, error, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		record.ID, record.StackName, record.Operation, record.Status,
		record.Created, record.Updated, record.Deleted, record.Unchanged,
		record.Error, record.StartedAt, record.FinishedAt)
	return wrapUniqueError(err)
}

func (s *Store) UpdateDeployment(ctx context.Context, record *domain.DeploymentRecord) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE deployments
		 SET status = $1, created = $2, updated = $3, deleted = $4, unchanged = $5, error = $6, finished_at = $7
		 WHERE id = $8`,
		record.Status, record.Created, record.Updated, record.Deleted, record.Unchanged,
		record.Error, record.FinishedAt, record.ID)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) GetDeployment(ctx context.Context, id string) (*domain.DeploymentRecord, error) {
	var record domain.DeploymentRecord
	err := s.db.GetContext(ctx, &record,
		`SELECT id, stack_name, operation, status, created, updated, deleted, unchanged, error, started_at, finished_at
		 FROM deployments WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return &record, err
}

func (s *Store) ListDeploymentsForStack(ctx context.Context, stackName string, limit, offset int) ([]*domain.DeploymentRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []*domain.DeploymentRecord
	err := s.db.SelectContext(ctx, &records,
		`SELECT id, stack_name, operation, status, created, updated, deleted, unchanged, error, started_at, finished_at
		 FROM deployments WHERE stack_name = $1 ORDER BY started_at DESC LIMIT $2 OFFSET $3`,
		stackName, limit, offset)
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Store) ListDeployments(ctx context.Context, limit, offset int) ([]*domain.DeploymentRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []*domain.DeploymentRecord
	err := s.db.SelectContext(ctx, &records,
		`SELECT id, stack_name, operation, status, created, updated, deleted, unchanged, error, started_at, finished_at
		 FROM deployments ORDER BY started_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Store) DeleteDeploymentsForStack(ctx context.Context, stackName string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM deployments WHERE stack_name = $1`, stackName)
	return err
}
