package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// PostgresStore Postgres 后端：整库状态作为一行不透明数据保存。
// 与文件后端语义一致（单写者、整单元覆盖写），只是换了存放位置。
type PostgresStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresStore 连接 Postgres 并确保状态表存在
func NewPostgresStore(dsn string, logger *zap.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	s := &PostgresStore{db: db, logger: logger}
	if err := s.ensureTable(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS medbase_state (
			db_name    TEXT PRIMARY KEY,
			state      BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("failed to create medbase_state table: %w", err)
	}
	return nil
}

// Save 覆盖写整库状态
func (s *PostgresStore) Save(ctx context.Context, name string, state []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO medbase_state (db_name, state, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (db_name) DO UPDATE SET
		  state = EXCLUDED.state,
		  updated_at = EXCLUDED.updated_at`,
		name, state)
	if err != nil {
		return fmt.Errorf("failed to save state for `%s`: %w", name, err)
	}
	s.logger.Info("state written", zap.String("db_name", name), zap.Int("bytes", len(state)))
	return nil
}

// Load 读整库状态
func (s *PostgresStore) Load(ctx context.Context, name string) ([]byte, error) {
	var state []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM medbase_state WHERE db_name = $1`, name).Scan(&state)
	if err != nil {
		return nil, fmt.Errorf("failed to load state for `%s`: %w", name, err)
	}
	return state, nil
}

// Close 关闭数据库连接
func (s *PostgresStore) Close() error { return s.db.Close() }
