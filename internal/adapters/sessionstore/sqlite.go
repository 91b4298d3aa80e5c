package sessionstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"qxGateway/internal/domain"
	"qxGateway/internal/ports"
)

// SQLiteStore keeps the session as the single row of the session_record table.
type SQLiteStore struct {
	db     *sql.DB
	logger ports.Logger
}

// SQLiteConfig holds configuration for the SQLite store.
type SQLiteConfig struct {
	DBPath string
	Logger ports.Logger
}

// NewSQLiteStore opens (creating if needed) the database and its schema.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite session store")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./session.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite session store initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite session store initialization failed")
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite session store initialization failed")
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db, logger: cfg.Logger}
	if err := store.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite session store initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "SQLite session store ready", map[string]interface{}{"path": dbPath})
	return store, nil
}

// The CHECK pins the table to one row: there is only ever one session.
func (s *SQLiteStore) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS session_record (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		cookies TEXT NOT NULL,
		token TEXT NULL,
		user_agent TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		s.logger.Info(context.Background(), "Closing SQLite session store")
		return s.db.Close()
	}
	return nil
}

// Save upserts the single session row.
func (s *SQLiteStore) Save(ctx context.Context, sess *domain.Session) error {
	if sess == nil {
		return fmt.Errorf("%w: nil session", ports.ErrInvalidRequest)
	}
	query := `INSERT INTO session_record (id, cookies, token, user_agent, updated_at)
	          VALUES (1, ?, ?, ?, ?)
	          ON CONFLICT(id) DO UPDATE SET
	            cookies = excluded.cookies,
	            token = excluded.token,
	            user_agent = excluded.user_agent,
	            updated_at = excluded.updated_at`
	var token sql.NullString
	if sess.Token != nil {
		token = sql.NullString{String: *sess.Token, Valid: true}
	}
	if _, err := s.db.ExecContext(ctx, query, sess.Cookies, token, sess.UserAgent, time.Now().UTC()); err != nil {
		return s.handleError(ctx, err, "save session")
	}
	s.logger.Debug(ctx, "Session saved", map[string]interface{}{"backend": "sqlite", "hasToken": sess.HasToken()})
	return nil
}

// Load returns nil, nil when no row exists.
func (s *SQLiteStore) Load(ctx context.Context) (*domain.Session, error) {
	query := `SELECT cookies, token, user_agent FROM session_record WHERE id = 1`
	var sess domain.Session
	var token sql.NullString
	err := s.db.QueryRowContext(ctx, query).Scan(&sess.Cookies, &token, &sess.UserAgent)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, s.handleError(ctx, err, "load session")
	}
	if token.Valid {
		sess.Token = &token.String
	}
	if sess.IsEmpty() {
		return nil, nil
	}
	return &sess, nil
}

// Invalidate deletes the row.
func (s *SQLiteStore) Invalidate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_record WHERE id = 1`); err != nil {
		return s.handleError(ctx, err, "invalidate session")
	}
	s.logger.Info(ctx, "Stored session invalidated", map[string]interface{}{"backend": "sqlite"})
	return nil
}

func (s *SQLiteStore) handleError(ctx context.Context, err error, operation string) error {
	var finalErr error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		finalErr = fmt.Errorf("%w: %s: %w", ports.ErrTimeout, operation, err)
	case errors.Is(err, context.Canceled):
		finalErr = fmt.Errorf("%w: %s: %w", ports.ErrContextCanceled, operation, err)
	default:
		finalErr = fmt.Errorf("%w: %s: %w", ports.ErrSessionStore, operation, err)
	}
	s.logger.Error(ctx, err, "SQLite session store error", map[string]interface{}{"operation": operation})
	return finalErr
}

var _ ports.SessionStore = (*SQLiteStore)(nil)
