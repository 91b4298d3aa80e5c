// Package sessionstore persists the single upstream Session record.
package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"qxGateway/internal/domain"
	"qxGateway/internal/ports"
)

// FileStore keeps the session as an indented JSON file.
type FileStore struct {
	path   string
	logger ports.Logger
}

// FileConfig holds configuration for the file-backed store.
type FileConfig struct {
	Path   string // e.g. <resource root>/session.json
	Logger ports.Logger
}

// NewFileStore creates a FileStore. The file itself is created on first Save.
func NewFileStore(cfg FileConfig) (*FileStore, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for file session store")
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: session file path is empty", ports.ErrConfigurationError)
	}
	return &FileStore{path: cfg.Path, logger: cfg.Logger}, nil
}

// Save writes the record to a temp file in the same directory and renames it
// over the previous one.
func (s *FileStore) Save(ctx context.Context, sess *domain.Session) error {
	data, err := encode(sess)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create %s: %w", ports.ErrSessionStore, dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".session-*.json")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %w", ports.ErrSessionStore, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write session: %w", ports.ErrSessionStore, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close session file: %w", ports.ErrSessionStore, err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("%w: chmod session file: %w", ports.ErrSessionStore, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("%w: replace session file: %w", ports.ErrSessionStore, err)
	}
	s.logger.Debug(ctx, "Session saved", map[string]interface{}{"path": s.path, "hasToken": sess.HasToken()})
	return nil
}

// Load returns nil, nil when the file is missing or unreadable as a session.
func (s *FileStore) Load(ctx context.Context) (*domain.Session, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: read %s: %w", ports.ErrSessionStore, s.path, err)
	}
	return decode(ctx, s.logger, data), nil
}

// Invalidate deletes the file. A missing file is not an error.
func (s *FileStore) Invalidate(ctx context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: remove %s: %w", ports.ErrSessionStore, s.path, err)
	}
	s.logger.Info(ctx, "Stored session invalidated", map[string]interface{}{"path": s.path})
	return nil
}

func encode(sess *domain.Session) ([]byte, error) {
	if sess == nil {
		return nil, fmt.Errorf("%w: nil session", ports.ErrInvalidRequest)
	}
	data, err := json.MarshalIndent(sess, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("%w: encode session: %w", ports.ErrSessionStore, err)
	}
	return data, nil
}

// decode treats an unparseable or empty record as absent.
func decode(ctx context.Context, logger ports.Logger, data []byte) *domain.Session {
	var sess domain.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		logger.Warn(ctx, "Ignoring unreadable session record", map[string]interface{}{"error": err.Error()})
		return nil
	}
	if sess.IsEmpty() {
		return nil
	}
	return &sess
}

var _ ports.SessionStore = (*FileStore)(nil)
