// Copyright 2024-2026 Aiku AI

package store

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/aiku/chat-federation/pkg/federation"
)

type sqliteFileStore struct {
	db      *sqlx.DB
	baseDir string
}

// NewFiles creates the file store. Content bytes land on disk under baseDir;
// only metadata goes in the database.
func NewFiles(db *sqlx.DB, baseDir string) federation.FileStore {
	return &sqliteFileStore{db: db, baseDir: baseDir}
}

func (s *sqliteFileStore) UploadFile(ctx context.Context, roomID, userID string, info federation.FileInfo, content io.Reader) (*federation.StoredFile, error) {
	newID := uuid.NewString()
	dir := filepath.Join(s.baseDir, roomID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	path := filepath.Join(dir, newID)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload file: %w", err)
	}
	size, err := io.Copy(f, content)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to write upload: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
	INSERT INTO files (id, name, size, mime_type, url)
	VALUES ($1, $2, $3, $4, $5);
	`, newID, info.Name, size, info.MimeType, path)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to record upload: %w", err)
	}

	return &federation.StoredFile{
		ID:       newID,
		Name:     info.Name,
		Size:     size,
		MimeType: info.MimeType,
		URL:      path,
	}, nil
}
