// Package records is the pipeline's narrow window onto file metadata
// rows. The wider application owns the schema; handlers may only read a
// record by ID and patch path, thumbnail_path, metadata, and tags.
package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrFileNotFound is returned when no record exists for the ID. The
// handlers treat this as benign: the file was deleted while its job was
// in flight.
var ErrFileNotFound = errors.New("records: file not found")

// File is the metadata record describing a stored file.
type File struct {
	ID            string         `json:"id"`
	UserID        string         `json:"user_id"`
	Name          string         `json:"name"`
	Path          string         `json:"path"`
	MimeType      string         `json:"mime_type"`
	Size          int64          `json:"size"`
	ThumbnailPath *string        `json:"thumbnail_path,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Tags          []string       `json:"tags,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Store wraps pgxpool for file record access.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// GetFile fetches a record by ID.
func (s *Store) GetFile(ctx context.Context, id string) (File, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, name, path, mime_type, size, thumbnail_path, metadata, tags, created_at, updated_at
		FROM files WHERE id = $1
	`, id)

	var f File
	var thumb pgtype.Text
	var metaJSON []byte
	var tags []string

	err := row.Scan(&f.ID, &f.UserID, &f.Name, &f.Path, &f.MimeType, &f.Size, &thumb, &metaJSON, &tags, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return File{}, ErrFileNotFound
	}
	if err != nil {
		return File{}, fmt.Errorf("scan file: %w", err)
	}

	if thumb.Valid {
		f.ThumbnailPath = &thumb.String
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &f.Metadata); err != nil {
			return File{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	f.Tags = tags
	return f, nil
}

// SetThumbnailPath patches the thumbnail key. Re-running a thumbnail
// job simply overwrites the same value.
func (s *Store) SetThumbnailPath(ctx context.Context, id, thumbnailPath string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE files SET thumbnail_path = $2, updated_at = NOW() WHERE id = $1
	`, id, thumbnailPath)
	if err != nil {
		return fmt.Errorf("set thumbnail_path: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFileNotFound
	}
	return nil
}

// SetMetadata merges the given fields into the record's metadata blob.
func (s *Store) SetMetadata(ctx context.Context, id string, metadata map[string]any) error {
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE files SET metadata = COALESCE(metadata, '{}'::jsonb) || $2::jsonb, updated_at = NOW()
		WHERE id = $1
	`, id, metaJSON)
	if err != nil {
		return fmt.Errorf("set metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFileNotFound
	}
	return nil
}

// SetTags replaces the record's tags.
func (s *Store) SetTags(ctx context.Context, id string, tags []string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE files SET tags = $2, updated_at = NOW() WHERE id = $1
	`, id, tags)
	if err != nil {
		return fmt.Errorf("set tags: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFileNotFound
	}
	return nil
}
