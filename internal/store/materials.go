package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetMaterial returns cached tier content for a book, or ErrNotFound.
func (s *Store) GetMaterial(ctx context.Context, bookID, tier string) (string, error) {
	var content string
	err := s.db.QueryRowContext(ctx, `
		SELECT content FROM learning_materials WHERE book_id = ? AND tier = ?`,
		bookID, tier).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: material %s/%s", ErrNotFound, bookID, tier)
	}
	return content, err
}

// PutMaterial caches generated tier content. Concurrent generators may race
// here; first write wins and later writes are dropped.
func (s *Store) PutMaterial(ctx context.Context, bookID, tier, content string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO learning_materials (book_id, tier, content, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (book_id, tier) DO NOTHING`,
		bookID, tier, content, millis(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to cache material: %w", err)
	}
	return nil
}
