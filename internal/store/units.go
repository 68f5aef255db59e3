package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tomelabs/tome/internal/chunker"
)

// InsertUnits stores the chunker output for a book in one transaction.
func (s *Store) InsertUnits(ctx context.Context, units []chunker.ContentUnit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO content_units (book_id, sequence_index, chapter_ref, chapter_title, text, token_count, position_percent, partial)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, u := range units {
		partial := 0
		if u.Partial {
			partial = 1
		}
		if _, err := stmt.ExecContext(ctx, u.BookID, u.SequenceIndex, u.ChapterRef, u.ChapterTitle, u.Text, u.TokenCount, u.PositionPercent, partial); err != nil {
			return fmt.Errorf("failed to insert unit %d: %w", u.SequenceIndex, err)
		}
	}
	return tx.Commit()
}

// GetUnit returns one content unit by its ordering key.
func (s *Store) GetUnit(ctx context.Context, bookID string, sequenceIndex int) (*chunker.ContentUnit, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT book_id, sequence_index, chapter_ref, COALESCE(chapter_title, ''), text, token_count, position_percent, partial
		FROM content_units WHERE book_id = ? AND sequence_index = ?`, bookID, sequenceIndex)

	var u chunker.ContentUnit
	var partial int
	if err := row.Scan(&u.BookID, &u.SequenceIndex, &u.ChapterRef, &u.ChapterTitle, &u.Text, &u.TokenCount, &u.PositionPercent, &partial); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: unit %s/%d", ErrNotFound, bookID, sequenceIndex)
		}
		return nil, err
	}
	u.Partial = partial != 0
	return &u, nil
}

// UnitCount returns the number of content units stored for a book.
func (s *Store) UnitCount(ctx context.Context, bookID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM content_units WHERE book_id = ?`, bookID).Scan(&n)
	return n, err
}
