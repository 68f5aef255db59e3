package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// BookStatus is the user-visible processing status of a book.
type BookStatus string

const (
	BookPending        BookStatus = "pending"
	BookProcessing     BookStatus = "processing"
	BookCompleted      BookStatus = "completed"
	BookPartialFailure BookStatus = "partial_failure"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Book is a stored book record.
type Book struct {
	ID            string
	Title         string
	Author        string
	Status        BookStatus
	TotalUnits    int
	FailedChapter string // chapter ref of the first terminally failed unit
	CreatedAt     time.Time
}

// CreateBook inserts a new book record.
func (s *Store) CreateBook(ctx context.Context, b Book) error {
	now := millis(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO books (id, title, author, status, total_units, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Title, b.Author, string(BookPending), b.TotalUnits, now, now)
	if err != nil {
		return fmt.Errorf("failed to create book: %w", err)
	}
	return nil
}

// GetBook returns a book by ID.
func (s *Store) GetBook(ctx context.Context, bookID string) (*Book, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, COALESCE(author, ''), status, total_units, COALESCE(failed_chapter, ''), created_at
		FROM books WHERE id = ?`, bookID)

	var b Book
	var status string
	var createdAt int64
	if err := row.Scan(&b.ID, &b.Title, &b.Author, &status, &b.TotalUnits, &b.FailedChapter, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: book %s", ErrNotFound, bookID)
		}
		return nil, err
	}
	b.Status = BookStatus(status)
	b.CreatedAt = fromMillis(createdAt)
	return &b, nil
}

// SetBookStatus updates a book's processing status.
func (s *Store) SetBookStatus(ctx context.Context, bookID string, status BookStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE books SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), millis(time.Now()), bookID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: book %s", ErrNotFound, bookID)
	}
	return nil
}

// MarkBookPartialFailure records the failed chapter and flips status.
// The first failure wins; later failures keep the original chapter ref.
func (s *Store) MarkBookPartialFailure(ctx context.Context, bookID, chapterRef string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE books
		SET status = ?, failed_chapter = COALESCE(NULLIF(failed_chapter, ''), ?), updated_at = ?
		WHERE id = ?`,
		string(BookPartialFailure), chapterRef, millis(time.Now()), bookID)
	return err
}

// SetBookTotalUnits records the chunker output size.
func (s *Store) SetBookTotalUnits(ctx context.Context, bookID string, total int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE books SET total_units = ?, updated_at = ? WHERE id = ?`,
		total, millis(time.Now()), bookID)
	return err
}
