package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Response is a user's answer to a delivered learning prompt, with its
// evaluated quality score in [0, 1].
type Response struct {
	ID        string
	EntryID   string
	UserID    string
	BookID    string
	Tier      string
	Quality   float64
	Text      string
	CreatedAt time.Time
}

// InsertResponse stores an evaluated response. Assigns an ID if unset.
func (s *Store) InsertResponse(ctx context.Context, r Response) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO responses (id, entry_id, user_id, book_id, tier, quality, response_text, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.EntryID, r.UserID, r.BookID, r.Tier, r.Quality, r.Text, millis(time.Now()))
	if err != nil {
		return "", fmt.Errorf("failed to insert response: %w", err)
	}
	return r.ID, nil
}

// ResponsesFor returns a user's responses for a book, newest first.
func (s *Store) ResponsesFor(ctx context.Context, userID, bookID string) ([]*Response, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entry_id, user_id, book_id, tier, quality, response_text, created_at
		FROM responses WHERE user_id = ? AND book_id = ?
		ORDER BY created_at DESC`, userID, bookID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Response
	for rows.Next() {
		var r Response
		var createdAt int64
		if err := rows.Scan(&r.ID, &r.EntryID, &r.UserID, &r.BookID, &r.Tier, &r.Quality, &r.Text, &createdAt); err != nil {
			return nil, err
		}
		r.CreatedAt = fromMillis(createdAt)
		out = append(out, &r)
	}
	return out, rows.Err()
}
