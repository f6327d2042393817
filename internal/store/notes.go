package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Note is a knowledge entry. When Encrypted is set, Content holds vault
// ciphertext and only Title is searchable.
type Note struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Encrypted bool      `json:"encrypted"`
	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

const noteColumns = `id, title, content, encrypted, source, created_at`

func scanNote(sc scanner) (*Note, error) {
	n := &Note{}
	var source sql.NullString
	if err := sc.Scan(&n.ID, &n.Title, &n.Content, &n.Encrypted, &source, &n.CreatedAt); err != nil {
		return nil, err
	}
	n.Source = source.String
	return n, nil
}

func (s *Store) queryNotes(op, query string, args ...any) ([]Note, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var notes []Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		notes = append(notes, *n)
	}
	return notes, rows.Err()
}

func (s *Store) SaveNote(n *Note) error {
	_, err := s.db.Exec(`
		INSERT INTO notes (id, title, content, encrypted, source)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			encrypted = excluded.encrypted,
			source = excluded.source`,
		n.ID, n.Title, n.Content, n.Encrypted, n.Source)
	if err != nil {
		return fmt.Errorf("save note: %w", err)
	}
	return nil
}

func (s *Store) GetNote(id string) (*Note, error) {
	n, err := scanNote(s.db.QueryRow(`SELECT `+noteColumns+` FROM notes WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get note: %w", err)
	}
	return n, nil
}

// ListNotes returns the newest notes first.
func (s *Store) ListNotes(limit int) ([]Note, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryNotes("list notes", `SELECT `+noteColumns+` FROM notes ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
}

// SearchNotes matches query against titles, and against content for
// plaintext notes.
func (s *Store) SearchNotes(query string, limit int) ([]Note, error) {
	if limit <= 0 {
		limit = 20
	}
	like := "%" + query + "%"
	return s.queryNotes("search notes", `
		SELECT `+noteColumns+` FROM notes
		WHERE title LIKE ? OR (encrypted = FALSE AND content LIKE ?)
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, like, like, limit)
}

func (s *Store) DeleteNote(id string) error {
	_, err := s.db.Exec(`DELETE FROM notes WHERE id = ?`, id)
	return err
}
