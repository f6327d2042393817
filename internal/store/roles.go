package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// RoleRecord is the persisted view of a registered agent descriptor.
type RoleRecord struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Description    string    `json:"description,omitempty"`
	Keywords       []string  `json:"keywords"`
	CostEstimateMs float64   `json:"cost_estimate_ms"`
	Position       int       `json:"position"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

const roleColumns = `id, title, description, keywords, cost_estimate_ms, position, created_at, updated_at`

func scanRole(sc scanner) (*RoleRecord, error) {
	r := &RoleRecord{}
	var description, keywords sql.NullString
	if err := sc.Scan(&r.ID, &r.Title, &description, &keywords, &r.CostEstimateMs, &r.Position, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Description = description.String
	if keywords.String != "" {
		if err := json.Unmarshal([]byte(keywords.String), &r.Keywords); err != nil {
			return nil, fmt.Errorf("decode keywords: %w", err)
		}
	}
	return r, nil
}

func (s *Store) SaveRole(r *RoleRecord) error {
	keywords, err := json.Marshal(r.Keywords)
	if err != nil {
		return fmt.Errorf("encode keywords: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO roles (id, title, description, keywords, cost_estimate_ms, position, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			keywords = excluded.keywords,
			cost_estimate_ms = excluded.cost_estimate_ms,
			position = excluded.position,
			updated_at = CURRENT_TIMESTAMP`,
		r.ID, r.Title, r.Description, string(keywords), r.CostEstimateMs, r.Position)
	if err != nil {
		return fmt.Errorf("save role: %w", err)
	}
	return nil
}

func (s *Store) GetRole(id string) (*RoleRecord, error) {
	r, err := scanRole(s.db.QueryRow(`SELECT `+roleColumns+` FROM roles WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get role: %w", err)
	}
	return r, nil
}

func (s *Store) ListRoles() ([]RoleRecord, error) {
	rows, err := s.db.Query(`SELECT ` + roleColumns + ` FROM roles ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	defer rows.Close()

	var roles []RoleRecord
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		roles = append(roles, *r)
	}
	return roles, rows.Err()
}

// DeleteRolesNotIn removes rows for roles that are no longer registered.
func (s *Store) DeleteRolesNotIn(ids []string) error {
	if len(ids) == 0 {
		_, err := s.db.Exec(`DELETE FROM roles`)
		return err
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	_, err := s.db.Exec(`DELETE FROM roles WHERE id NOT IN (`+placeholders+`)`, args...)
	return err
}
