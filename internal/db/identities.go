package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/presence-data/facegate/internal/face"
)

// IdentityStore persists enrolled identities and their face embeddings.
type IdentityStore struct {
	db *DB
}

// NewIdentityStore creates an identity store backed by the given database.
func NewIdentityStore(db *DB) *IdentityStore {
	return &IdentityStore{db: db}
}

// InsertIdentity enrolls a new identity and returns its ID.
func (s *IdentityStore) InsertIdentity(name string) (int64, error) {
	if name == "" {
		return 0, fmt.Errorf("identity name must not be empty")
	}

	now := time.Now().UTC()
	res, err := s.db.Exec(
		`INSERT INTO identities (name, active, created_at, updated_at) VALUES (?, 1, ?, ?)`,
		name, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert identity: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get identity id: %w", err)
	}

	return id, nil
}

// AddEmbedding stores an embedding for an identity. The vector must be
// 512-dimensional and unit-normalized; it is stored as a JSON array.
func (s *IdentityStore) AddEmbedding(identityID int64, vec face.Embedding) (int64, error) {
	if err := face.ValidateEmbedding(vec); err != nil {
		return 0, fmt.Errorf("invalid embedding for identity %d: %w", identityID, err)
	}

	encoded, err := json.Marshal(vec)
	if err != nil {
		return 0, fmt.Errorf("failed to encode embedding: %w", err)
	}

	res, err := s.db.Exec(
		`INSERT INTO face_embeddings (identity_id, vector, created_at) VALUES (?, ?, ?)`,
		identityID, string(encoded), time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert embedding: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get embedding id: %w", err)
	}

	return id, nil
}

// Deactivate soft-deletes an identity. Its embeddings stay on disk but
// are excluded from matching.
func (s *IdentityStore) Deactivate(identityID int64) error {
	res, err := s.db.Exec(
		`UPDATE identities SET active = 0, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), identityID,
	)
	if err != nil {
		return fmt.Errorf("failed to deactivate identity %d: %w", identityID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check deactivate result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("identity %d not found", identityID)
	}

	return nil
}

// GetIdentity fetches a single identity by ID.
func (s *IdentityStore) GetIdentity(identityID int64) (*face.Identity, error) {
	row := s.db.QueryRow(
		`SELECT id, name, active, created_at, updated_at FROM identities WHERE id = ?`,
		identityID,
	)

	var ident face.Identity
	var active int
	if err := row.Scan(&ident.ID, &ident.Name, &active, &ident.CreatedAt, &ident.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("identity %d not found", identityID)
		}
		return nil, fmt.Errorf("failed to query identity %d: %w", identityID, err)
	}
	ident.Active = active != 0

	return &ident, nil
}

// ActiveIdentities returns all active identities keyed by ID.
func (s *IdentityStore) ActiveIdentities() (map[int64]face.Identity, error) {
	rows, err := s.db.Query(
		`SELECT id, name, active, created_at, updated_at FROM identities WHERE active = 1`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query identities: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]face.Identity)
	for rows.Next() {
		var ident face.Identity
		var active int
		if err := rows.Scan(&ident.ID, &ident.Name, &active, &ident.CreatedAt, &ident.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan identity: %w", err)
		}
		ident.Active = active != 0
		out[ident.ID] = ident
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("identity iteration failed: %w", err)
	}

	return out, nil
}

// ActiveEmbeddings returns every embedding belonging to an active
// identity. Vectors stored as JSON are decoded back to float32 slices.
func (s *IdentityStore) ActiveEmbeddings() ([]face.GalleryEntry, error) {
	rows, err := s.db.Query(
		`SELECT e.id, e.identity_id, e.vector
		 FROM face_embeddings e
		 JOIN identities i ON i.id = e.identity_id
		 WHERE i.active = 1
		 ORDER BY e.id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer rows.Close()

	var out []face.GalleryEntry
	for rows.Next() {
		var entry face.GalleryEntry
		var raw string
		if err := rows.Scan(&entry.EmbeddingID, &entry.IdentityID, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &entry.Vector); err != nil {
			return nil, fmt.Errorf("failed to decode embedding %d: %w", entry.EmbeddingID, err)
		}
		if len(entry.Vector) != face.EmbeddingDim {
			return nil, fmt.Errorf("embedding %d has %d dimensions, want %d",
				entry.EmbeddingID, len(entry.Vector), face.EmbeddingDim)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("embedding iteration failed: %w", err)
	}

	return out, nil
}
