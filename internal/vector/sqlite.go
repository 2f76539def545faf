package vector

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"time"
)

const schema = `
CREATE TABLE IF NOT EXISTS embeddings (
	id TEXT PRIMARY KEY,
	room_id TEXT NOT NULL,
	content TEXT NOT NULL,
	embedding BLOB NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_embeddings_room ON embeddings(room_id);
`

// SQLiteStore implements Store on a SQLite database. Embeddings are stored as
// little-endian float32 BLOBs and cosine similarity is computed in Go.
type SQLiteStore struct {
	db        *sql.DB
	dimension int
}

// NewSQLiteStore creates a store with the given expected embedding dimension.
func NewSQLiteStore(db *sql.DB, dimension int) *SQLiteStore {
	return &SQLiteStore{db: db, dimension: dimension}
}

// InitSchema creates the embeddings table if needed.
func (s *SQLiteStore) InitSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init embeddings schema: %w", err)
	}
	return nil
}

// Insert stores a record.
func (s *SQLiteStore) Insert(ctx context.Context, rec Record) error {
	if s.dimension > 0 && len(rec.Embedding) != s.dimension {
		return fmt.Errorf("embedding dimension %d, want %d", len(rec.Embedding), s.dimension)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO embeddings (id, room_id, content, embedding, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, rec.ID, rec.RoomID, rec.Content, encodeFloat32s(rec.Embedding), rec.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert embedding: %w", err)
	}
	return nil
}

// SearchSimilar returns the most similar records in a room at or above the
// threshold, best first.
func (s *SQLiteStore) SearchSimilar(ctx context.Context, roomID string, embedding []float32, threshold float32, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, embedding, created_at
		FROM embeddings
		WHERE room_id = ?
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("query embeddings: %w", err)
	}
	defer rows.Close()

	var results []Record
	for rows.Next() {
		var id, content string
		var blob []byte
		var createdMs int64
		if err := rows.Scan(&id, &content, &blob, &createdMs); err != nil {
			continue
		}
		stored := decodeFloat32s(blob)
		if len(stored) != len(embedding) {
			continue // dimension mismatch, skip
		}
		sim := cosineSimilarity(embedding, stored)
		if sim < threshold {
			continue
		}
		results = append(results, Record{
			ID:        id,
			RoomID:    roomID,
			Content:   content,
			Embedding: stored,
			CreatedAt: time.UnixMilli(createdMs),
			Score:     sim,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan embeddings: %w", err)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// encodeFloat32s converts a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s converts little-endian bytes back to a float32 slice.
func decodeFloat32s(b []byte) []float32 {
	if len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

// cosineSimilarity computes the cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		ai, bi := float64(a[i]), float64(b[i])
		dot += ai * bi
		normA += ai * ai
		normB += bi * bi
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return float32(dot / denom)
}
