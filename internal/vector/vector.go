// Package vector provides similarity search over stored embeddings, scoped
// per room. It backs the deduplicator.
package vector

import (
	"context"
	"time"
)

// Record is one stored embedding. Records are written once and queried,
// never mutated.
type Record struct {
	ID        string
	RoomID    string
	Content   string
	Embedding []float32
	CreatedAt time.Time
	// Score is populated on search results only.
	Score float32
}

// Store persists embeddings and answers scoped similarity queries.
type Store interface {
	// Insert stores a record.
	Insert(ctx context.Context, rec Record) error
	// SearchSimilar returns up to limit records in the given room with
	// cosine similarity >= threshold, most similar first.
	SearchSimilar(ctx context.Context, roomID string, embedding []float32, threshold float32, limit int) ([]Record, error)
}
