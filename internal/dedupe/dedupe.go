// Package dedupe suppresses near-identical autonomous outputs inside a short
// time window, such as two cooperating agents producing the same reply.
package dedupe

import (
	"context"
	"log/slog"
	"time"

	"github.com/chorusbot/chorus/internal/clock"
	"github.com/chorusbot/chorus/internal/vector"
)

// Config holds the dedup thresholds.
type Config struct {
	// SimilarityThreshold is the minimum cosine similarity that counts as a
	// duplicate.
	SimilarityThreshold float32
	// Window is how long a stored record can suppress new content.
	Window time.Duration
	// SearchLimit caps how many candidates the store is asked for.
	SearchLimit int
}

// DefaultConfig returns the dedup defaults.
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold: 0.8,
		Window:              10 * time.Second,
		SearchLimit:         5,
	}
}

// Deduplicator checks fresh content against recently stored embeddings.
type Deduplicator struct {
	cfg   Config
	store vector.Store
	clk   clock.Clock
}

// New creates a deduplicator over the given store.
func New(cfg Config, store vector.Store, clk clock.Clock) *Deduplicator {
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = DefaultConfig().SimilarityThreshold
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = DefaultConfig().SearchLimit
	}
	return &Deduplicator{cfg: cfg, store: store, clk: clk}
}

// IsDuplicate reports whether embedding is near-identical to anything stored
// for the room inside the window. threshold overrides the configured
// similarity threshold when positive, so rooms can be tuned individually.
// A store failure fails open: availability is preferred over strict
// duplicate suppression.
func (d *Deduplicator) IsDuplicate(ctx context.Context, roomID string, embedding []float32, threshold float32) bool {
	if threshold <= 0 {
		threshold = d.cfg.SimilarityThreshold
	}
	recs, err := d.store.SearchSimilar(ctx, roomID, embedding, threshold, d.cfg.SearchLimit)
	if err != nil {
		slog.Warn("similarity search failed, dedup fails open", "room", roomID, "error", err)
		return false
	}

	now := d.clk.Now()
	for _, rec := range recs {
		if now.Sub(rec.CreatedAt) < d.cfg.Window {
			return true
		}
	}
	return false
}

// Remember stores content and its embedding so later output can be checked
// against it.
func (d *Deduplicator) Remember(ctx context.Context, id, roomID, content string, embedding []float32) error {
	return d.store.Insert(ctx, vector.Record{
		ID:        id,
		RoomID:    roomID,
		Content:   content,
		Embedding: embedding,
		CreatedAt: d.clk.Now(),
	})
}
