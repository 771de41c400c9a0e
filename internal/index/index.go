// Package index provides top-k cosine-similarity search over post embeddings.
//
// All reads go through an immutable Snapshot. Rebuilds construct a complete
// new snapshot off to the side and publish it with a single atomic pointer
// store, so concurrent queries see either the old or the new generation in
// full, never a mix, and readers take no locks.
package index

import (
	"fmt"
	"sort"
	"time"

	"github.com/yeonjae-dev/campus-qa/internal/embeddings"
	"github.com/yeonjae-dev/campus-qa/internal/storage"
)

// Hit is a single query result.
type Hit struct {
	PostID string
	Score  float32
}

type entry struct {
	postID    string
	vector    []float32 // unit length
	crawledAt time.Time
}

// Snapshot is an immutable generation of the index.
type Snapshot struct {
	entries []entry
	dim     int
	model   string
	builtAt time.Time
}

// Build constructs a snapshot from embedding records. Records whose vectors
// fail to deserialize or disagree on dimension are rejected, not skipped: a
// snapshot is published whole or not at all.
func Build(records []*storage.EmbeddingRecord, model string) (*Snapshot, error) {
	snap := &Snapshot{model: model, builtAt: time.Now()}
	for _, rec := range records {
		vec := embeddings.Deserialize(rec.Vector)
		if vec == nil {
			return nil, fmt.Errorf("post %s: corrupt embedding blob", rec.PostID)
		}
		if snap.dim == 0 {
			snap.dim = len(vec)
		} else if len(vec) != snap.dim {
			return nil, fmt.Errorf("post %s: dimension %d, index has %d", rec.PostID, len(vec), snap.dim)
		}
		snap.entries = append(snap.entries, entry{
			postID:    rec.PostID,
			vector:    vec,
			crawledAt: rec.CrawledAt,
		})
	}
	return snap, nil
}

// Len returns the number of indexed posts.
func (s *Snapshot) Len() int { return len(s.entries) }

// Model returns the embedding model version the snapshot was built from.
func (s *Snapshot) Model() string { return s.model }

// BuiltAt returns the snapshot build timestamp.
func (s *Snapshot) BuiltAt() time.Time { return s.builtAt }

// Search returns up to k hits ordered by descending cosine similarity.
// Vectors are unit length, so similarity is a plain dot product. Ties are
// broken by the more recently crawled post.
func (s *Snapshot) Search(query []float32, k int) []Hit {
	if s == nil || len(s.entries) == 0 || k <= 0 {
		return nil
	}

	type scored struct {
		entry *entry
		score float32
	}
	scores := make([]scored, 0, len(s.entries))
	for i := range s.entries {
		e := &s.entries[i]
		if len(e.vector) != len(query) {
			continue
		}
		var dot float32
		for j, v := range e.vector {
			dot += v * query[j]
		}
		scores = append(scores, scored{entry: e, score: dot})
	}

	sort.Slice(scores, func(i, j int) bool {
		if scores[i].score != scores[j].score {
			return scores[i].score > scores[j].score
		}
		return scores[i].entry.crawledAt.After(scores[j].entry.crawledAt)
	})

	if len(scores) > k {
		scores = scores[:k]
	}
	hits := make([]Hit, len(scores))
	for i, sc := range scores {
		hits[i] = Hit{PostID: sc.entry.postID, Score: sc.score}
	}
	return hits
}
