package retriever

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/yeonjae-dev/campus-qa/internal/embeddings"
	"github.com/yeonjae-dev/campus-qa/internal/index"
	"github.com/yeonjae-dev/campus-qa/internal/storage"
)

// Candidate is a retrieved post with its similarity score.
type Candidate struct {
	Post  *storage.Post
	Score float32
}

// PostStore is the minimal corpus capability the retriever needs.
type PostStore interface {
	GetMany(ids []string) (map[string]*storage.Post, error)
}

// Retriever answers "which posts ground this question": it embeds the
// question once, queries the live index snapshot, and hydrates the hits.
type Retriever struct {
	emb    embeddings.Embedder
	idx    *index.Index
	store  PostStore
	k      int
	logger *slog.Logger
}

// New creates a retriever with a fixed top-k cutoff.
func New(emb embeddings.Embedder, idx *index.Index, store PostStore, k int, logger *slog.Logger) *Retriever {
	return &Retriever{emb: emb, idx: idx, store: store, k: k, logger: logger}
}

// Retrieve returns at most k candidates ordered by descending similarity.
// An empty or unpublished index yields an empty result, not an error: the
// caller treats that as "no grounding available".
func (r *Retriever) Retrieve(ctx context.Context, question string) ([]Candidate, error) {
	if r.idx.Current() == nil || r.idx.Current().Len() == 0 {
		return nil, nil
	}

	vecs, err := r.emb.EmbedBatch(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	hits := r.idx.Search(vecs[0], r.k)
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.PostID
	}
	posts, err := r.store.GetMany(ids)
	if err != nil {
		return nil, fmt.Errorf("hydrate posts: %w", err)
	}

	candidates := make([]Candidate, 0, len(hits))
	for _, h := range hits {
		post, ok := posts[h.PostID]
		if !ok {
			// Index generation outlived the post; drop the hit but keep serving.
			r.logger.Warn("indexed post missing from corpus", "post_id", h.PostID)
			continue
		}
		candidates = append(candidates, Candidate{Post: post, Score: h.Score})
	}
	return candidates, nil
}
