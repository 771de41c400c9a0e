package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/yeonjae-dev/campus-qa/internal/embeddings"
	"github.com/yeonjae-dev/campus-qa/internal/index"
	"github.com/yeonjae-dev/campus-qa/internal/storage"
)

// Stats summarizes one ingest run.
type Stats struct {
	Total       int
	Inserted    int
	Updated     int
	Unchanged   int
	Embedded    int
	EmbedFailed int
	Malformed   int
	Duration    time.Duration
}

// Worker drives the ingest pipeline: feed to corpus, corpus to embeddings,
// embeddings to a freshly published index snapshot.
type Worker struct {
	store     *storage.DB
	embedder  embeddings.Embedder
	index     *index.Index
	batchSize int
	logger    *slog.Logger
}

func NewWorker(store *storage.DB, embedder embeddings.Embedder, idx *index.Index, batchSize int, logger *slog.Logger) *Worker {
	if batchSize <= 0 {
		batchSize = 16
	}
	return &Worker{
		store:     store,
		embedder:  embedder,
		index:     idx,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Run ingests the feed at path and republishes the index. A failure while
// embedding individual batches degrades the run but does not abort it; the
// previous snapshot stays live if the rebuild itself fails.
func (w *Worker) Run(ctx context.Context, path string) (*Stats, error) {
	start := time.Now()

	feed, err := ReadFeed(path)
	if err != nil {
		return nil, err
	}
	if feed.Malformed > 0 {
		w.logger.Warn("skipped malformed feed lines", "count", feed.Malformed)
	}

	now := time.Now()
	posts := make([]*storage.Post, 0, len(feed.Posts))
	for i := range feed.Posts {
		posts = append(posts, feed.Posts[i].ToPost(now))
	}

	upserted, err := w.store.Upsert(posts)
	if err != nil {
		return nil, fmt.Errorf("upsert posts: %w", err)
	}

	stats := &Stats{
		Total:     len(posts),
		Inserted:  upserted.Inserted,
		Updated:   upserted.Updated,
		Unchanged: upserted.Unchanged,
		Malformed: feed.Malformed,
	}
	w.logger.Info("corpus updated",
		"total", stats.Total,
		"inserted", stats.Inserted,
		"updated", stats.Updated,
		"unchanged", stats.Unchanged)

	embedded, failed, err := w.EmbedMissing(ctx)
	if err != nil {
		return nil, err
	}
	stats.Embedded = embedded
	stats.EmbedFailed = failed

	if err := w.Rebuild(); err != nil {
		return nil, err
	}

	stats.Duration = time.Since(start)
	return stats, nil
}

// EmbedMissing embeds every post that has no current embedding for the active
// model: new posts, posts whose content changed, and posts embedded by an
// older model. Batches that fail are logged and skipped so one bad batch
// cannot stall the rest of the corpus.
func (w *Worker) EmbedMissing(ctx context.Context) (embedded, failed int, err error) {
	pending, err := w.store.MissingEmbeddings(w.embedder.Model())
	if err != nil {
		return 0, 0, fmt.Errorf("list missing embeddings: %w", err)
	}
	if len(pending) == 0 {
		return 0, 0, nil
	}
	w.logger.Info("embedding posts", "pending", len(pending), "model", w.embedder.Model())

	for lo := 0; lo < len(pending); lo += w.batchSize {
		hi := lo + w.batchSize
		if hi > len(pending) {
			hi = len(pending)
		}
		batch := pending[lo:hi]

		if err := ctx.Err(); err != nil {
			return embedded, failed, err
		}

		texts := make([]string, len(batch))
		for i, post := range batch {
			texts[i] = post.Body
		}
		vectors, err := w.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			if ctx.Err() != nil {
				return embedded, failed, ctx.Err()
			}
			w.logger.Warn("embedding batch failed", "posts", len(batch), "error", err)
			failed += len(batch)
			continue
		}

		now := time.Now()
		for i, post := range batch {
			rec := &storage.EmbeddingRecord{
				PostID:      post.ID,
				Vector:      embeddings.Serialize(vectors[i]),
				Model:       w.embedder.Model(),
				ContentHash: post.ContentHash,
				EmbeddedAt:  now,
			}
			if err := w.store.PutEmbedding(rec); err != nil {
				return embedded, failed, fmt.Errorf("store embedding for %s: %w", post.ID, err)
			}
			embedded++
		}
	}
	return embedded, failed, nil
}

// Rebuild constructs a fresh snapshot from every stored embedding and swaps
// it in atomically. On error the previously published snapshot stays live.
func (w *Worker) Rebuild() error {
	records, err := w.store.ListEmbeddings(w.embedder.Model())
	if err != nil {
		return fmt.Errorf("list embeddings: %w", err)
	}
	snapshot, err := index.Build(records, w.embedder.Model())
	if err != nil {
		return fmt.Errorf("build index: %w", err)
	}
	w.index.Swap(snapshot)
	w.logger.Info("index published", "vectors", snapshot.Len(), "model", snapshot.Model())
	return nil
}
