package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/yeonjae-dev/campus-qa/internal/embeddings"
	"github.com/yeonjae-dev/campus-qa/internal/index"
	"github.com/yeonjae-dev/campus-qa/internal/storage"
)

// fakeEmbedder derives a deterministic unit vector from each text and can be
// told to fail a set number of calls.
type fakeEmbedder struct {
	calls    int
	failNext int
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.failNext > 0 {
		f.failNext--
		return nil, errors.New("embedding backend unavailable")
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := []float32{float32(len(text)%7) + 1, float32(len(text)%5) + 1, 1}
		out[i] = embeddings.Normalize(vec)
	}
	return out, nil
}

func (f *fakeEmbedder) Health(ctx context.Context) error { return nil }
func (f *fakeEmbedder) Model() string                    { return "test-embed-v1" }

func newTestWorker(t *testing.T, batchSize int) (*Worker, *storage.DB, *fakeEmbedder, *index.Index) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	emb := &fakeEmbedder{}
	idx := &index.Index{}
	logger := slog.New(slog.DiscardHandler)
	return NewWorker(db, emb, idx, batchSize, logger), db, emb, idx
}

func feedLines(n int) []string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf(`{"title":"공지 %d","detail":"본문 %d","likes":"%d","url":"https://board.example/posts/%d"}`, i, i, i, i)
	}
	return lines
}

func TestRunIngestsAndPublishes(t *testing.T) {
	worker, db, _, idx := newTestWorker(t, 2)
	path := writeFeed(t, feedLines(5)...)

	stats, err := worker.Run(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Inserted != 5 || stats.Embedded != 5 || stats.EmbedFailed != 0 {
		t.Fatalf("stats = %+v", stats)
	}

	n, err := db.CountEmbeddings("test-embed-v1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Errorf("stored embeddings = %d, want 5", n)
	}
	snap := idx.Current()
	if snap == nil || snap.Len() != 5 {
		t.Fatalf("published snapshot = %v", snap)
	}
}

func TestRunSecondPassIsIncremental(t *testing.T) {
	worker, _, emb, _ := newTestWorker(t, 10)
	path := writeFeed(t, feedLines(4)...)

	if _, err := worker.Run(context.Background(), path); err != nil {
		t.Fatal(err)
	}
	callsAfterFirst := emb.calls

	stats, err := worker.Run(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Unchanged != 4 || stats.Inserted != 0 || stats.Updated != 0 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.Embedded != 0 {
		t.Errorf("embedded %d posts on an unchanged corpus", stats.Embedded)
	}
	if emb.calls != callsAfterFirst {
		t.Errorf("embedder called %d extra times for unchanged posts", emb.calls-callsAfterFirst)
	}
}

func TestRunReembedsChangedPost(t *testing.T) {
	worker, _, _, _ := newTestWorker(t, 10)
	lines := feedLines(3)
	path := writeFeed(t, lines...)
	if _, err := worker.Run(context.Background(), path); err != nil {
		t.Fatal(err)
	}

	lines[1] = `{"title":"공지 1","detail":"본문이 수정되었습니다","likes":"1","url":"https://board.example/posts/1"}`
	path = writeFeed(t, lines...)
	stats, err := worker.Run(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Updated != 1 || stats.Unchanged != 2 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.Embedded != 1 {
		t.Errorf("embedded = %d, want only the changed post", stats.Embedded)
	}
}

func TestFailedBatchIsSkippedNotFatal(t *testing.T) {
	worker, db, emb, idx := newTestWorker(t, 2)
	emb.failNext = 1
	path := writeFeed(t, feedLines(5)...)

	stats, err := worker.Run(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if stats.EmbedFailed != 2 {
		t.Errorf("EmbedFailed = %d, want 2", stats.EmbedFailed)
	}
	if stats.Embedded != 3 {
		t.Errorf("Embedded = %d, want 3", stats.Embedded)
	}
	if idx.Current().Len() != 3 {
		t.Errorf("snapshot has %d vectors, want 3", idx.Current().Len())
	}

	// The skipped posts are still pending and picked up by the next pass.
	pending, err := db.MissingEmbeddings("test-embed-v1")
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}
	if _, _, err := worker.EmbedMissing(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := worker.Rebuild(); err != nil {
		t.Fatal(err)
	}
	if idx.Current().Len() != 5 {
		t.Errorf("snapshot has %d vectors after retry, want 5", idx.Current().Len())
	}
}

func TestEmbedMissingHonorsContext(t *testing.T) {
	worker, _, _, _ := newTestWorker(t, 1)
	path := writeFeed(t, feedLines(3)...)
	feed, err := ReadFeed(path)
	if err != nil {
		t.Fatal(err)
	}
	posts := make([]*storage.Post, len(feed.Posts))
	for i := range feed.Posts {
		posts[i] = feed.Posts[i].ToPost(time.Now())
	}
	if _, err := worker.store.Upsert(posts); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := worker.EmbedMissing(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
