package storage

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testPost(url string, crawledAt time.Time) *Post {
	return &Post{
		ID:          PostID(url),
		Title:       "컴퓨터아키텍쳐 수업 난이도",
		Body:        "과제가 많고 시험이 어렵습니다.",
		Board:       "computer-science",
		URL:         url,
		ViewCount:   10,
		ContentHash: "hash-v1",
		PostedAt:    crawledAt.Add(-24 * time.Hour),
		CrawledAt:   crawledAt,
	}
}

func TestUpsertIdempotent(t *testing.T) {
	db := openTestDB(t)
	now := time.Now().UTC()
	post := testPost("https://board.example.com/p/1", now)

	stats, err := db.Upsert([]*Post{post})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if stats.Inserted != 1 || stats.Updated != 0 || stats.Unchanged != 0 {
		t.Errorf("first upsert stats = %+v, want 1 inserted", stats)
	}

	// Re-crawl with identical content: only the crawl timestamp should move.
	later := *post
	later.CrawledAt = now.Add(time.Hour)
	stats, err = db.Upsert([]*Post{&later})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if stats.Inserted != 0 || stats.Updated != 0 || stats.Unchanged != 1 {
		t.Errorf("second upsert stats = %+v, want 1 unchanged", stats)
	}

	got, err := db.Get(post.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("post not found after upsert")
	}
	if !got.CrawledAt.After(now) {
		t.Errorf("crawl timestamp not refreshed: %v", got.CrawledAt)
	}
}

func TestUpsertDetectsChanges(t *testing.T) {
	db := openTestDB(t)
	now := time.Now().UTC()
	post := testPost("https://board.example.com/p/2", now)

	if _, err := db.Upsert([]*Post{post}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Post)
	}{
		{"content hash changed", func(p *Post) { p.ContentHash = "hash-v2"; p.Body = p.Body + " 댓글 추가" }},
		{"view count changed", func(p *Post) { p.ViewCount++ }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changed := *post
			tt.mutate(&changed)
			stats, err := db.Upsert([]*Post{&changed})
			if err != nil {
				t.Fatalf("upsert: %v", err)
			}
			if stats.Updated != 1 {
				t.Errorf("stats = %+v, want 1 updated", stats)
			}
			*post = changed
		})
	}
}

func TestGetMissing(t *testing.T) {
	db := openTestDB(t)
	got, err := db.Get("no-such-id")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing post, got %+v", got)
	}
}

func TestListSince(t *testing.T) {
	db := openTestDB(t)
	base := time.Now().UTC().Truncate(time.Second)

	var posts []*Post
	for i, url := range []string{
		"https://board.example.com/p/10",
		"https://board.example.com/p/11",
		"https://board.example.com/p/12",
	} {
		p := testPost(url, base.Add(time.Duration(i)*time.Hour))
		posts = append(posts, p)
	}
	if _, err := db.Upsert(posts); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := db.ListSince(base.Add(30 * time.Minute))
	if err != nil {
		t.Fatalf("list since: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d posts, want 2", len(got))
	}
	if !got[0].CrawledAt.Before(got[1].CrawledAt) {
		t.Errorf("posts not ordered oldest first")
	}
}

func TestMissingEmbeddings(t *testing.T) {
	db := openTestDB(t)
	now := time.Now().UTC()
	const model = "sfr-embedding-mistral"

	a := testPost("https://board.example.com/p/20", now)
	b := testPost("https://board.example.com/p/21", now)
	if _, err := db.Upsert([]*Post{a, b}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	missing, err := db.MissingEmbeddings(model)
	if err != nil {
		t.Fatalf("missing embeddings: %v", err)
	}
	if len(missing) != 2 {
		t.Fatalf("got %d missing, want 2", len(missing))
	}

	err = db.PutEmbedding(&EmbeddingRecord{
		PostID:      a.ID,
		Vector:      []byte{0, 0, 128, 63}, // 1.0
		Model:       model,
		ContentHash: a.ContentHash,
		EmbeddedAt:  now,
	})
	if err != nil {
		t.Fatalf("put embedding: %v", err)
	}

	missing, err = db.MissingEmbeddings(model)
	if err != nil {
		t.Fatalf("missing embeddings: %v", err)
	}
	if len(missing) != 1 || missing[0].ID != b.ID {
		t.Fatalf("expected only %s missing, got %d records", b.ID, len(missing))
	}

	// Content change makes the stored embedding stale again.
	changed := *a
	changed.ContentHash = "hash-v2"
	if _, err := db.Upsert([]*Post{&changed}); err != nil {
		t.Fatalf("upsert changed: %v", err)
	}
	missing, err = db.MissingEmbeddings(model)
	if err != nil {
		t.Fatalf("missing embeddings: %v", err)
	}
	if len(missing) != 2 {
		t.Errorf("got %d missing after content change, want 2", len(missing))
	}

	// A different model version sees no current embeddings at all.
	missing, err = db.MissingEmbeddings("other-model")
	if err != nil {
		t.Fatalf("missing embeddings: %v", err)
	}
	if len(missing) != 2 {
		t.Errorf("got %d missing for other model, want 2", len(missing))
	}
}

func TestListEmbeddingsJoinsCrawlTime(t *testing.T) {
	db := openTestDB(t)
	now := time.Now().UTC().Truncate(time.Second)
	const model = "sfr-embedding-mistral"

	post := testPost("https://board.example.com/p/30", now)
	if _, err := db.Upsert([]*Post{post}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	err := db.PutEmbedding(&EmbeddingRecord{
		PostID:      post.ID,
		Vector:      []byte{0, 0, 128, 63},
		Model:       model,
		ContentHash: post.ContentHash,
		EmbeddedAt:  now,
	})
	if err != nil {
		t.Fatalf("put embedding: %v", err)
	}

	recs, err := db.ListEmbeddings(model)
	if err != nil {
		t.Fatalf("list embeddings: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	if !recs[0].CrawledAt.Equal(now) {
		t.Errorf("crawled_at = %v, want %v", recs[0].CrawledAt, now)
	}
}
