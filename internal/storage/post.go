package storage

import (
	"crypto/sha1"
	"encoding/hex"
	"time"
)

// Post is a crawled board post. Content is immutable once stored; only the
// crawl timestamp moves on re-crawls that find nothing changed.
type Post struct {
	ID          string    `db:"id"` // sha1 of the source URL
	Title       string    `db:"title"`
	Body        string    `db:"body"`
	Author      string    `db:"author"`
	Board       string    `db:"board"`
	URL         string    `db:"url"`
	ViewCount   int       `db:"view_count"`
	ContentHash string    `db:"content_hash"`
	PostedAt    time.Time `db:"posted_at"`
	CrawledAt   time.Time `db:"crawled_at"`
}

// EmbeddingRecord pairs a post with its dense vector at a given model version.
// Stale as soon as the model or the post's content hash changes.
type EmbeddingRecord struct {
	PostID      string
	Vector      []byte // little-endian float32 blob
	Model       string
	ContentHash string
	EmbeddedAt  time.Time
	CrawledAt   time.Time // joined from posts, used for ranking tie-breaks
}

// UpsertStats summarizes one Upsert call.
type UpsertStats struct {
	Inserted  int
	Updated   int
	Unchanged int
}

// PostID derives the stable post identifier from its source URL.
func PostID(url string) string {
	sum := sha1.Sum([]byte(url))
	return hex.EncodeToString(sum[:])
}
