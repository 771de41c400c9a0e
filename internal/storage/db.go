package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps SQLite database operations for the post corpus and its embeddings.
type DB struct {
	db *sql.DB
}

// Open opens or creates the corpus database.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable foreign keys and WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	storage := &DB{db: db}

	if err := storage.initSchema(); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return storage, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS posts (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		body TEXT NOT NULL,
		author TEXT,
		board TEXT,
		url TEXT NOT NULL,
		view_count INTEGER NOT NULL DEFAULT 0,
		content_hash TEXT NOT NULL,
		posted_at TIMESTAMP,
		crawled_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS embeddings (
		post_id TEXT PRIMARY KEY REFERENCES posts(id),
		vector BLOB NOT NULL,
		model TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		embedded_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_posts_crawled ON posts(crawled_at);
	CREATE INDEX IF NOT EXISTS idx_posts_hash ON posts(content_hash);
	CREATE INDEX IF NOT EXISTS idx_embeddings_model ON embeddings(model);
	`

	_, err := d.db.Exec(schema)
	return err
}

// Upsert inserts or updates a batch of posts. A post already stored with the
// same content hash and view count only gets its crawl timestamp refreshed and
// counts as unchanged.
func (d *DB) Upsert(posts []*Post) (UpsertStats, error) {
	var stats UpsertStats

	tx, err := d.db.Begin()
	if err != nil {
		return stats, fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	for _, post := range posts {
		var hash string
		var views int
		err := tx.QueryRow("SELECT content_hash, view_count FROM posts WHERE id = ?", post.ID).Scan(&hash, &views)
		switch {
		case err == sql.ErrNoRows:
			_, err = tx.Exec(`
			INSERT INTO posts (id, title, body, author, board, url, view_count, content_hash, posted_at, crawled_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				post.ID, post.Title, post.Body, post.Author, post.Board, post.URL,
				post.ViewCount, post.ContentHash, post.PostedAt, post.CrawledAt,
			)
			if err != nil {
				return stats, fmt.Errorf("insert post %s: %w", post.ID, err)
			}
			stats.Inserted++
		case err != nil:
			return stats, fmt.Errorf("lookup post %s: %w", post.ID, err)
		case hash == post.ContentHash && views == post.ViewCount:
			if _, err := tx.Exec("UPDATE posts SET crawled_at = ? WHERE id = ?", post.CrawledAt, post.ID); err != nil {
				return stats, fmt.Errorf("touch post %s: %w", post.ID, err)
			}
			stats.Unchanged++
		default:
			_, err = tx.Exec(`
			UPDATE posts SET title = ?, body = ?, author = ?, board = ?, url = ?,
				view_count = ?, content_hash = ?, posted_at = ?, crawled_at = ?
			WHERE id = ?`,
				post.Title, post.Body, post.Author, post.Board, post.URL,
				post.ViewCount, post.ContentHash, post.PostedAt, post.CrawledAt, post.ID,
			)
			if err != nil {
				return stats, fmt.Errorf("update post %s: %w", post.ID, err)
			}
			stats.Updated++
		}
	}

	if err := tx.Commit(); err != nil {
		return stats, fmt.Errorf("commit upsert: %w", err)
	}
	return stats, nil
}

const postColumns = "id, title, body, author, board, url, view_count, content_hash, posted_at, crawled_at"

func scanPost(row interface{ Scan(...any) error }) (*Post, error) {
	post := &Post{}
	err := row.Scan(
		&post.ID, &post.Title, &post.Body, &post.Author, &post.Board, &post.URL,
		&post.ViewCount, &post.ContentHash, &post.PostedAt, &post.CrawledAt,
	)
	if err != nil {
		return nil, err
	}
	return post, nil
}

// Get retrieves a post by ID. Returns nil without error when absent.
func (d *DB) Get(id string) (*Post, error) {
	row := d.db.QueryRow("SELECT "+postColumns+" FROM posts WHERE id = ?", id)
	post, err := scanPost(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return post, nil
}

// GetMany retrieves the given posts keyed by ID. Missing IDs are simply absent
// from the result.
func (d *DB) GetMany(ids []string) (map[string]*Post, error) {
	result := make(map[string]*Post, len(ids))
	for _, id := range ids {
		post, err := d.Get(id)
		if err != nil {
			return nil, fmt.Errorf("get post %s: %w", id, err)
		}
		if post != nil {
			result[id] = post
		}
	}
	return result, nil
}

// ListSince retrieves posts crawled at or after t, oldest first.
func (d *DB) ListSince(t time.Time) ([]*Post, error) {
	rows, err := d.db.Query("SELECT "+postColumns+" FROM posts WHERE crawled_at >= ? ORDER BY crawled_at ASC", t)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []*Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

// Count returns the total number of posts.
func (d *DB) Count() (int, error) {
	var count int
	err := d.db.QueryRow("SELECT COUNT(*) FROM posts").Scan(&count)
	return count, err
}

// PutEmbedding stores or replaces the embedding for a post.
func (d *DB) PutEmbedding(rec *EmbeddingRecord) error {
	_, err := d.db.Exec(`
	INSERT INTO embeddings (post_id, vector, model, content_hash, embedded_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(post_id) DO UPDATE SET
		vector = excluded.vector,
		model = excluded.model,
		content_hash = excluded.content_hash,
		embedded_at = excluded.embedded_at`,
		rec.PostID, rec.Vector, rec.Model, rec.ContentHash, rec.EmbeddedAt,
	)
	return err
}

// ListEmbeddings returns all embeddings for the given model, joined with each
// post's crawl timestamp.
func (d *DB) ListEmbeddings(model string) ([]*EmbeddingRecord, error) {
	rows, err := d.db.Query(`
	SELECT e.post_id, e.vector, e.model, e.content_hash, e.embedded_at, p.crawled_at
	FROM embeddings e JOIN posts p ON p.id = e.post_id
	WHERE e.model = ?`, model)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*EmbeddingRecord
	for rows.Next() {
		rec := &EmbeddingRecord{}
		if err := rows.Scan(&rec.PostID, &rec.Vector, &rec.Model, &rec.ContentHash, &rec.EmbeddedAt, &rec.CrawledAt); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// MissingEmbeddings returns posts that have no current embedding for the given
// model: never embedded, embedded with another model, or embedded before their
// content last changed.
func (d *DB) MissingEmbeddings(model string) ([]*Post, error) {
	rows, err := d.db.Query(`
	SELECT `+postColumns+` FROM posts p
	WHERE NOT EXISTS (
		SELECT 1 FROM embeddings e
		WHERE e.post_id = p.id AND e.model = ? AND e.content_hash = p.content_hash
	)
	ORDER BY p.crawled_at ASC`, model)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []*Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

// CountEmbeddings returns the number of embeddings stored for the given model.
func (d *DB) CountEmbeddings(model string) (int, error) {
	var count int
	err := d.db.QueryRow("SELECT COUNT(*) FROM embeddings WHERE model = ?", model).Scan(&count)
	return count, err
}
