package ingest

import (
	"bufio"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/yeonjae-dev/campus-qa/internal/storage"
)

// RawComment is one comment as the crawler emits it.
type RawComment struct {
	Type         string `json:"Type"`
	Author       string `json:"Author"`
	Comment      string `json:"Comment"`
	Timestamp    string `json:"Timestamp"`
	VoteCount    string `json:"Vote Count"`
	ParentAuthor string `json:"Parent Author"`
}

// RawPost is one line of the crawler's JSONL feed.
type RawPost struct {
	Title         string       `json:"title"`
	Detail        string       `json:"detail"`
	Likes         string       `json:"likes"`
	CommentsCount string       `json:"comments_count"`
	Scraps        string       `json:"scraps"`
	URL           string       `json:"url"`
	Comments      []RawComment `json:"comments"`
	Timestamp     string       `json:"timestamp"`
	Board         string       `json:"board"`
	Author        string       `json:"author"`
}

// Feed is the parsed crawler output.
type Feed struct {
	Posts     []RawPost
	Malformed int // lines that failed to parse and were skipped
}

// ReadFeed parses the crawler's JSONL file. Malformed lines are counted and
// skipped, matching how the crawler itself tolerates partial writes.
func ReadFeed(path string) (*Feed, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open feed: %w", err)
	}
	defer file.Close()

	feed := &Feed{}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var post RawPost
		if err := json.Unmarshal([]byte(line), &post); err != nil {
			feed.Malformed++
			continue
		}
		if post.URL == "" {
			feed.Malformed++
			continue
		}
		feed.Posts = append(feed.Posts, post)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read feed: %w", err)
	}
	return feed, nil
}

// CombinedText flattens a post and all its comments into the single text that
// gets embedded, so questions can match discussion happening in the comments.
func (p *RawPost) CombinedText() string {
	var b strings.Builder
	fmt.Fprintf(&b, "제목: %s\n내용: %s\n", p.Title, p.Detail)
	if p.Timestamp != "" {
		fmt.Fprintf(&b, "작성시간: %s\n", p.Timestamp)
	}
	fmt.Fprintf(&b, "좋아요: %s, 댓글수: %s\n", orZero(p.Likes), orZero(p.CommentsCount))

	if len(p.Comments) > 0 {
		b.WriteString("\n[댓글들]\n")
		for i, c := range p.Comments {
			fmt.Fprintf(&b, "\n댓글%d", i+1)
			if c.Type == "child" {
				fmt.Fprintf(&b, "(답글 to %s)", c.ParentAuthor)
			}
			fmt.Fprintf(&b, ": %s", c.Comment)
			if c.Author != "" {
				fmt.Fprintf(&b, " - %s", c.Author)
			}
			if c.Timestamp != "" {
				fmt.Fprintf(&b, " (%s)", c.Timestamp)
			}
			if c.VoteCount != "" && c.VoteCount != "0" {
				fmt.Fprintf(&b, " [추천:%s]", c.VoteCount)
			}
		}
	}
	return b.String()
}

// ToPost converts a raw feed record into a corpus post. The identifier is
// derived from the source URL; the content hash covers the combined text so
// new comments count as changes.
func (p *RawPost) ToPost(crawledAt time.Time) *storage.Post {
	text := p.CombinedText()
	return &storage.Post{
		ID:          storage.PostID(p.URL),
		Title:       p.Title,
		Body:        text,
		Author:      p.Author,
		Board:       p.Board,
		URL:         p.URL,
		ViewCount:   parseCount(p.Likes),
		ContentHash: fmt.Sprintf("%x", md5.Sum([]byte(text))),
		PostedAt:    parsePostedAt(p.Timestamp, crawledAt),
		CrawledAt:   crawledAt,
	}
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

func parseCount(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

// parsePostedAt tries the board's timestamp formats, falling back to the
// crawl time when none match.
func parsePostedAt(s string, fallback time.Time) time.Time {
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02 15:04", "06/01/02 15:04"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t
		}
	}
	return fallback
}
