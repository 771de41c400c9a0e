package answer

import "time"

// Source is a post reference attached to a generated answer.
type Source struct {
	PostID string `json:"post_id"`
	URL    string `json:"url"`
}

// Record is the outcome of answering one question. Created at most once per
// question event.
type Record struct {
	QuestionID string        `json:"question_id"`
	Question   string        `json:"question"`
	Answer     string        `json:"answer"`
	Sources    []Source      `json:"sources,omitempty"`
	Latency    time.Duration `json:"latency"`
	CreatedAt  time.Time     `json:"created_at"`
}

// SourceURLs returns the answer's source URLs in attachment order.
func (r *Record) SourceURLs() []string {
	urls := make([]string, len(r.Sources))
	for i, s := range r.Sources {
		urls[i] = s.URL
	}
	return urls
}
