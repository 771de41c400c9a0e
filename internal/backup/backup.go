// Package backup keeps the append-only, line-delimited record of every
// processed question. One JSON object per line, appended without ever reading
// the file back, so the log survives crashes mid-run and supports replay.
package backup

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Statuses recorded per entry.
const (
	StatusAnswered = "answered"
	StatusCached   = "cached"
	StatusFailed   = "failed"
)

// Entry is one processed question.
type Entry struct {
	ID        string   `json:"id"`
	Question  string   `json:"question"`
	Answer    string   `json:"answer"`
	Sources   []string `json:"sources,omitempty"`
	Status    string   `json:"status"`
	LatencyMS int64    `json:"latency_ms"`
	TimeStamp string   `json:"time_stamp"`
}

// Log is an append-only JSONL file.
type Log struct {
	mu   sync.Mutex
	file *os.File
}

// Open opens the log for appending, creating it if needed.
func Open(path string) (*Log, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open backup log: %w", err)
	}
	return &Log{file: file}, nil
}

// Close closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// Append writes one entry as a single line.
func (l *Log) Append(entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal backup entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append backup entry: %w", err)
	}
	return nil
}

// Replay reads all entries back, skipping blank lines. Malformed lines are an
// error: the log is machine-written, so corruption should be loud.
func Replay(path string) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open backup log: %w", err)
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(text, &entry); err != nil {
			return nil, fmt.Errorf("backup log line %d: %w", line, err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read backup log: %w", err)
	}
	return entries, nil
}

// Duplicates returns question IDs appearing more than once, with their counts.
// Replay safety: a repeated ID means a question was processed twice.
func Duplicates(entries []Entry) map[string]int {
	counts := make(map[string]int, len(entries))
	for _, e := range entries {
		counts[e.ID]++
	}
	dups := make(map[string]int)
	for id, n := range counts {
		if n > 1 {
			dups[id] = n
		}
	}
	return dups
}
