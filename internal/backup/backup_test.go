package backup

import (
	"path/filepath"
	"testing"
)

func TestAppendAndReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backup.jsonl")

	log, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	entries := []Entry{
		{ID: "u1_t1", Question: "컴아 수업 어때?", Answer: "어렵습니다.", Sources: []string{"https://board.example.com/p/1"}, Status: StatusAnswered, LatencyMS: 1200, TimeStamp: "t1"},
		{ID: "u2_t2", Question: "복전 방법?", Answer: "죄송합니다.", Status: StatusFailed, TimeStamp: "t2"},
	}
	for _, e := range entries {
		if err := log.Append(e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := log.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Reopen and append again: the log must grow, never truncate.
	log, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := log.Append(Entry{ID: "u3_t3", Status: StatusCached, TimeStamp: "t3"}); err != nil {
		t.Fatalf("append after reopen: %v", err)
	}
	log.Close()

	got, err := Replay(path)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("replayed %d entries, want 3", len(got))
	}
	if got[0].ID != "u1_t1" || got[0].Status != StatusAnswered || len(got[0].Sources) != 1 {
		t.Errorf("first entry = %+v", got[0])
	}
	if got[1].Status != StatusFailed {
		t.Errorf("second entry status = %s", got[1].Status)
	}
}

func TestReplayMissingFile(t *testing.T) {
	got, err := Replay(filepath.Join(t.TempDir(), "nope.jsonl"))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if got != nil {
		t.Errorf("got %v, want nil", got)
	}
}

func TestDuplicates(t *testing.T) {
	entries := []Entry{
		{ID: "a"}, {ID: "b"}, {ID: "a"}, {ID: "a"},
	}
	dups := Duplicates(entries)
	if len(dups) != 1 || dups["a"] != 3 {
		t.Errorf("duplicates = %v, want a:3", dups)
	}
}
