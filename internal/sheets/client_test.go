package sheets

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPendingQuestionsFiltersAnswered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("table") {
		case "question":
			fmt.Fprint(w, `{"success":true,"data":[
				{"id":"u1","question":"컴아 수업 어때?","time_stamp":"2025-03-01 10:00:00"},
				{"id":"u2","question":"복전 어떻게 해요?","time_stamp":"2025-03-01 11:00:00"},
				{"id":"u3","question":"","time_stamp":"2025-03-01 12:00:00"}
			]}`)
		case "answer":
			fmt.Fprint(w, `{"success":true,"data":[
				{"id":"u1","answer":"답변","time_stamp":"2025-03-01 10:00:00"}
			]}`)
		default:
			t.Errorf("unexpected table %q", r.URL.Query().Get("table"))
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	pending, err := c.PendingQuestions(context.Background())
	if err != nil {
		t.Fatalf("pending questions: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "u2" {
		t.Errorf("pending = %v, want only u2", pending)
	}
}

func TestReadQuestionsUnwrapsJSONP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `undefined({"success":true,"data":[{"id":"u1","question":"질문","time_stamp":"ts"}]})`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	questions, err := c.ReadQuestions(context.Background())
	if err != nil {
		t.Fatalf("read questions: %v", err)
	}
	if len(questions) != 1 || questions[0].EventID() != "u1_ts" {
		t.Errorf("questions = %v", questions)
	}
}

func TestWriteAnswerPayload(t *testing.T) {
	var got AnswerRow
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("action") != "insert" || q.Get("table") != "answer" {
			t.Errorf("action=%s table=%s", q.Get("action"), q.Get("table"))
		}
		if err := json.Unmarshal([]byte(q.Get("data")), &got); err != nil {
			t.Fatalf("decode data: %v", err)
		}
		fmt.Fprint(w, `{"success":true}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	row := AnswerRow{
		ID:        "u1",
		Question:  "컴아 수업 어때?",
		Answer:    "어렵지만 들을만 해요.",
		Document:  "https://board.example.com/p/1\nhttps://board.example.com/p/2",
		TimeStamp: "2025-03-01 10:00:00",
	}
	if err := c.WriteAnswer(context.Background(), row); err != nil {
		t.Fatalf("write answer: %v", err)
	}
	if got != row {
		t.Errorf("payload = %+v, want %+v", got, row)
	}
}

func TestDoRetriesTransientErrors(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			http.Error(w, "flaky", http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"success":true,"data":[]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	if _, err := c.ReadQuestions(context.Background()); err != nil {
		t.Fatalf("read questions after retries: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestDoSurfacesScriptError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":false,"error":"answer sheet missing"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	if _, err := c.ReadQuestions(context.Background()); err == nil {
		t.Error("expected script error to surface")
	}
}
