// Package serve polls the question sheet and answers pending questions with a
// fixed pool of workers. Each question event is claimed exactly once, repeated
// question text is served from an LRU cache without touching the model, and
// every outcome is appended to the backup log before the loop moves on.
package serve

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/yeonjae-dev/campus-qa/internal/answer"
	"github.com/yeonjae-dev/campus-qa/internal/backup"
	"github.com/yeonjae-dev/campus-qa/internal/sheets"
)

// Intake is the question source and answer sink, usually the sheets client.
type Intake interface {
	PendingQuestions(ctx context.Context) ([]sheets.Question, error)
	WriteAnswer(ctx context.Context, row sheets.AnswerRow) error
}

// Answerer produces one answer record per question event.
type Answerer interface {
	Answer(ctx context.Context, questionID, question string) (*answer.Record, error)
}

// AnswerLog records every processed question, usually the backup log.
type AnswerLog interface {
	Append(entry backup.Entry) error
}

// Options tunes the serving loop.
type Options struct {
	Workers         int
	QueueDepth      int
	QuestionTimeout time.Duration
	CacheSize       int
	FallbackMessage string
}

// Loop is the serving loop. Create with NewLoop, drive with Run, or with
// Start/PollOnce/Stop for one-shot use.
type Loop struct {
	intake   Intake
	answerer Answerer
	backup   AnswerLog
	cache    *lru.Cache[string, *answer.Record]
	opts     Options
	logger   *slog.Logger

	queue chan sheets.Question
	wg    sync.WaitGroup

	mu     sync.Mutex
	claims map[string]struct{}
}

func NewLoop(intake Intake, answerer Answerer, backupLog AnswerLog, opts Options, logger *slog.Logger) (*Loop, error) {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = 32
	}
	if opts.QuestionTimeout <= 0 {
		opts.QuestionTimeout = 2 * time.Minute
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 256
	}
	cache, err := lru.New[string, *answer.Record](opts.CacheSize)
	if err != nil {
		return nil, err
	}
	return &Loop{
		intake:   intake,
		answerer: answerer,
		backup:   backupLog,
		cache:    cache,
		opts:     opts,
		logger:   logger,
		queue:    make(chan sheets.Question, opts.QueueDepth),
		claims:   make(map[string]struct{}),
	}, nil
}

// Start launches the worker pool. Workers drain the queue until Stop closes it.
func (l *Loop) Start(ctx context.Context) {
	for i := 0; i < l.opts.Workers; i++ {
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			for q := range l.queue {
				l.process(ctx, q)
			}
		}()
	}
}

// Stop closes the queue and waits for in-flight questions to finish.
func (l *Loop) Stop() {
	close(l.queue)
	l.wg.Wait()
}

// Run polls at the given interval until ctx is cancelled, then drains the
// queue and returns.
func (l *Loop) Run(ctx context.Context, interval time.Duration) {
	l.Start(ctx)
	defer l.Stop()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	l.PollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.PollOnce(ctx)
		}
	}
}

// PollOnce reads the pending questions and enqueues every unclaimed one. A
// full queue is back-pressure, not loss: the claim is released and the
// question stays pending for the next poll.
func (l *Loop) PollOnce(ctx context.Context) {
	pending, err := l.intake.PendingQuestions(ctx)
	if err != nil {
		l.logger.Error("poll failed", "error", err)
		return
	}
	enqueued, held := 0, 0
	for _, q := range pending {
		if !l.claim(q.EventID()) {
			continue
		}
		select {
		case l.queue <- q:
			enqueued++
		default:
			l.release(q.EventID())
			held++
		}
	}
	if enqueued > 0 || held > 0 {
		l.logger.Info("poll", "pending", len(pending), "enqueued", enqueued, "held", held)
	}
}

func (l *Loop) claim(eventID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, taken := l.claims[eventID]; taken {
		return false
	}
	l.claims[eventID] = struct{}{}
	return true
}

func (l *Loop) release(eventID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.claims, eventID)
}

// process answers one claimed question event end to end. The claim is always
// released at the end: a successfully written answer stops being pending on
// its own, and anything that failed before writeback gets retried next poll.
func (l *Loop) process(ctx context.Context, q sheets.Question) {
	eventID := q.EventID()
	defer l.release(eventID)

	key := normalizeQuestion(q.Text)
	if rec, ok := l.cache.Get(key); ok {
		l.logger.Info("answer served from cache", "event_id", eventID)
		l.finish(ctx, q, rec, backup.StatusCached)
		return
	}

	qctx, cancel := context.WithTimeout(ctx, l.opts.QuestionTimeout)
	defer cancel()

	start := time.Now()
	rec, err := l.answerer.Answer(qctx, eventID, q.Text)
	if err != nil {
		l.logger.Error("answer failed", "event_id", eventID, "error", err)
		rec = &answer.Record{
			QuestionID: eventID,
			Question:   q.Text,
			Answer:     l.opts.FallbackMessage,
			Latency:    time.Since(start),
			CreatedAt:  time.Now(),
		}
		l.finish(ctx, q, rec, backup.StatusFailed)
		return
	}

	l.cache.Add(key, rec)
	l.finish(ctx, q, rec, backup.StatusAnswered)
}

// finish writes the answer back to the sheet and appends the backup entry.
func (l *Loop) finish(ctx context.Context, q sheets.Question, rec *answer.Record, status string) {
	row := sheets.AnswerRow{
		ID:        q.ID,
		Question:  q.Text,
		Answer:    rec.Answer,
		Document:  strings.Join(rec.SourceURLs(), "\n"),
		TimeStamp: q.TimeStamp,
	}
	if err := l.intake.WriteAnswer(ctx, row); err != nil {
		// Still pending on the sheet; the released claim retries it next poll.
		l.logger.Error("writeback failed", "event_id", q.EventID(), "error", err)
		return
	}

	entry := backup.Entry{
		ID:        q.EventID(),
		Question:  q.Text,
		Answer:    rec.Answer,
		Sources:   rec.SourceURLs(),
		Status:    status,
		LatencyMS: rec.Latency.Milliseconds(),
		TimeStamp: time.Now().Format(time.RFC3339),
	}
	if err := l.appendBackup(entry); err != nil {
		l.logger.Error("backup append failed", "event_id", q.EventID(), "error", err)
	}
	l.logger.Info("question answered",
		"event_id", q.EventID(),
		"status", status,
		"sources", len(rec.Sources),
		"latency_ms", rec.Latency.Milliseconds())
}

// appendBackup writes the log entry, retrying once after a short pause.
// Append failures are transient file I/O; one bounded retry keeps the log
// complete without stalling the worker.
func (l *Loop) appendBackup(entry backup.Entry) error {
	err := l.backup.Append(entry)
	if err == nil {
		return nil
	}
	time.Sleep(100 * time.Millisecond)
	return l.backup.Append(entry)
}

// normalizeQuestion is the cache key: lowercased with whitespace collapsed,
// so trivially reworded repeats of the same question hit the cache.
func normalizeQuestion(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}
