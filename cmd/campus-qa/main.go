package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/yeonjae-dev/campus-qa/internal/answer"
	"github.com/yeonjae-dev/campus-qa/internal/backup"
	"github.com/yeonjae-dev/campus-qa/internal/config"
	"github.com/yeonjae-dev/campus-qa/internal/embeddings"
	"github.com/yeonjae-dev/campus-qa/internal/index"
	"github.com/yeonjae-dev/campus-qa/internal/ingest"
	"github.com/yeonjae-dev/campus-qa/internal/retriever"
	"github.com/yeonjae-dev/campus-qa/internal/serve"
	"github.com/yeonjae-dev/campus-qa/internal/sheets"
	"github.com/yeonjae-dev/campus-qa/internal/storage"
)

func main() {
	globalFlags := flag.NewFlagSet("global", flag.ExitOnError)
	configPath := globalFlags.String("config", "./config.yaml", "Path to the YAML config file")

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	// Global flags may appear before the command.
	commandIdx := 1
	for i := 1; i < len(os.Args); i++ {
		if !strings.HasPrefix(os.Args[i], "-") {
			commandIdx = i
			break
		}
	}
	if commandIdx > 1 {
		globalFlags.Parse(os.Args[1:commandIdx])
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	command := os.Args[commandIdx]
	args := os.Args[commandIdx+1:]

	switch command {
	case "ingest":
		ingestFlags := flag.NewFlagSet("ingest", flag.ExitOnError)
		feedPath := ingestFlags.String("feed", cfg.Ingest.FeedPath, "Path to the crawler's JSONL feed")
		ingestFlags.Parse(args)
		runIngest(cfg, *feedPath)
	case "run":
		runServe(cfg)
	case "once":
		runOnce(cfg)
	case "ask":
		if len(args) < 1 {
			fmt.Println("Error: question required")
			fmt.Println("Usage: campus-qa [--config=<path>] ask <question>")
			os.Exit(1)
		}
		runAsk(cfg, strings.Join(args, " "))
	case "check":
		runCheck(cfg)
	case "stats":
		runStats(cfg)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("campus-qa - Retrieval-grounded QA over university board posts")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  campus-qa [global-flags] <command> [flags]")
	fmt.Println()
	fmt.Println("Global Flags:")
	fmt.Println("  --config=<path>   Path to the YAML config file (default: ./config.yaml)")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  ingest [flags]    Ingest the crawler feed, embed new posts, rebuild the index")
	fmt.Println("  run               Poll the question sheet and answer questions until interrupted")
	fmt.Println("  once              Answer the currently pending questions, then exit")
	fmt.Println("  ask <question>    Answer one question locally (no sheet involved)")
	fmt.Println("  check             Check embedding, chat, sheet, and database connectivity")
	fmt.Println("  stats             Show corpus, embedding, and backup statistics")
	fmt.Println()
	fmt.Println("Ingest Flags:")
	fmt.Println("  -feed=<path>      Crawler JSONL feed (default from config)")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  campus-qa ingest")
	fmt.Println("  campus-qa ingest -feed=./data/board_posts.jsonl")
	fmt.Println("  campus-qa ask \"수강신청 언제부터 하나요?\"")
	fmt.Println("  campus-qa run")
	fmt.Println("  campus-qa --config=/etc/campus-qa.yaml run")
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func openDB(cfg *config.Config) *storage.DB {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("Error creating data directory: %v", err)
	}
	db, err := storage.Open(cfg.DBPath())
	if err != nil {
		log.Fatalf("Error opening database: %v", err)
	}
	return db
}

func newEmbedder(cfg *config.Config) *embeddings.Client {
	return embeddings.NewClient(
		cfg.Embedding.BaseURL,
		cfg.Embedding.Model,
		cfg.EmbeddingAPIKey(),
		time.Duration(cfg.Embedding.TimeoutSecs)*time.Second,
	)
}

func newChatClient(cfg *config.Config) *answer.Client {
	return answer.NewClient(
		cfg.Chat.BaseURL,
		cfg.Chat.Model,
		cfg.ChatAPIKey(),
		cfg.Chat.Temperature,
		time.Duration(cfg.Chat.TimeoutSecs)*time.Second,
	)
}

func newPipeline(cfg *config.Config, db *storage.DB, idx *index.Index, logger *slog.Logger) *serve.Pipeline {
	ret := retriever.New(newEmbedder(cfg), idx, db, cfg.TopK, logger)
	gen := answer.NewGenerator(newChatClient(cfg), answer.Options{
		EmptyPolicy:         answer.Policy(cfg.Answer.EmptyPolicy),
		InsufficientMessage: cfg.Answer.InsufficientMessage,
		CandidateRunes:      cfg.Answer.CandidateRunes,
		ContextRunes:        cfg.Answer.ContextRunes,
		AnswerRunes:         cfg.Answer.AnswerRunes,
	}, logger)
	return serve.NewPipeline(ret, gen)
}

func runIngest(cfg *config.Config, feedPath string) {
	logger := newLogger(cfg)
	db := openDB(cfg)
	defer db.Close()

	embedder := newEmbedder(cfg)
	ctx := context.Background()
	if err := embedder.Health(ctx); err != nil {
		log.Printf("Warning: embedding endpoint not healthy (%v), embedding batches may fail", err)
	}

	worker := ingest.NewWorker(db, embedder, &index.Index{}, cfg.Embedding.BatchSize, logger)
	stats, err := worker.Run(ctx, feedPath)
	if err != nil {
		log.Fatalf("Error ingesting feed: %v", err)
	}

	fmt.Println()
	fmt.Println("=== Ingest Complete ===")
	fmt.Printf("Total posts:   %d\n", stats.Total)
	fmt.Printf("New:           %d\n", stats.Inserted)
	fmt.Printf("Updated:       %d\n", stats.Updated)
	fmt.Printf("Unchanged:     %d\n", stats.Unchanged)
	fmt.Printf("Embedded:      %d generated, %d failed\n", stats.Embedded, stats.EmbedFailed)
	if stats.Malformed > 0 {
		fmt.Printf("Malformed:     %d feed lines skipped\n", stats.Malformed)
	}
	fmt.Printf("Duration:      %v\n", stats.Duration.Round(time.Millisecond))
}

// buildLoop wires the full serving stack: database, index loaded from stored
// embeddings, pipeline, sheet client, and backup log.
func buildLoop(cfg *config.Config, logger *slog.Logger) (*serve.Loop, *ingest.Worker, *storage.DB, *backup.Log) {
	db := openDB(cfg)

	idx := &index.Index{}
	worker := ingest.NewWorker(db, newEmbedder(cfg), idx, cfg.Embedding.BatchSize, logger)
	if err := worker.Rebuild(); err != nil {
		log.Fatalf("Error loading index: %v", err)
	}
	if idx.Current().Len() == 0 {
		log.Printf("Warning: index is empty; run \"campus-qa ingest\" first")
	}

	backupLog, err := backup.Open(cfg.BackupPath())
	if err != nil {
		log.Fatalf("Error opening backup log: %v", err)
	}

	intake := sheets.NewClient(cfg.Sheets.ScriptURL, time.Duration(cfg.Sheets.TimeoutSecs)*time.Second)
	loop, err := serve.NewLoop(intake, newPipeline(cfg, db, idx, logger), backupLog, serve.Options{
		Workers:         cfg.Serve.Workers,
		QueueDepth:      cfg.Serve.QueueDepth,
		QuestionTimeout: cfg.QuestionTimeout(),
		CacheSize:       cfg.Serve.CacheSize,
		FallbackMessage: cfg.Answer.FallbackMessage,
	}, logger)
	if err != nil {
		log.Fatalf("Error creating serving loop: %v", err)
	}
	return loop, worker, db, backupLog
}

func runServe(cfg *config.Config) {
	if cfg.Sheets.ScriptURL == "" {
		log.Fatal("Error: sheets.script_url is required for run")
	}
	logger := newLogger(cfg)
	loop, worker, db, backupLog := buildLoop(cfg, logger)
	defer db.Close()
	defer backupLog.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Nightly re-ingest picks up new posts and comment activity.
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Serve.RebuildSchedule, func() {
		stats, err := worker.Run(ctx, cfg.Ingest.FeedPath)
		if err != nil {
			logger.Error("scheduled ingest failed", "error", err)
			return
		}
		logger.Info("scheduled ingest finished",
			"inserted", stats.Inserted,
			"updated", stats.Updated,
			"embedded", stats.Embedded)
	}); err != nil {
		log.Fatalf("Error parsing rebuild schedule %q: %v", cfg.Serve.RebuildSchedule, err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	logger.Info("serving questions",
		"poll_interval", cfg.PollInterval().String(),
		"workers", cfg.Serve.Workers,
		"indexed", loopIndexSize(db, cfg))
	loop.Run(ctx, cfg.PollInterval())
	logger.Info("shutdown complete")
}

func loopIndexSize(db *storage.DB, cfg *config.Config) int {
	n, err := db.CountEmbeddings(cfg.Embedding.Model)
	if err != nil {
		return 0
	}
	return n
}

func runOnce(cfg *config.Config) {
	if cfg.Sheets.ScriptURL == "" {
		log.Fatal("Error: sheets.script_url is required for once")
	}
	logger := newLogger(cfg)
	loop, _, db, backupLog := buildLoop(cfg, logger)
	defer db.Close()
	defer backupLog.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loop.Start(ctx)
	loop.PollOnce(ctx)
	loop.Stop()
}

func runAsk(cfg *config.Config, question string) {
	logger := newLogger(cfg)
	db := openDB(cfg)
	defer db.Close()

	idx := &index.Index{}
	worker := ingest.NewWorker(db, newEmbedder(cfg), idx, cfg.Embedding.BatchSize, logger)
	if err := worker.Rebuild(); err != nil {
		log.Fatalf("Error loading index: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.QuestionTimeout())
	defer cancel()

	pipeline := newPipeline(cfg, db, idx, logger)
	rec, err := pipeline.Answer(ctx, "local", question)
	if err != nil {
		log.Fatalf("Error answering: %v", err)
	}

	fmt.Println(rec.Answer)
	if len(rec.Sources) > 0 {
		fmt.Println()
		fmt.Println("Sources:")
		for _, url := range rec.SourceURLs() {
			fmt.Printf("  %s\n", url)
		}
	}
	fmt.Printf("\n(%v)\n", rec.Latency.Round(time.Millisecond))
}

func runCheck(cfg *config.Config) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ok := true
	report := func(name, detail string, err error) {
		if err != nil {
			fmt.Printf("✗ %-12s %v\n", name, err)
			ok = false
			return
		}
		fmt.Printf("✓ %-12s %s\n", name, detail)
	}

	report("embedding", "ok", newEmbedder(cfg).Health(ctx))
	report("chat", "ok", newChatClient(cfg).Health(ctx))

	if cfg.Sheets.ScriptURL == "" {
		fmt.Printf("- %-12s not configured\n", "sheets")
	} else {
		client := sheets.NewClient(cfg.Sheets.ScriptURL, time.Duration(cfg.Sheets.TimeoutSecs)*time.Second)
		_, err := client.ReadQuestions(ctx)
		report("sheets", "ok", err)
	}

	db, err := storage.Open(cfg.DBPath())
	report("database", "ok", err)
	if err == nil {
		vectors, berr := checkIndex(db, cfg.Embedding.Model)
		report("index", fmt.Sprintf("ok (%d vectors)", vectors), berr)
		db.Close()
	}

	if !ok {
		os.Exit(1)
	}
}

// checkIndex verifies a snapshot can be built from the stored embeddings.
func checkIndex(db *storage.DB, model string) (int, error) {
	records, err := db.ListEmbeddings(model)
	if err != nil {
		return 0, err
	}
	snap, err := index.Build(records, model)
	if err != nil {
		return 0, err
	}
	return snap.Len(), nil
}

func runStats(cfg *config.Config) {
	db := openDB(cfg)
	defer db.Close()

	posts, err := db.Count()
	if err != nil {
		log.Fatalf("Error counting posts: %v", err)
	}
	embedded, err := db.CountEmbeddings(cfg.Embedding.Model)
	if err != nil {
		log.Fatalf("Error counting embeddings: %v", err)
	}

	fmt.Println("=== Corpus Statistics ===")
	fmt.Printf("Posts in corpus:       %d\n", posts)
	fmt.Printf("Embedded (%s): %d\n", cfg.Embedding.Model, embedded)
	if posts > embedded {
		fmt.Printf("Pending embedding:     %d\n", posts-embedded)
	}

	entries, err := backup.Replay(cfg.BackupPath())
	if err != nil {
		log.Fatalf("Error reading backup log: %v", err)
	}
	if entries == nil {
		fmt.Println("No answers logged yet")
		return
	}

	byStatus := make(map[string]int)
	for _, e := range entries {
		byStatus[e.Status]++
	}
	fmt.Println()
	fmt.Println("=== Answer Log ===")
	fmt.Printf("Total answers:         %d\n", len(entries))
	fmt.Printf("Generated:             %d\n", byStatus[backup.StatusAnswered])
	fmt.Printf("Served from cache:     %d\n", byStatus[backup.StatusCached])
	fmt.Printf("Failed:                %d\n", byStatus[backup.StatusFailed])
	if dups := backup.Duplicates(entries); len(dups) > 0 {
		fmt.Printf("Duplicate events:      %d\n", len(dups))
	}
}
