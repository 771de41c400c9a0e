package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EmbeddingConfig configures the embedding model endpoint (OpenAI-compatible).
type EmbeddingConfig struct {
	BaseURL     string `yaml:"base_url"`
	Model       string `yaml:"model"`
	APIKeyEnv   string `yaml:"api_key_env"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	BatchSize   int    `yaml:"batch_size"`
}

// ChatConfig configures the generative model endpoint (OpenAI-compatible).
type ChatConfig struct {
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	TimeoutSecs int     `yaml:"timeout_secs"`
	Temperature float32 `yaml:"temperature"`
}

// AnswerConfig controls prompt construction and the empty-candidate policy.
type AnswerConfig struct {
	// EmptyPolicy is "insufficient" (answer with the insufficient message and no
	// sources) or "general" (ask the model without context, no sources attached).
	EmptyPolicy         string `yaml:"empty_policy"`
	InsufficientMessage string `yaml:"insufficient_message"`
	FallbackMessage     string `yaml:"fallback_message"`
	CandidateRunes      int    `yaml:"candidate_runes"`
	ContextRunes        int    `yaml:"context_runes"`
	AnswerRunes         int    `yaml:"answer_runes"`
}

// SheetsConfig points at the Google Apps Script web app backing the
// question/answer sheets.
type SheetsConfig struct {
	ScriptURL   string `yaml:"script_url"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// ServeConfig controls the question-serving loop.
type ServeConfig struct {
	PollIntervalSecs    int    `yaml:"poll_interval_secs"`
	RebuildSchedule     string `yaml:"rebuild_schedule"` // cron expression, daily by default
	Workers             int    `yaml:"workers"`
	QueueDepth          int    `yaml:"queue_depth"`
	QuestionTimeoutSecs int    `yaml:"question_timeout_secs"`
	CacheSize           int    `yaml:"cache_size"`
}

// IngestConfig points at the crawler's output feed.
type IngestConfig struct {
	FeedPath string `yaml:"feed_path"`
}

// Config is the root configuration for campus-qa.
type Config struct {
	DataDir   string          `yaml:"data_dir"`
	LogLevel  string          `yaml:"log_level"`
	TopK      int             `yaml:"top_k"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Chat      ChatConfig      `yaml:"chat"`
	Answer    AnswerConfig    `yaml:"answer"`
	Sheets    SheetsConfig    `yaml:"sheets"`
	Serve     ServeConfig     `yaml:"serve"`
	Ingest    IngestConfig    `yaml:"ingest"`
}

// DBPath returns the SQLite database location under the data directory.
func (c *Config) DBPath() string { return filepath.Join(c.DataDir, "campusqa.db") }

// BackupPath returns the append-only answer backup log location.
func (c *Config) BackupPath() string { return filepath.Join(c.DataDir, "answer_backup.jsonl") }

// EmbeddingAPIKey resolves the embedding endpoint key from the environment.
func (c *Config) EmbeddingAPIKey() string { return os.Getenv(c.Embedding.APIKeyEnv) }

// ChatAPIKey resolves the chat endpoint key from the environment.
func (c *Config) ChatAPIKey() string { return os.Getenv(c.Chat.APIKeyEnv) }

// PollInterval returns the intake poll period.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Serve.PollIntervalSecs) * time.Second
}

// QuestionTimeout returns the per-question processing deadline.
func (c *Config) QuestionTimeout() time.Duration {
	return time.Duration(c.Serve.QuestionTimeoutSecs) * time.Second
}

// Load reads a config file, applying defaults for anything unset. A missing
// file yields pure defaults. A .env file next to the process, if present, is
// loaded first so api_key_env lookups resolve.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.DataDir == "" {
		cfg.DataDir = "./data"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.TopK == 0 {
		cfg.TopK = 3
	}
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = "http://localhost:1234/v1"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "sfr-embedding-mistral"
	}
	if cfg.Embedding.APIKeyEnv == "" {
		cfg.Embedding.APIKeyEnv = "CAMPUSQA_EMBEDDING_API_KEY"
	}
	if cfg.Embedding.TimeoutSecs == 0 {
		cfg.Embedding.TimeoutSecs = 120
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 16
	}
	if cfg.Chat.BaseURL == "" {
		cfg.Chat.BaseURL = "http://localhost:1234/v1"
	}
	if cfg.Chat.Model == "" {
		cfg.Chat.Model = "meta-llama-3-8b-instruct"
	}
	if cfg.Chat.APIKeyEnv == "" {
		cfg.Chat.APIKeyEnv = "CAMPUSQA_CHAT_API_KEY"
	}
	if cfg.Chat.TimeoutSecs == 0 {
		cfg.Chat.TimeoutSecs = 90
	}
	if cfg.Chat.Temperature == 0 {
		cfg.Chat.Temperature = 0.3
	}
	if cfg.Answer.EmptyPolicy == "" {
		cfg.Answer.EmptyPolicy = "insufficient"
	}
	if cfg.Answer.InsufficientMessage == "" {
		cfg.Answer.InsufficientMessage = "죄송합니다. 관련 정보를 찾을 수 없습니다."
	}
	if cfg.Answer.FallbackMessage == "" {
		cfg.Answer.FallbackMessage = "죄송합니다. 현재 답변을 생성할 수 없습니다. 잠시 후 다시 시도해주세요."
	}
	if cfg.Answer.CandidateRunes == 0 {
		cfg.Answer.CandidateRunes = 300
	}
	if cfg.Answer.ContextRunes == 0 {
		cfg.Answer.ContextRunes = 1500
	}
	if cfg.Answer.AnswerRunes == 0 {
		cfg.Answer.AnswerRunes = 400
	}
	if cfg.Sheets.TimeoutSecs == 0 {
		cfg.Sheets.TimeoutSecs = 30
	}
	if cfg.Serve.PollIntervalSecs == 0 {
		cfg.Serve.PollIntervalSecs = 10
	}
	if cfg.Serve.RebuildSchedule == "" {
		cfg.Serve.RebuildSchedule = "0 4 * * *"
	}
	if cfg.Serve.Workers == 0 {
		cfg.Serve.Workers = 2
	}
	if cfg.Serve.QueueDepth == 0 {
		cfg.Serve.QueueDepth = 32
	}
	if cfg.Serve.QuestionTimeoutSecs == 0 {
		cfg.Serve.QuestionTimeoutSecs = 120
	}
	if cfg.Serve.CacheSize == 0 {
		cfg.Serve.CacheSize = 256
	}
	if cfg.Ingest.FeedPath == "" {
		cfg.Ingest.FeedPath = "./data/board_posts.jsonl"
	}
}

func validate(cfg *Config) error {
	switch cfg.Answer.EmptyPolicy {
	case "insufficient", "general":
	default:
		return fmt.Errorf("answer.empty_policy must be \"insufficient\" or \"general\", got %q", cfg.Answer.EmptyPolicy)
	}
	if cfg.TopK < 1 {
		return fmt.Errorf("top_k must be positive, got %d", cfg.TopK)
	}
	return nil
}
