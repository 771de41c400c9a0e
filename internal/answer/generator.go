package answer

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/yeonjae-dev/campus-qa/internal/retriever"
)

// Policy decides what happens when retrieval finds nothing to ground on.
type Policy string

const (
	// PolicyInsufficient answers with the configured insufficient-information
	// message and no sources.
	PolicyInsufficient Policy = "insufficient"
	// PolicyGeneral asks the model without context and attaches no sources.
	PolicyGeneral Policy = "general"
)

// Options tunes prompt construction and output shaping.
type Options struct {
	EmptyPolicy         Policy
	InsufficientMessage string
	CandidateRunes      int // per-candidate context budget
	ContextRunes        int // total context budget
	AnswerRunes         int // generated answer cap
}

// Generator turns a question plus retrieved candidates into an Answer Record.
type Generator struct {
	chat   ChatClient
	opts   Options
	logger *slog.Logger
}

// NewGenerator creates a generator. Zero option fields get working defaults.
func NewGenerator(chat ChatClient, opts Options, logger *slog.Logger) *Generator {
	if opts.EmptyPolicy == "" {
		opts.EmptyPolicy = PolicyInsufficient
	}
	if opts.InsufficientMessage == "" {
		opts.InsufficientMessage = "죄송합니다. 관련 정보를 찾을 수 없습니다."
	}
	if opts.CandidateRunes == 0 {
		opts.CandidateRunes = 300
	}
	if opts.ContextRunes == 0 {
		opts.ContextRunes = 1500
	}
	if opts.AnswerRunes == 0 {
		opts.AnswerRunes = 400
	}
	return &Generator{chat: chat, opts: opts, logger: logger}
}

// Generate invokes the model once (with a single retry on failure) and
// returns the answer with the source URLs of every candidate that made it
// into the context. An empty candidate list is handled by the configured
// policy, deterministically. Errors mean both attempts failed; the caller
// owns the terminal fallback.
func (g *Generator) Generate(ctx context.Context, questionID, question string, candidates []retriever.Candidate) (*Record, error) {
	start := time.Now()

	if len(candidates) == 0 && g.opts.EmptyPolicy == PolicyInsufficient {
		return &Record{
			QuestionID: questionID,
			Question:   question,
			Answer:     g.opts.InsufficientMessage,
			Latency:    time.Since(start),
			CreatedAt:  time.Now(),
		}, nil
	}

	prompt, used := buildPrompt(question, candidates, g.opts.CandidateRunes, g.opts.ContextRunes)

	text, err := g.complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}
	text = postProcess(text, g.opts.AnswerRunes, g.opts.InsufficientMessage)

	rec := &Record{
		QuestionID: questionID,
		Question:   question,
		Answer:     text,
		Sources:    sourcesFrom(used),
		Latency:    time.Since(start),
		CreatedAt:  time.Now(),
	}
	g.logger.Info("answer generated",
		"question_id", questionID,
		"sources", len(rec.Sources),
		"latency", rec.Latency)
	return rec, nil
}

// complete calls the model, retrying exactly once.
func (g *Generator) complete(ctx context.Context, prompt string) (string, error) {
	text, err := g.chat.Complete(ctx, prompt)
	if err == nil {
		return text, nil
	}
	if ctx.Err() != nil {
		return "", err
	}
	g.logger.Warn("model call failed, retrying once", "error", err)
	return g.chat.Complete(ctx, prompt)
}

// sourcesFrom collects distinct source URLs of the candidates actually used,
// preserving score order.
func sourcesFrom(used []retriever.Candidate) []Source {
	seen := make(map[string]struct{}, len(used))
	var sources []Source
	for _, cand := range used {
		url := cand.Post.URL
		if url == "" {
			continue
		}
		if !strings.HasPrefix(url, "http") {
			url = "https://" + url
		}
		if _, ok := seen[url]; ok {
			continue
		}
		seen[url] = struct{}{}
		sources = append(sources, Source{PostID: cand.Post.ID, URL: url})
	}
	return sources
}

var (
	codeBlockRe  = regexp.MustCompile("```[\\s\\S]*?```")
	inlineCodeRe = regexp.MustCompile("`[^`]*`")
	spaceRe      = regexp.MustCompile(`\s+`)
)

// postProcess cleans up model output: code fragments removed, whitespace
// collapsed, length capped at the last full sentence inside the budget.
func postProcess(text string, maxRunes int, fallback string) string {
	text = codeBlockRe.ReplaceAllString(text, "")
	text = inlineCodeRe.ReplaceAllString(text, "")
	text = strings.TrimSpace(spaceRe.ReplaceAllString(text, " "))

	if len([]rune(text)) < 3 {
		return fallback
	}

	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}
	cut := string(runes[:maxRunes])
	if i := strings.LastIndexAny(cut, ".!?"); i > 0 {
		return cut[:i+1]
	}
	// No sentence boundary: the ellipsis counts against the cap too.
	if maxRunes > 3 {
		cut = string(runes[:maxRunes-3])
	}
	return cut + "..."
}
