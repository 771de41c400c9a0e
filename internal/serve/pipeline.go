package serve

import (
	"context"

	"github.com/yeonjae-dev/campus-qa/internal/answer"
	"github.com/yeonjae-dev/campus-qa/internal/retriever"
)

// CandidateSource yields grounding posts for a question.
type CandidateSource interface {
	Retrieve(ctx context.Context, question string) ([]retriever.Candidate, error)
}

// AnswerGenerator turns a question and its candidates into an answer record.
type AnswerGenerator interface {
	Generate(ctx context.Context, questionID, question string, candidates []retriever.Candidate) (*answer.Record, error)
}

// Pipeline composes retrieval and generation into the single answering step
// the serving loop runs per question.
type Pipeline struct {
	source    CandidateSource
	generator AnswerGenerator
}

func NewPipeline(source CandidateSource, generator AnswerGenerator) *Pipeline {
	return &Pipeline{source: source, generator: generator}
}

func (p *Pipeline) Answer(ctx context.Context, questionID, question string) (*answer.Record, error) {
	candidates, err := p.source.Retrieve(ctx, question)
	if err != nil {
		return nil, err
	}
	return p.generator.Generate(ctx, questionID, question, candidates)
}
