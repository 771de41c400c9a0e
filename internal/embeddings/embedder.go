package embeddings

import "context"

// Embedder is the interface for embedding providers.
type Embedder interface {
	// EmbedBatch generates unit-length embeddings for multiple texts in a
	// single request, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Health checks if the service is available and the model is loaded.
	Health(ctx context.Context) error

	// Model returns the model version tag embeddings are produced with.
	Model() string
}
