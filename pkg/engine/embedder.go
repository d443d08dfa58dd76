package engine

import (
	"context"
	"errors"
)

// Embedder converts text into vectors. Implement this to plug any embedding
// model (OpenAI, Ollama, local models, etc.) into the engine.
type Embedder interface {
	// Embed converts a single text string into a vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Name identifies the model. Vectors from different names are never
	// compared against each other.
	Name() string

	// Dimension returns the dimension of vectors produced by this embedder.
	Dimension() int
}

// Errors related to embedder operations.
var (
	// ErrEmbedderNotConfigured is returned when text operations are called
	// but no embedder was supplied via WithEmbedder.
	ErrEmbedderNotConfigured = errors.New("retriva: embedder not configured, use WithEmbedder option")

	// ErrEmptyText is returned when an empty text string is provided.
	ErrEmptyText = errors.New("retriva: empty text provided")
)

// EmbedderFunc adapts a plain function into an Embedder with a fixed name
// and dimension. Useful in tests and for simple local models.
type EmbedderFunc struct {
	Fn    func(ctx context.Context, text string) ([]float32, error)
	Model string
	Dim   int
}

func (e EmbedderFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.Fn(ctx, text)
}

func (e EmbedderFunc) Name() string { return e.Model }

func (e EmbedderFunc) Dimension() int { return e.Dim }
