package retrieval

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/talentsift/talentsift/internal/engine"
	"github.com/talentsift/talentsift/internal/ollama"
)

// Embedder wraps an Engine to generate text embeddings with bounded retries.
type Embedder struct {
	engine engine.Engine
	model  string
	retry  Policy
}

// NewEmbedder creates an Embedder using the given Engine and model name.
func NewEmbedder(e engine.Engine, model string) *Embedder {
	return &Embedder{engine: e, model: model, retry: DefaultPolicy()}
}

// WithRetry overrides the default retry policy.
func (e *Embedder) WithRetry(p Policy) *Embedder {
	e.retry = p
	return e
}

// Model returns the embedding model identifier this Embedder is bound to.
func (e *Embedder) Model() string {
	return e.model
}

// Embed returns the embedding vector for a single text, retrying transient
// engine failures per the policy.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := e.retry.Do(ctx, func() error {
		v, err := e.engine.Embed(ctx, e.model, text)
		if err != nil {
			// A client-error response (missing model, oversized input)
			// won't heal across attempts; give up immediately.
			var se *ollama.StatusError
			if errors.As(err, &se) && !se.Temporary() {
				return Permanent(err)
			}
			return err
		}
		vec = v
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	return vec, nil
}

// EmbedBatch returns embedding vectors for multiple texts concurrently,
// bounded by limit goroutines. Returns nil (not error) for empty input.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string, limit int) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 4
	}

	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.Embed(gCtx, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
