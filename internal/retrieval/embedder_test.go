package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/talentsift/talentsift/internal/engine"
	"github.com/talentsift/talentsift/internal/ollama"
)

// fakeEngine implements engine.Engine with scripted embedding behavior.
type fakeEngine struct {
	mu        sync.Mutex
	calls     int
	failUntil int   // fail the first N Embed calls
	failErr   error // error to fail with; defaults to a transient one
	vector    []float32
}

var _ engine.Engine = (*fakeEngine)(nil)

func (f *fakeEngine) Embed(ctx context.Context, model, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failUntil {
		if f.failErr != nil {
			return nil, f.failErr
		}
		return nil, errors.New("engine overloaded")
	}
	if f.vector != nil {
		return f.vector, nil
	}
	return []float32{float32(len(text)), 0.5}, nil
}

func (f *fakeEngine) Chat(ctx context.Context, model string, messages []engine.Message) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeEngine) IsRunning(ctx context.Context) bool               { return true }
func (f *fakeEngine) ListModels(ctx context.Context) ([]string, error) { return nil, nil }
func (f *fakeEngine) HasModel(ctx context.Context, name string) bool   { return true }

func (f *fakeEngine) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestEmbedder_Embed(t *testing.T) {
	fake := &fakeEngine{vector: []float32{0.1, 0.2, 0.3}}
	e := NewEmbedder(fake, "nomic-embed-text")

	vec, err := e.Embed(context.Background(), "golang developer")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 {
		t.Errorf("got %d dims, want 3", len(vec))
	}
}

func TestEmbedder_RetriesTransientFailure(t *testing.T) {
	fake := &fakeEngine{failUntil: 2}
	e := NewEmbedder(fake, "m").WithRetry(Policy{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
	})

	if _, err := e.Embed(context.Background(), "text"); err != nil {
		t.Fatalf("Embed should succeed on third attempt: %v", err)
	}
	if got := fake.callCount(); got != 3 {
		t.Errorf("engine calls = %d, want 3", got)
	}
}

func TestEmbedder_GivesUpAfterMaxAttempts(t *testing.T) {
	fake := &fakeEngine{failUntil: 100}
	e := NewEmbedder(fake, "m").WithRetry(Policy{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
	})

	if _, err := e.Embed(context.Background(), "text"); err == nil {
		t.Error("expected error after exhausting retries")
	}
	if got := fake.callCount(); got != 2 {
		t.Errorf("engine calls = %d, want 2", got)
	}
}

func TestEmbedder_DoesNotRetryClientErrors(t *testing.T) {
	fake := &fakeEngine{
		failUntil: 100,
		failErr:   &ollama.StatusError{Endpoint: "embed", StatusCode: 404},
	}
	e := NewEmbedder(fake, "no-such-model").WithRetry(Policy{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
	})

	_, err := e.Embed(context.Background(), "text")
	if err == nil {
		t.Fatal("expected error for a missing model")
	}
	var se *ollama.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want a wrapped *ollama.StatusError", err)
	}
	if got := fake.callCount(); got != 1 {
		t.Errorf("engine calls = %d, want 1 (client errors must not be retried)", got)
	}
}

func TestEmbedBatch(t *testing.T) {
	fake := &fakeEngine{}
	e := NewEmbedder(fake, "m")

	texts := make([]string, 20)
	for i := range texts {
		texts[i] = fmt.Sprintf("resume chunk %d", i)
	}

	vecs, err := e.EmbedBatch(context.Background(), texts, 4)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("got %d vectors, want %d", len(vecs), len(texts))
	}
	for i, v := range vecs {
		if v == nil {
			t.Errorf("vector %d is nil", i)
		}
	}
}

func TestEmbedBatch_Empty(t *testing.T) {
	e := NewEmbedder(&fakeEngine{}, "m")
	vecs, err := e.EmbedBatch(context.Background(), nil, 4)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if vecs != nil {
		t.Errorf("expected nil for empty input, got %d vectors", len(vecs))
	}
}

func TestEmbedBatch_PropagatesFailure(t *testing.T) {
	fake := &fakeEngine{failUntil: 1000}
	e := NewEmbedder(fake, "m").WithRetry(Policy{MaxAttempts: 1})

	if _, err := e.EmbedBatch(context.Background(), []string{"a", "b"}, 2); err == nil {
		t.Error("expected error when all embeddings fail")
	}
}
