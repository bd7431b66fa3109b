package search

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/talentsift/talentsift/internal/engine"
	"github.com/talentsift/talentsift/internal/retrieval"
	"github.com/talentsift/talentsift/internal/storage"
)

// stubEngine returns a fixed vector for every embed call and a scripted chat
// response, so ranking is driven entirely by the vectors planted in the index.
type stubEngine struct {
	queryVec  []float32
	chatResp  string
	chatErr   error
	chatCalls atomic.Int64
}

var _ engine.Engine = (*stubEngine)(nil)

func (s *stubEngine) Embed(ctx context.Context, model, text string) ([]float32, error) {
	return s.queryVec, nil
}

func (s *stubEngine) Chat(ctx context.Context, model string, messages []engine.Message) (string, error) {
	s.chatCalls.Add(1)
	if s.chatErr != nil {
		return "", s.chatErr
	}
	return s.chatResp, nil
}

func (s *stubEngine) IsRunning(ctx context.Context) bool               { return true }
func (s *stubEngine) ListModels(ctx context.Context) ([]string, error) { return nil, nil }
func (s *stubEngine) HasModel(ctx context.Context, name string) bool   { return true }

func chunkRecord(id, doc string, ordinal int, vec []float32) retrieval.Record {
	return retrieval.Record{
		ID:        id,
		DocPath:   doc,
		Ordinal:   ordinal,
		TextChunk: fmt.Sprintf("excerpt %s/%d", doc, ordinal),
		Embedding: vec,
		CreatedAt: time.Now().UTC(),
	}
}

// writeIndex creates a finalized index snapshot holding the given records.
func writeIndex(t *testing.T, path, model string, recs []retrieval.Record) {
	t.Helper()
	store, err := storage.Open(path)
	if err != nil {
		t.Fatalf("opening index: %v", err)
	}
	defer store.Close()

	if len(recs) > 0 {
		if err := retrieval.NewSQLiteStore(store.DB()).Insert(recs); err != nil {
			t.Fatalf("inserting records: %v", err)
		}
	}

	docs := make(map[string]bool)
	for _, r := range recs {
		docs[r.DocPath] = true
	}
	if err := store.SetMeta(storage.IndexMeta{
		EmbedModel:    model,
		Dimensions:    4,
		DocumentCount: len(docs),
		BuiltAt:       time.Now().UTC(),
	}); err != nil {
		t.Fatalf("setting meta: %v", err)
	}
}

func readyEngine(t *testing.T, eng engine.Engine, recs []retrieval.Record, opts Options) *Engine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "resumes.db")
	writeIndex(t, path, "nomic-embed-text", recs)

	e := New(retrieval.NewEmbedder(eng, "nomic-embed-text"), nil, opts)
	if err := e.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestSearch_NotReadyBeforeLoad(t *testing.T) {
	e := New(retrieval.NewEmbedder(&stubEngine{}, "m"), nil, Options{})
	if e.State() != StateUninitialized {
		t.Errorf("state = %s, want uninitialized", e.State())
	}

	_, err := e.Search(context.Background(), "query", 3)
	if !errors.Is(err, ErrNotReady) {
		t.Errorf("err = %v, want ErrNotReady", err)
	}
}

func TestLoad_ModelMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resumes.db")
	writeIndex(t, path, "nomic-embed-text", nil)

	e := New(retrieval.NewEmbedder(&stubEngine{}, "mxbai-embed-large"), nil, Options{})
	err := e.Load(path)
	if !errors.Is(err, ErrModelMismatch) {
		t.Fatalf("err = %v, want ErrModelMismatch", err)
	}
	if e.State() != StateFailed {
		t.Errorf("state = %s, want failed", e.State())
	}

	if _, err := e.Search(context.Background(), "query", 3); !errors.Is(err, ErrNotReady) {
		t.Errorf("Search err = %v, want ErrNotReady", err)
	}
}

func TestLoad_UnfinalizedIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resumes.db")
	store, err := storage.Open(path)
	if err != nil {
		t.Fatalf("opening index: %v", err)
	}
	store.Close()

	e := New(retrieval.NewEmbedder(&stubEngine{}, "m"), nil, Options{})
	if err := e.Load(path); !errors.Is(err, ErrNotReady) {
		t.Errorf("err = %v, want ErrNotReady", err)
	}
}

func TestSearch_RanksDocumentsAboveFloor(t *testing.T) {
	// Query vector [1,0,0,0]. Candidate C matches exactly, A partially,
	// B not at all; the floor drops B entirely.
	recs := []retrieval.Record{
		chunkRecord("a0", "a_partial.pdf", 0, []float32{0.9, 0.436, 0, 0}),
		chunkRecord("b0", "b_unrelated.pdf", 0, []float32{0, 1, 0, 0}),
		chunkRecord("c0", "c_strong.pdf", 0, []float32{1, 0, 0, 0}),
	}
	e := readyEngine(t, &stubEngine{queryVec: []float32{1, 0, 0, 0}}, recs, Options{
		MinSimilarity: 0.3,
	})

	results, err := e.Search(context.Background(), "AWS DevOps engineer", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].DocPath != "c_strong.pdf" || results[1].DocPath != "a_partial.pdf" {
		t.Errorf("order = [%s, %s], want [c_strong.pdf, a_partial.pdf]",
			results[0].DocPath, results[1].DocPath)
	}
	if results[0].Score < results[1].Score {
		t.Errorf("scores not descending: %f < %f", results[0].Score, results[1].Score)
	}
	if len(results[0].Chunks) == 0 || results[0].Chunks[0].Text == "" {
		t.Error("matched excerpts missing from result")
	}
}

func TestSearch_NothingAboveFloorIsEmptyNotError(t *testing.T) {
	recs := []retrieval.Record{
		chunkRecord("b0", "b_unrelated.pdf", 0, []float32{0, 1, 0, 0}),
	}
	e := readyEngine(t, &stubEngine{queryVec: []float32{1, 0, 0, 0}}, recs, Options{
		MinSimilarity: 0.5,
	})

	results, err := e.Search(context.Background(), "query", 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want 0", len(results))
	}
}

func TestSearch_EmptyIndexIsEmptyNotError(t *testing.T) {
	e := readyEngine(t, &stubEngine{queryVec: []float32{1, 0, 0, 0}}, nil, Options{})

	results, err := e.Search(context.Background(), "query", 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want 0", len(results))
	}
}

func TestSearch_AggregationPolicies(t *testing.T) {
	// multi.pdf has one excellent and one weak chunk; single.pdf has one
	// good chunk. Max ranks multi first; mean ranks single first.
	recs := []retrieval.Record{
		chunkRecord("m0", "multi.pdf", 0, []float32{1, 0, 0, 0}),
		chunkRecord("m1", "multi.pdf", 1, []float32{0.5, 0.866, 0, 0}),
		chunkRecord("s0", "single.pdf", 0, []float32{0.9, 0.436, 0, 0}),
	}
	query := []float32{1, 0, 0, 0}

	maxEng := readyEngine(t, &stubEngine{queryVec: query}, recs, Options{Policy: PolicyMax})
	results, err := maxEng.Search(context.Background(), "q", 2)
	if err != nil {
		t.Fatalf("Search (max): %v", err)
	}
	if results[0].DocPath != "multi.pdf" {
		t.Errorf("max policy winner = %s, want multi.pdf", results[0].DocPath)
	}

	meanEng := readyEngine(t, &stubEngine{queryVec: query}, recs, Options{Policy: PolicyMean})
	results, err = meanEng.Search(context.Background(), "q", 2)
	if err != nil {
		t.Fatalf("Search (mean): %v", err)
	}
	if results[0].DocPath != "single.pdf" {
		t.Errorf("mean policy winner = %s, want single.pdf", results[0].DocPath)
	}
}

func TestSearch_TieBreaksOnPath(t *testing.T) {
	vec := []float32{1, 0, 0, 0}
	recs := []retrieval.Record{
		chunkRecord("z0", "zeta.pdf", 0, vec),
		chunkRecord("a0", "alpha.pdf", 0, vec),
	}
	e := readyEngine(t, &stubEngine{queryVec: vec}, recs, Options{})

	results, err := e.Search(context.Background(), "q", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if results[0].DocPath != "alpha.pdf" {
		t.Errorf("tie winner = %s, want alpha.pdf (lexicographic)", results[0].DocPath)
	}
}

func TestSearch_DefaultTopK(t *testing.T) {
	var recs []retrieval.Record
	for i := range 10 {
		recs = append(recs, chunkRecord(
			fmt.Sprintf("r%d", i), fmt.Sprintf("doc%02d.pdf", i), 0, []float32{1, 0, 0, 0}))
	}
	e := readyEngine(t, &stubEngine{queryVec: []float32{1, 0, 0, 0}}, recs, Options{TopK: 4, Breadth: 20})

	results, err := e.Search(context.Background(), "q", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 4 {
		t.Errorf("got %d results, want the configured default of 4", len(results))
	}
}

func TestSearch_BlockedWhileBuilding(t *testing.T) {
	e := readyEngine(t, &stubEngine{queryVec: []float32{1, 0, 0, 0}}, nil, Options{})
	e.SetBuilding()

	if e.State() != StateBuilding {
		t.Errorf("state = %s, want building", e.State())
	}
	if _, err := e.Search(context.Background(), "q", 3); !errors.Is(err, ErrNotReady) {
		t.Errorf("err = %v, want ErrNotReady", err)
	}
}

func TestSearch_SummariesAttached(t *testing.T) {
	stub := &stubEngine{
		queryVec: []float32{1, 0, 0, 0},
		chatResp: "Six years of AWS infrastructure work.",
	}
	recs := []retrieval.Record{
		chunkRecord("c0", "c.pdf", 0, []float32{1, 0, 0, 0}),
	}

	path := filepath.Join(t.TempDir(), "resumes.db")
	writeIndex(t, path, "nomic-embed-text", recs)

	e := New(
		retrieval.NewEmbedder(stub, "nomic-embed-text"),
		NewSummarizer(stub, "llama3.2"),
		Options{})
	if err := e.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer e.Close()

	results, err := e.Search(context.Background(), "AWS engineer", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if results[0].Summary != "Six years of AWS infrastructure work." {
		t.Errorf("summary = %q", results[0].Summary)
	}
	if stub.chatCalls.Load() != 1 {
		t.Errorf("chat calls = %d, want 1", stub.chatCalls.Load())
	}
}

func TestSearch_SummaryFailureKeepsResult(t *testing.T) {
	stub := &stubEngine{
		queryVec: []float32{1, 0, 0, 0},
		chatErr:  errors.New("generation model unavailable"),
	}
	recs := []retrieval.Record{
		chunkRecord("c0", "c.pdf", 0, []float32{1, 0, 0, 0}),
	}

	path := filepath.Join(t.TempDir(), "resumes.db")
	writeIndex(t, path, "nomic-embed-text", recs)

	e := New(
		retrieval.NewEmbedder(stub, "nomic-embed-text"),
		NewSummarizer(stub, "llama3.2"),
		Options{})
	if err := e.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer e.Close()

	results, err := e.Search(context.Background(), "q", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Summary != "" {
		t.Errorf("summary = %q, want empty after generation failure", results[0].Summary)
	}
}
