package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/talentsift/talentsift/internal/retrieval"
	"github.com/talentsift/talentsift/internal/storage"
)

// State is the query engine lifecycle state. Search is only valid in Ready.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateBuilding      State = "building"
	StateReady         State = "ready"
	StateFailed        State = "failed"
)

var (
	// ErrNotReady is returned by Search while no consistent index is loaded.
	ErrNotReady = errors.New("index not ready")
	// ErrModelMismatch is returned by Load when the index was built with a
	// different embedding model than the one configured.
	ErrModelMismatch = errors.New("index embedding model mismatch")
)

// Aggregation policies for folding chunk scores into a document score.
const (
	PolicyMax  = "max"
	PolicyMean = "mean"
)

// Options tune ranking behavior.
type Options struct {
	// TopK is the default number of documents returned per query.
	TopK int
	// Breadth is how many chunks are retrieved before per-document
	// aggregation. Clamped to at least the effective k.
	Breadth int
	// MinSimilarity drops chunks scoring below this floor before aggregation.
	MinSimilarity float32
	// Policy is PolicyMax (default) or PolicyMean.
	Policy string
}

// MatchedChunk is one chunk of a result document that scored above the floor.
type MatchedChunk struct {
	Ordinal int     `json:"ordinal"`
	Text    string  `json:"text"`
	Score   float32 `json:"score"`
}

// Result is one ranked document with its matched excerpts and an optional
// LLM-generated justification.
type Result struct {
	DocPath string         `json:"doc_path"`
	Score   float32        `json:"score"`
	Chunks  []MatchedChunk `json:"chunks"`
	Summary string         `json:"summary,omitempty"`
}

// excerptRunes caps how much chunk text is carried on a result.
const excerptRunes = 280

// Engine answers free-text queries against a loaded index snapshot.
type Engine struct {
	embedder   *retrieval.Embedder
	summarizer *Summarizer
	opts       Options

	mu      sync.RWMutex
	state   State
	store   *storage.Store
	vectors *retrieval.SQLiteStore
	meta    storage.IndexMeta
	lastErr error
}

// New creates an Engine in the Uninitialized state. summarizer may be nil,
// in which case results carry no justification text.
func New(embedder *retrieval.Embedder, summarizer *Summarizer, opts Options) *Engine {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.Policy == "" {
		opts.Policy = PolicyMax
	}
	return &Engine{
		embedder:   embedder,
		summarizer: summarizer,
		opts:       opts,
		state:      StateUninitialized,
	}
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Meta returns the loaded index metadata; ok is false unless Ready.
func (e *Engine) Meta() (meta storage.IndexMeta, ok bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.meta, e.state == StateReady
}

// SetBuilding marks the engine as mid-build. Queries fail with ErrNotReady
// until Load succeeds.
func (e *Engine) SetBuilding() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.store != nil {
		e.store.Close()
		e.store = nil
		e.vectors = nil
	}
	e.state = StateBuilding
}

// Load opens the index snapshot at path and verifies it is consistent with
// the configured embedding model. On success the engine transitions to Ready;
// on failure to Failed, and the error explains why.
func (e *Engine) Load(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.store != nil {
		e.store.Close()
		e.store = nil
		e.vectors = nil
	}

	fail := func(err error) error {
		e.state = StateFailed
		e.lastErr = err
		return err
	}

	store, err := storage.Open(path)
	if err != nil {
		return fail(fmt.Errorf("opening index: %w", err))
	}

	meta, err := store.Meta()
	if err != nil {
		store.Close()
		if errors.Is(err, storage.ErrNoMeta) {
			return fail(fmt.Errorf("%w: index at %s was never finalized", ErrNotReady, path))
		}
		return fail(fmt.Errorf("reading index metadata: %w", err))
	}

	if meta.EmbedModel != e.embedder.Model() {
		store.Close()
		return fail(fmt.Errorf("%w: index built with %q, config uses %q; rebuild the index",
			ErrModelMismatch, meta.EmbedModel, e.embedder.Model()))
	}

	e.store = store
	e.vectors = retrieval.NewSQLiteStore(store.DB())
	e.meta = meta
	e.state = StateReady
	e.lastErr = nil
	return nil
}

// Close releases the underlying index snapshot.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.store == nil {
		return nil
	}
	err := e.store.Close()
	e.store = nil
	e.vectors = nil
	e.state = StateUninitialized
	return err
}

// Search returns up to k ranked documents for the query. k <= 0 uses the
// configured default. An empty index, or no chunk above the similarity
// floor, yields an empty list and no error.
func (e *Engine) Search(ctx context.Context, query string, k int) ([]Result, error) {
	e.mu.RLock()
	state := e.state
	vectors := e.vectors
	lastErr := e.lastErr
	e.mu.RUnlock()

	if state != StateReady {
		if lastErr != nil {
			return nil, fmt.Errorf("%w (%s): %v", ErrNotReady, state, lastErr)
		}
		return nil, fmt.Errorf("%w (%s)", ErrNotReady, state)
	}

	if k <= 0 {
		k = e.opts.TopK
	}
	breadth := e.opts.Breadth
	if breadth < k {
		breadth = k * 4
	}

	qvec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	scored, err := vectors.Search(qvec, breadth)
	if err != nil {
		return nil, fmt.Errorf("searching index: %w", err)
	}

	results := e.rank(scored, k)
	if len(results) == 0 {
		return []Result{}, nil
	}

	if e.summarizer != nil {
		e.summarizer.Annotate(ctx, query, results)
	}
	return results, nil
}

// rank folds chunk hits into per-document results: floor filter, aggregate
// per the policy, order by score descending with a lexicographic path
// tie-break, truncate to k.
func (e *Engine) rank(scored []retrieval.ScoredRecord, k int) []Result {
	byDoc := make(map[string][]retrieval.ScoredRecord)
	for _, rec := range scored {
		if rec.Score < e.opts.MinSimilarity {
			continue
		}
		byDoc[rec.DocPath] = append(byDoc[rec.DocPath], rec)
	}

	results := make([]Result, 0, len(byDoc))
	for path, recs := range byDoc {
		sort.Slice(recs, func(i, j int) bool { return recs[i].Score > recs[j].Score })

		chunks := make([]MatchedChunk, 0, len(recs))
		for _, rec := range recs {
			chunks = append(chunks, MatchedChunk{
				Ordinal: rec.Ordinal,
				Text:    truncateRunes(rec.TextChunk, excerptRunes),
				Score:   rec.Score,
			})
		}
		results = append(results, Result{
			DocPath: path,
			Score:   aggregate(recs, e.opts.Policy),
			Chunks:  chunks,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].DocPath < results[j].DocPath
	})

	if len(results) > k {
		results = results[:k]
	}
	return results
}

func aggregate(recs []retrieval.ScoredRecord, policy string) float32 {
	if len(recs) == 0 {
		return 0
	}
	if policy == PolicyMean {
		var sum float32
		for _, r := range recs {
			sum += r.Score
		}
		return sum / float32(len(recs))
	}
	// recs arrive sorted descending; max is the head.
	return recs[0].Score
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
