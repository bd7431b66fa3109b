package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/talentsift/talentsift/internal/index"
	"github.com/talentsift/talentsift/internal/search"
	"github.com/talentsift/talentsift/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Searcher is the query-engine surface the HTTP and MCP layers depend on.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]search.Result, error)
	State() search.State
	Meta() (storage.IndexMeta, bool)
}

// RebuildFunc runs a build and reloads the query engine. Wired up by the
// command layer, which owns both the builder and the engine.
type RebuildFunc func(ctx context.Context, mode index.Mode) (index.BuildReport, error)

// Deps holds everything the HTTP handlers need.
type Deps struct {
	Searcher Searcher
	Rebuild  RebuildFunc
	Token    string // empty disables bearer auth
}

// NewHandler returns the HTTP surface: POST /search, POST /build, GET /status.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	if deps.Token != "" {
		r.Use(BearerAuth(deps.Token))
	}

	var buildMu sync.Mutex

	r.Post("/search", handleSearch(deps))
	r.Post("/build", handleBuild(deps, &buildMu))
	r.Get("/status", handleStatus(deps))

	return r
}

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type searchResponse struct {
	Query   string          `json:"query"`
	Results []search.Result `json:"results"`
}

func handleSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req searchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
			return
		}

		results, err := deps.Searcher.Search(r.Context(), req.Query, req.TopK)
		if errors.Is(err, search.ErrNotReady) {
			httpError(w, http.StatusConflict, "index_not_ready", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "search failed: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(searchResponse{Query: req.Query, Results: results})
	}
}

type buildRequest struct {
	Mode string `json:"mode"`
}

type buildResponse struct {
	DocumentsIndexed   int      `json:"documents_indexed"`
	DocumentsSkipped   int      `json:"documents_skipped"`
	DocumentsUnchanged int      `json:"documents_unchanged"`
	DocumentsRemoved   int      `json:"documents_removed"`
	ChunksEmbedded     int      `json:"chunks_embedded"`
	ElapsedSeconds     float64  `json:"elapsed_seconds"`
	Failures           []string `json:"failures,omitempty"`
}

func handleBuild(deps Deps, buildMu *sync.Mutex) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		// An empty body means an incremental build.
		var req buildRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		mode := index.ModeIncremental
		switch req.Mode {
		case "", "incremental":
		case "full":
			mode = index.ModeFull
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "mode must be \"full\" or \"incremental\"")
			return
		}

		if !buildMu.TryLock() {
			httpError(w, http.StatusConflict, "build_in_progress", "a build is already running")
			return
		}
		defer buildMu.Unlock()

		report, err := deps.Rebuild(r.Context(), mode)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "build_error", "build failed: %v", err)
			return
		}

		resp := buildResponse{
			DocumentsIndexed:   report.DocumentsIndexed,
			DocumentsSkipped:   report.DocumentsSkipped,
			DocumentsUnchanged: report.DocumentsUnchanged,
			DocumentsRemoved:   report.DocumentsRemoved,
			ChunksEmbedded:     report.ChunksEmbedded,
			ElapsedSeconds:     report.Elapsed.Seconds(),
		}
		for _, f := range report.Failures {
			resp.Failures = append(resp.Failures, fmt.Sprintf("%s: %s", f.Path, f.Reason))
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

type statusResponse struct {
	State      string `json:"state"`
	Documents  int    `json:"documents,omitempty"`
	EmbedModel string `json:"embed_model,omitempty"`
	Dimensions int    `json:"dimensions,omitempty"`
	BuiltAt    string `json:"built_at,omitempty"`
}

func handleStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := statusResponse{State: string(deps.Searcher.State())}
		if meta, ok := deps.Searcher.Meta(); ok {
			resp.Documents = meta.DocumentCount
			resp.EmbedModel = meta.EmbedModel
			resp.Dimensions = meta.Dimensions
			resp.BuiltAt = meta.BuiltAt.UTC().Format(time.RFC3339)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
