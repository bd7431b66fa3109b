package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/talentsift/talentsift/internal/engine"
)

const (
	summaryConcurrency = 3
	summaryTimeout     = 30 * time.Second
	// promptExcerpts bounds how many matched chunks go into the prompt.
	promptExcerpts = 3
)

// Summarizer generates a short per-result justification of why a resume
// matched the query. Generation is best-effort: a failed or timed-out call
// leaves the result with an empty summary, never an error.
type Summarizer struct {
	engine engine.Engine
	model  string
	logger *slog.Logger
}

// NewSummarizer creates a Summarizer using the given generation model.
func NewSummarizer(eng engine.Engine, model string) *Summarizer {
	return &Summarizer{engine: eng, model: model, logger: slog.Default()}
}

// Annotate fills in Summary on each result, running at most
// summaryConcurrency generations in parallel. Each goroutine owns one result
// slot, so no synchronization of the slice itself is needed.
func (s *Summarizer) Annotate(ctx context.Context, query string, results []Result) {
	if len(results) == 0 || s.model == "" {
		return
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, summaryTimeout)
	defer cancel()

	sem := make(chan struct{}, summaryConcurrency)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-timeoutCtx.Done():
				return
			}
			defer func() { <-sem }()

			summary, err := s.summarize(timeoutCtx, query, results[i])
			if err != nil {
				if timeoutCtx.Err() == nil {
					s.logger.Debug("summary generation failed, result kept without one",
						"doc", results[i].DocPath, "error", err)
				}
				return
			}
			results[i].Summary = summary
		}()
	}
	wg.Wait()
}

func (s *Summarizer) summarize(ctx context.Context, query string, res Result) (string, error) {
	var sb strings.Builder
	sb.WriteString("A recruiter searched for: ")
	sb.WriteString(query)
	sb.WriteString("\n\nExcerpts from a candidate's resume:\n")
	for i, chunk := range res.Chunks {
		if i >= promptExcerpts {
			break
		}
		sb.WriteString("- ")
		sb.WriteString(chunk.Text)
		sb.WriteString("\n")
	}
	sb.WriteString("\nIn one or two sentences, explain why this candidate matches the search. " +
		"Mention concrete skills or experience from the excerpts. Do not invent details.")

	resp, err := s.engine.Chat(ctx, s.model, []engine.Message{
		{Role: "user", Content: sb.String()},
	})
	if err != nil {
		return "", fmt.Errorf("generating summary: %w", err)
	}
	return strings.TrimSpace(resp), nil
}
