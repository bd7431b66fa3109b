package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/talentsift/talentsift/internal/config"
	"github.com/talentsift/talentsift/internal/engine"
	"github.com/talentsift/talentsift/internal/index"
	"github.com/talentsift/talentsift/internal/ingest"
	"github.com/talentsift/talentsift/internal/retrieval"
	"github.com/talentsift/talentsift/internal/search"
	"github.com/talentsift/talentsift/internal/storage"
)

const timeRound = 10 * time.Millisecond

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// newBuilder wires the full ingest-to-index pipeline from config.
func newBuilder(cfg config.Config, eng engine.Engine) (*index.Builder, error) {
	chunker, err := ingest.NewChunker(cfg.Index.ChunkSize, cfg.Index.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	loader := ingest.NewLoader(cfg.Source.Dir, cfg.Source.Extensions)
	embedder := retrieval.NewEmbedder(eng, cfg.Ollama.EmbedModel)
	return index.NewBuilder(loader, chunker, embedder, cfg.Index.Path, cfg.Index.Concurrency), nil
}

// newQueryEngine wires the query side from config. withSummaries controls
// whether a generation model is attached.
func newQueryEngine(cfg config.Config, eng engine.Engine, withSummaries bool) *search.Engine {
	var summarizer *search.Summarizer
	if withSummaries && cfg.Ollama.GenModel != "" {
		summarizer = search.NewSummarizer(eng, cfg.Ollama.GenModel)
	}
	return search.New(
		retrieval.NewEmbedder(eng, cfg.Ollama.EmbedModel),
		summarizer,
		search.Options{
			TopK:          cfg.Search.TopK,
			Breadth:       cfg.Search.Breadth,
			MinSimilarity: cfg.Search.MinSimilarity,
			Policy:        cfg.Search.Policy,
		})
}

// --- index ---

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build or update the resume index",
	Long: `Build or update the resume index.

By default only new, changed, and previously failed files are
re-embedded. Use --rebuild to re-index everything from scratch.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rebuild, _ := cmd.Flags().GetBool("rebuild")

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}

		ctx, stop := signalContext()
		defer stop()

		eng := engine.NewOllamaEngine(cfg.Ollama.BaseURL)
		if err := engine.EnsureReady(ctx, eng, cfg.Ollama.EmbedModel); err != nil {
			return err
		}

		builder, err := newBuilder(cfg, eng)
		if err != nil {
			return err
		}

		mode := index.ModeIncremental
		if rebuild {
			mode = index.ModeFull
		}

		printStep("Indexing resumes from %s", cfg.Source.Dir)
		report, err := builder.Build(ctx, mode)
		if err != nil {
			printError("Index build failed: %v", err)
			return err
		}

		printSuccess("Indexed %d documents (%d chunks) in %s",
			report.DocumentsIndexed, report.ChunksEmbedded, report.Elapsed.Round(timeRound))
		if report.DocumentsUnchanged > 0 {
			printStatus("unchanged", "%d", report.DocumentsUnchanged)
		}
		if report.DocumentsRemoved > 0 {
			printStatus("removed", "%d", report.DocumentsRemoved)
		}
		if report.DocumentsSkipped > 0 {
			printStatus("skipped", "%d", report.DocumentsSkipped)
		}
		for _, f := range report.Failures {
			printWarning("%s: %s", f.Path, f.Reason)
		}
		return nil
	},
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search indexed resumes with a free-text query",
	Long: `Search indexed resumes with a free-text query.

Examples:
  talentsift search "senior Go engineer with Kubernetes experience"
  talentsift search --top 10 --no-summary "AWS DevOps"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		top, _ := cmd.Flags().GetInt("top")
		noSummary, _ := cmd.Flags().GetBool("no-summary")

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}

		ctx, stop := signalContext()
		defer stop()

		eng := engine.NewOllamaEngine(cfg.Ollama.BaseURL)
		models := []string{cfg.Ollama.EmbedModel}
		if !noSummary {
			models = append(models, cfg.Ollama.GenModel)
		}
		if err := engine.EnsureReady(ctx, eng, models...); err != nil {
			return err
		}

		qe := newQueryEngine(cfg, eng, !noSummary)
		if err := qe.Load(cfg.Index.Path); err != nil {
			if errors.Is(err, search.ErrNotReady) || errors.Is(err, search.ErrModelMismatch) {
				printError("%v", err)
				printStep("Run `talentsift index` to build the index")
			}
			return err
		}
		defer qe.Close()

		query := strings.Join(args, " ")
		results, err := qe.Search(ctx, query, top)
		if err != nil {
			return err
		}

		if len(results) == 0 {
			printWarning("No matching resumes found")
			return nil
		}

		for i, res := range results {
			fmt.Printf("%s %s %s\n",
				colorize(colorBold, fmt.Sprintf("%d.", i+1)),
				res.DocPath,
				colorize(colorCyan, fmt.Sprintf("(%.3f)", res.Score)))
			if res.Summary != "" {
				fmt.Printf("   %s\n", res.Summary)
			}
			if len(res.Chunks) > 0 {
				fmt.Printf("   %s\n", colorize(colorYellow, firstLine(res.Chunks[0].Text)))
			}
			fmt.Println()
		}
		return nil
	},
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index state and document counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}

		if _, err := os.Stat(cfg.Index.Path); err != nil {
			printWarning("No index at %s", cfg.Index.Path)
			printStep("Run `talentsift index` to build one")
			return nil
		}

		store, err := storage.Open(cfg.Index.Path)
		if err != nil {
			return fmt.Errorf("opening index: %w", err)
		}
		defer store.Close()

		meta, err := store.Meta()
		if errors.Is(err, storage.ErrNoMeta) {
			printWarning("Index at %s was never finalized; rebuild it", cfg.Index.Path)
			return nil
		}
		if err != nil {
			return err
		}

		docs, err := store.Documents()
		if err != nil {
			return err
		}

		var failed int
		for _, d := range docs {
			if d.Status == storage.StatusUnreadable || d.Status == storage.StatusUnsupported {
				failed++
			}
		}

		printSuccess("Index ready")
		printStatus("path", "%s", cfg.Index.Path)
		printStatus("documents", "%d indexed, %d failed", meta.DocumentCount, failed)
		printStatus("model", "%s (%d dimensions)", meta.EmbedModel, meta.Dimensions)
		printStatus("built", "%s", meta.BuiltAt.Local().Format("2006-01-02 15:04:05"))
		return nil
	},
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	runes := []rune(s)
	if len(runes) > 100 {
		s = string(runes[:100]) + "…"
	}
	return s
}

func init() {
	indexCmd.Flags().Bool("rebuild", false, "re-index everything from scratch")
	searchCmd.Flags().Int("top", 0, "number of candidates to return (default from config)")
	searchCmd.Flags().Bool("no-summary", false, "skip LLM match justifications")
}
