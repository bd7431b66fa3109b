package index

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/talentsift/talentsift/internal/ingest"
	"github.com/talentsift/talentsift/internal/retrieval"
	"github.com/talentsift/talentsift/internal/storage"
)

// Mode selects how much of the source directory a build reprocesses.
type Mode string

const (
	// ModeFull rebuilds the index from scratch.
	ModeFull Mode = "full"
	// ModeIncremental reprocesses only new, changed and previously failed
	// documents, pruning documents that vanished from the source directory.
	ModeIncremental Mode = "incremental"
)

// BuildReport summarizes one build.
type BuildReport struct {
	DocumentsIndexed   int
	DocumentsSkipped   int
	DocumentsUnchanged int
	DocumentsRemoved   int
	ChunksEmbedded     int
	Elapsed            time.Duration
	Failures           []ingest.Failure
}

// Builder turns a directory of resume files into a queryable index snapshot.
// Builds happen in a staging file next to the live index; the live index is
// replaced atomically only when the build succeeds, so an aborted or failed
// build never damages the previous snapshot.
type Builder struct {
	loader      *ingest.Loader
	chunker     *ingest.Chunker
	embedder    *retrieval.Embedder
	indexPath   string
	concurrency int
	logger      *slog.Logger
}

// NewBuilder creates a Builder. concurrency bounds how many documents are
// embedded in parallel; values <= 0 default to 4.
func NewBuilder(loader *ingest.Loader, chunker *ingest.Chunker, embedder *retrieval.Embedder, indexPath string, concurrency int) *Builder {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Builder{
		loader:      loader,
		chunker:     chunker,
		embedder:    embedder,
		indexPath:   indexPath,
		concurrency: concurrency,
		logger:      slog.Default(),
	}
}

// Build runs a build in the given mode and returns its report. On error the
// previous index file, if any, is left untouched.
func (b *Builder) Build(ctx context.Context, mode Mode) (BuildReport, error) {
	start := time.Now()
	staging := b.indexPath + ".building"

	// A leftover staging file means a previous build died mid-flight.
	os.Remove(staging)

	prior, err := b.prepareStaging(mode, staging)
	if err != nil {
		return BuildReport{}, err
	}

	store, err := storage.Open(staging)
	if err != nil {
		os.Remove(staging)
		return BuildReport{}, fmt.Errorf("opening staging index: %w", err)
	}

	report, dims, err := b.run(ctx, store, prior)
	report.Elapsed = time.Since(start)
	if err != nil {
		store.Close()
		os.Remove(staging)
		return report, err
	}

	indexed := report.DocumentsIndexed + report.DocumentsUnchanged
	if indexed == 0 {
		store.Close()
		os.Remove(staging)
		return report, fmt.Errorf("no readable documents in source directory")
	}

	if err := store.SetMeta(storage.IndexMeta{
		EmbedModel:    b.embedder.Model(),
		Dimensions:    dims,
		DocumentCount: indexed,
		BuiltAt:       time.Now().UTC(),
	}); err != nil {
		store.Close()
		os.Remove(staging)
		return report, fmt.Errorf("finalizing index metadata: %w", err)
	}

	if err := store.Close(); err != nil {
		os.Remove(staging)
		return report, fmt.Errorf("closing staging index: %w", err)
	}
	if err := os.Rename(staging, b.indexPath); err != nil {
		os.Remove(staging)
		return report, fmt.Errorf("publishing index snapshot: %w", err)
	}

	b.logger.Info("index built",
		"mode", mode,
		"indexed", report.DocumentsIndexed,
		"unchanged", report.DocumentsUnchanged,
		"removed", report.DocumentsRemoved,
		"skipped", report.DocumentsSkipped,
		"chunks", report.ChunksEmbedded,
		"elapsed", report.Elapsed)
	return report, nil
}

// prepareStaging seeds the staging file for incremental builds by copying the
// live index, and returns the prior provenance map. A full build (or an
// incremental build with no live index) starts from an empty staging file and
// a nil map.
func (b *Builder) prepareStaging(mode Mode, staging string) (map[string]storage.DocumentRecord, error) {
	if mode != ModeIncremental {
		return nil, nil
	}

	if _, err := os.Stat(b.indexPath); err != nil {
		// Nothing to build on; fall back to a full build.
		return nil, nil
	}

	live, err := storage.Open(b.indexPath)
	if err != nil {
		return nil, fmt.Errorf("opening live index: %w", err)
	}
	defer live.Close()

	meta, err := live.Meta()
	if err != nil {
		return nil, fmt.Errorf("reading live index metadata: %w", err)
	}
	if meta.EmbedModel != b.embedder.Model() {
		return nil, fmt.Errorf("index was built with model %q but %q is configured; run a full rebuild",
			meta.EmbedModel, b.embedder.Model())
	}

	prior, err := live.Documents()
	if err != nil {
		return nil, fmt.Errorf("reading live index provenance: %w", err)
	}

	if err := copyFile(b.indexPath, staging); err != nil {
		return nil, fmt.Errorf("copying live index to staging: %w", err)
	}
	return prior, nil
}

// run processes the source directory into the staging store. It returns the
// vector dimensionality observed (or carried over from unchanged documents).
func (b *Builder) run(ctx context.Context, store *storage.Store, prior map[string]storage.DocumentRecord) (BuildReport, int, error) {
	var report BuildReport

	refs, scanFailures, err := b.loader.Scan()
	if err != nil {
		return report, 0, err
	}
	report.Failures = append(report.Failures, scanFailures...)
	report.DocumentsSkipped += len(scanFailures)

	vectors := retrieval.NewSQLiteStore(store.DB())

	// Diff against the prior snapshot: unchanged documents keep their rows,
	// changed and previously failed ones are reprocessed, vanished ones are
	// pruned.
	var pending []ingest.FileRef
	seen := make(map[string]bool, len(refs))
	for _, ref := range refs {
		seen[ref.Path] = true
		if old, ok := prior[ref.Path]; ok &&
			old.Fingerprint == ref.Fingerprint &&
			old.Status != storage.StatusUnreadable {
			if old.Status == storage.StatusIndexed {
				report.DocumentsUnchanged++
			} else {
				report.DocumentsSkipped++
			}
			continue
		}
		pending = append(pending, ref)
	}
	for path := range prior {
		if seen[path] {
			continue
		}
		if err := store.DeleteDocument(path); err != nil {
			return report, 0, fmt.Errorf("pruning vanished document: %w", err)
		}
		report.DocumentsRemoved++
	}

	var (
		mu   sync.Mutex
		dims int
	)
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)

	var cancelled error
	for _, ref := range pending {
		if err := ctx.Err(); err != nil {
			// Stop submitting, but drain in-flight workers before the
			// caller closes and deletes the staging store.
			cancelled = err
			break
		}
		g.Go(func() error {
			doc, records, err := b.processDocument(gCtx, ref)

			mu.Lock()
			defer mu.Unlock()

			// The prior snapshot may still hold this document's old vectors;
			// drop them whether the fresh pass succeeded or not, so a stale
			// version is never served.
			if _, existed := prior[ref.Path]; existed {
				if delErr := vectors.DeleteByDocument(ref.Path); delErr != nil {
					return fmt.Errorf("replacing records for %s: %w", ref.Path, delErr)
				}
			}

			if err != nil {
				if gCtx.Err() != nil {
					return gCtx.Err()
				}
				b.logger.Warn("document skipped", "path", ref.Path, "error", err)
				report.DocumentsSkipped++
				report.Failures = append(report.Failures, ingest.Failure{Path: ref.Path, Reason: err.Error()})
				doc.Status = failureStatus(err)
				return store.UpsertDocument(doc)
			}

			if len(records) == 0 {
				report.DocumentsSkipped++
				return store.UpsertDocument(doc)
			}

			if dims == 0 {
				dims = len(records[0].Embedding)
			}
			if err := vectors.Insert(records); err != nil {
				return fmt.Errorf("inserting records for %s: %w", ref.Path, err)
			}
			if err := store.UpsertDocument(doc); err != nil {
				return err
			}
			report.DocumentsIndexed++
			report.ChunksEmbedded += len(records)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return report, 0, err
	}
	if cancelled != nil {
		return report, 0, cancelled
	}

	// An incremental build with nothing changed still needs the prior
	// dimensionality for the refreshed metadata.
	if dims == 0 && report.DocumentsUnchanged > 0 {
		meta, err := store.Meta()
		if err != nil {
			return report, 0, fmt.Errorf("reading carried-over metadata: %w", err)
		}
		dims = meta.Dimensions
	}

	return report, dims, nil
}

// chunkParallelism bounds how many chunks of one document are embedded at
// once. Document-level parallelism is bounded separately by the builder.
const chunkParallelism = 2

// processDocument extracts, normalizes, chunks and embeds one file. The
// returned DocumentRecord is valid even when err != nil, so failures can be
// recorded in provenance.
func (b *Builder) processDocument(ctx context.Context, ref ingest.FileRef) (storage.DocumentRecord, []retrieval.Record, error) {
	rec := storage.DocumentRecord{
		Path:        ref.Path,
		Format:      ref.Format,
		Fingerprint: ref.Fingerprint,
		Status:      storage.StatusUnreadable,
		ExtractedAt: time.Now().UTC(),
	}

	doc, err := b.loader.Extract(ctx, ref)
	if err != nil {
		return rec, nil, err
	}
	rec.ExtractedAt = doc.ExtractedAt

	text := ingest.Normalize(doc.Text)
	if !ingest.Indexable(text) {
		rec.Status = storage.StatusEmpty
		return rec, nil, nil
	}

	chunks := b.chunker.Split(text)
	vecs, err := b.embedder.EmbedBatch(ctx, chunks, chunkParallelism)
	if err != nil {
		return rec, nil, fmt.Errorf("embedding chunks: %w", err)
	}

	now := time.Now().UTC()
	records := make([]retrieval.Record, 0, len(chunks))
	for ordinal, chunk := range chunks {
		records = append(records, retrieval.Record{
			ID:        uuid.New().String(),
			DocPath:   doc.Path,
			Ordinal:   ordinal,
			TextChunk: chunk,
			Embedding: vecs[ordinal],
			CreatedAt: now,
		})
	}

	rec.Status = storage.StatusIndexed
	rec.ChunkCount = len(records)
	return rec, records, nil
}

func failureStatus(err error) string {
	if strings.Contains(err.Error(), "not supported") {
		return storage.StatusUnsupported
	}
	return storage.StatusUnreadable
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
