package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Document is the extracted text of a single resume file, plus provenance.
type Document struct {
	Path        string
	Format      string
	Text        string
	Fingerprint string
	ExtractedAt time.Time
}

// Failure records a file that could not be processed. Failures are collected
// and reported; they never abort the rest of the batch.
type Failure struct {
	Path   string
	Reason string
}

// FileRef identifies a candidate file before extraction. Fingerprint is the
// sha256 of the raw bytes, used to detect changed documents between builds.
type FileRef struct {
	Path        string
	Format      string
	Fingerprint string
}

// Loader scans a directory for resume files and extracts their text.
type Loader struct {
	dir        string
	extensions map[string]bool
	logger     *slog.Logger
}

// NewLoader creates a Loader over dir accepting the given extensions
// (e.g. ".pdf", ".docx"). An empty list means the default resume formats.
func NewLoader(dir string, extensions []string) *Loader {
	if len(extensions) == 0 {
		extensions = []string{".pdf", ".docx", ".doc", ".txt", ".md"}
	}
	allow := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		allow[strings.ToLower(ext)] = true
	}
	return &Loader{dir: dir, extensions: allow, logger: slog.Default()}
}

// Scan walks the source directory and returns a FileRef for every file whose
// extension is in the allow-list, sorted by path. Files that cannot be read
// are reported as failures. A missing or unreadable directory is an error.
func (l *Loader) Scan() ([]FileRef, []Failure, error) {
	if _, err := os.Stat(l.dir); err != nil {
		return nil, nil, fmt.Errorf("source directory %s: %w", l.dir, err)
	}

	var refs []FileRef
	var failures []Failure

	err := filepath.WalkDir(l.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			failures = append(failures, Failure{Path: path, Reason: err.Error()})
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if d.Name() != "." && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		if !l.extensions[ext] {
			return nil
		}

		fp, err := fingerprint(path)
		if err != nil {
			failures = append(failures, Failure{Path: path, Reason: fmt.Sprintf("hashing: %v", err)})
			return nil
		}

		refs = append(refs, FileRef{
			Path:        path,
			Format:      strings.TrimPrefix(ext, "."),
			Fingerprint: fp,
		})
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("scanning %s: %w", l.dir, err)
	}

	sort.Slice(refs, func(i, j int) bool { return refs[i].Path < refs[j].Path })
	return refs, failures, nil
}

// Extract reads the file behind ref and returns its raw text. Legacy .doc
// files are rejected with a conversion hint; unknown formats should never
// reach here because Scan filters on the allow-list.
func (l *Loader) Extract(ctx context.Context, ref FileRef) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}

	var text string
	var err error
	switch ref.Format {
	case "pdf":
		text, err = extractPDF(ref.Path)
	case "docx":
		text, err = extractDOCX(ref.Path)
	case "doc":
		err = fmt.Errorf("legacy .doc format is not supported; convert to .docx")
	case "txt", "md":
		text, err = readTextFile(ref.Path)
	default:
		err = fmt.Errorf("unsupported format %q", ref.Format)
	}
	if err != nil {
		return Document{}, err
	}

	return Document{
		Path:        ref.Path,
		Format:      ref.Format,
		Text:        text,
		Fingerprint: ref.Fingerprint,
		ExtractedAt: time.Now().UTC(),
	}, nil
}

func readTextFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading file: %w", err)
	}
	return string(data), nil
}

func fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
