package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx", "index.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if s.Path() != path {
		t.Errorf("Path() = %q, want %q", s.Path(), path)
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	s.Close()

	// Reopening must not attempt to re-apply migrations.
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	s2.Close()
}

func TestDocumentRoundTrip(t *testing.T) {
	s := openTestStore(t)

	doc := DocumentRecord{
		Path:        "resumes/a.pdf",
		Format:      "pdf",
		Fingerprint: "abc123",
		Status:      "ok",
		ChunkCount:  3,
		ExtractedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := s.UpsertDocument(doc); err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}

	docs, err := s.Documents()
	if err != nil {
		t.Fatalf("Documents: %v", err)
	}
	got, ok := docs["resumes/a.pdf"]
	if !ok {
		t.Fatal("document not found after upsert")
	}
	if got.Fingerprint != "abc123" || got.ChunkCount != 3 || got.Format != "pdf" {
		t.Errorf("got %+v, want %+v", got, doc)
	}

	// Upsert with new fingerprint replaces the row.
	doc.Fingerprint = "def456"
	if err := s.UpsertDocument(doc); err != nil {
		t.Fatalf("second UpsertDocument: %v", err)
	}
	docs, err = s.Documents()
	if err != nil {
		t.Fatalf("Documents: %v", err)
	}
	if docs["resumes/a.pdf"].Fingerprint != "def456" {
		t.Errorf("fingerprint = %q, want def456", docs["resumes/a.pdf"].Fingerprint)
	}
	if len(docs) != 1 {
		t.Errorf("got %d documents, want 1", len(docs))
	}
}

func TestDeleteDocumentRemovesVectors(t *testing.T) {
	s := openTestStore(t)

	if err := s.UpsertDocument(DocumentRecord{
		Path: "a.pdf", Format: "pdf", Fingerprint: "f", Status: "ok",
		ChunkCount: 1, ExtractedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}
	if _, err := s.DB().Exec(
		`INSERT INTO resume_vectors (id, doc_path, ordinal, text_chunk, embedding) VALUES (?, ?, ?, ?, ?)`,
		"v1", "a.pdf", 0, "text", []byte{0, 0, 0, 0}); err != nil {
		t.Fatalf("inserting vector: %v", err)
	}

	if err := s.DeleteDocument("a.pdf"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}

	var n int
	if err := s.DB().QueryRow("SELECT COUNT(*) FROM resume_vectors").Scan(&n); err != nil {
		t.Fatalf("counting vectors: %v", err)
	}
	if n != 0 {
		t.Errorf("got %d vectors after delete, want 0", n)
	}
}

func TestMetaRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.Meta(); !errors.Is(err, ErrNoMeta) {
		t.Fatalf("Meta on fresh index: got %v, want ErrNoMeta", err)
	}

	builtAt := time.Now().UTC().Truncate(time.Second)
	want := IndexMeta{
		EmbedModel:    "nomic-embed-text",
		Dimensions:    768,
		DocumentCount: 42,
		BuiltAt:       builtAt,
	}
	if err := s.SetMeta(want); err != nil {
		t.Fatalf("SetMeta: %v", err)
	}

	got, err := s.Meta()
	if err != nil {
		t.Fatalf("Meta: %v", err)
	}
	if got != want {
		t.Errorf("Meta = %+v, want %+v", got, want)
	}
}
