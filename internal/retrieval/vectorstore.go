package retrieval

import "time"

// Record is one embedded resume chunk as persisted in the index.
type Record struct {
	ID        string
	DocPath   string
	Ordinal   int
	TextChunk string
	Embedding []float32
	CreatedAt time.Time
}

// ScoredRecord is a Record with a cosine similarity score attached.
type ScoredRecord struct {
	Record
	Score float32
}

// VectorStore is the interface for vector persistence and similarity search.
// The default implementation is SQLite with brute-force cosine similarity,
// which is comfortable up to roughly 100K chunks; an ANN-backed
// implementation can replace it behind this interface if a corpus outgrows
// that.
type VectorStore interface {
	// Insert adds records to the index.
	Insert(records []Record) error

	// Search returns the top-K records most similar to vector,
	// ordered by score descending.
	Search(vector []float32, topK int) ([]ScoredRecord, error)

	// DeleteByDocument removes every record belonging to the given source path.
	DeleteByDocument(docPath string) error

	// Count returns the number of records in the index.
	Count() (int, error)
}
