package storage

import "time"

// Document status values stored in the provenance table.
const (
	StatusIndexed     = "indexed"     // extracted, chunked and embedded
	StatusEmpty       = "empty"       // extraction too short to index
	StatusUnreadable  = "unreadable"  // extraction or embedding failed
	StatusUnsupported = "unsupported" // format recognized but not extractable
)

// DocumentRecord is the per-document provenance row kept alongside the
// vectors. It is everything an incremental build needs to decide whether a
// source file must be re-processed, without re-reading the file itself.
type DocumentRecord struct {
	Path        string
	Format      string
	Fingerprint string
	Status      string
	ChunkCount  int
	ExtractedAt time.Time
}

// IndexMeta describes how the index was built. An index is only queryable
// when EmbedModel and Dimensions agree with the current configuration.
type IndexMeta struct {
	EmbedModel    string
	Dimensions    int
	DocumentCount int
	BuiltAt       time.Time
}
