package domain

// SourceRecord is one non-empty line of the ingestion corpus. Immutable;
// discarded once embedded.
type SourceRecord struct {
	Text       string
	Source     string
	LineNumber int // 1-based position in the original file
}

// IndexedRecord is what the vector store persists: a decimal string id
// unique within the collection, the embedding, and the payload fields the
// search path projects back out.
type IndexedRecord struct {
	ID         string
	Vector     []float32
	Text       string
	Source     string
	LineNumber int
}
