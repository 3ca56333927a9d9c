package domain

import "time"

// Source types reported by extractors.
const (
	SourceTypePDF      = "pdf"
	SourceTypeDOCX     = "docx"
	SourceTypeXLSX     = "xlsx"
	SourceTypeText     = "txt"
	SourceTypeMarkdown = "md"
	SourceTypeHTML     = "html"
	SourceTypeXML      = "xml"
	SourceTypeImage    = "image"
	SourceTypeURL      = "url"
	SourceTypeUnknown  = "unknown"
)

// Ingestion outcomes.
const (
	IngestStatusProcessed = "processed"
	IngestStatusEmpty     = "empty"
	IngestStatusFailed    = "failed"
)

// Document is the bookkeeping record of an ingested source. Scoring never reads it.
type Document struct {
	Filename   string
	SourceType string
	CharCount  int
	Chunks     int
	IngestedAt time.Time
}

// IngestResult reports the outcome of one ingestion attempt.
type IngestResult struct {
	Status        string
	Filename      string
	SourceType    string
	ChunksCreated int
	CharCount     int
}

// Stats summarizes the in-memory corpus.
type Stats struct {
	Documents   int
	Chunks      int
	SourceTypes map[string]int
}
