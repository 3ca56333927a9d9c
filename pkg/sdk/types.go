package ragdex

// Chunk is a retrieved slice of a source document.
type Chunk struct {
	Source string
	Index  int
	Text   string
}

// Citation is a retrieved chunk with its semantic score in percent.
type Citation struct {
	Source string
	Index  int
	Text   string
	Score  int
}

// Answer is the result of Query.
type Answer struct {
	Answer    string
	Citations []Citation
	// Outcome is one of "answered", "refused", "degraded", "failed".
	Outcome string
}

// Stream event types.
const (
	EventChunks = "chunks"
	EventToken  = "token"
	EventDone   = "done"
)

// StreamEvent is one element of a streamed answer.
type StreamEvent struct {
	Type      string
	Citations []Citation
	Token     string
}

// IngestResult describes one ingestion.
type IngestResult struct {
	// Status is "processed" or "empty".
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

// ChunkingParams configures the splitter. Sizes are in characters.
type ChunkingParams struct {
	MinSize       int
	MaxSize       int
	Overlap       int
	MinChunkChars int
	MinSliceChars int
}

// RetrievalOptions configures the hybrid scorer.
type RetrievalOptions struct {
	TopK           int
	Threshold      float64
	SemanticWeight float64
}
