package domain

// Fixed answers returned by the query flow instead of errors.
const (
	// RefusalAnswer is returned when retrieval yields no usable context.
	RefusalAnswer = "The provided documents do not contain sufficient information to answer this question."
	// DegradedAnswer replaces a synchronous answer when generation fails.
	DegradedAnswer = "Unable to synchronize answer generation."
	// StreamInterruption is emitted as the last fragment when a stream breaks mid-answer.
	StreamInterruption = "\n\n[System Interruption: Stream connection lost]"
	// RetrievalFailureAnswer is returned when the flow fails before generation starts.
	RetrievalFailureAnswer = "A systemic error occurred during retrieval."
	// GeneratorUnavailableAnswer is returned when no generation provider is configured.
	GeneratorUnavailableAnswer = "Generation Error: LLM service currently unavailable."
)
