package ragdex

import "github.com/kailas-cloud/ragdex/internal/domain"

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() to check.
var (
	ErrNotFound                = domain.ErrNotFound
	ErrInvalidInput            = domain.ErrInvalidInput
	ErrUnsupportedFormat       = domain.ErrUnsupportedFormat
	ErrEmbeddingProviderError  = domain.ErrEmbeddingProviderError
	ErrGenerationProviderError = domain.ErrGenerationProviderError
)
