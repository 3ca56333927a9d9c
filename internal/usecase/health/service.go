package health

import "context"

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure.
	Degraded Status = "degraded"
	// Unhealthy indicates total failure.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
	Chunks int
}

// Service coordinates health checks.
type Service struct {
	db        Pinger
	ledger    Pinger
	embedding EmbeddingChecker
	chunks    ChunkCounter
}

// New creates a Service. Any dependency can be nil and is then skipped.
func New(db, ledger Pinger, embedding EmbeddingChecker, chunks ChunkCounter) *Service {
	return &Service{db: db, ledger: ledger, embedding: embedding, chunks: chunks}
}

// Check runs health checks against all components.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult)

	if s.db != nil {
		checks["database"] = result(s.db.Ping(ctx))
	}
	if s.ledger != nil {
		checks["ledger"] = result(s.ledger.Ping(ctx))
	}
	if s.embedding != nil {
		checks["embedding"] = result(s.embedding.HealthCheck(ctx))
	}

	failed := 0
	for _, v := range checks {
		if v == CheckError {
			failed++
		}
	}

	status := Healthy
	switch {
	case failed > 0 && failed == len(checks):
		status = Unhealthy
	case failed > 0:
		status = Degraded
	}

	r := Report{Status: status, Checks: checks}
	if s.chunks != nil {
		r.Chunks = s.chunks.ChunkCount()
	}
	return r
}

func result(err error) CheckResult {
	if err != nil {
		return CheckError
	}
	return CheckOK
}
