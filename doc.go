// Package quarry turns raw articles into retrieval-ready chunks. A fast
// deterministic chunker segments every article; a quality router scores each
// chunk and sends only the low-confidence ones to an LLM for refinement,
// behind a rate limiter and a circuit breaker so a misbehaving provider can
// never take the pipeline down. The coordinator schedules batch jobs by
// priority with bounded concurrency and backpressure.
//
// Subpackages: chunk (segmentation and routing), extract (input formats),
// provider/openaicompat (LLM transport), store/sqlite and store/postgres
// (persistence), observer (OpenTelemetry), internal/config (TOML config).
package quarry
