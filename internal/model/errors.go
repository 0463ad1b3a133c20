package model

import "github.com/m-mizutani/goerr/v2"

var (
	// ErrEmbeddingUnavailable means the embedding provider failed or timed out.
	// The call is aborted and can be retried later.
	ErrEmbeddingUnavailable = goerr.New("embedding unavailable")

	// ErrScopeMismatch means a required scope dimension was left unset.
	ErrScopeMismatch = goerr.New("scope mismatch")

	// ErrDimensionMismatch is a fatal configuration error: the embedding
	// dimensionality differs from what the store was built with.
	ErrDimensionMismatch = goerr.New("embedding dimension mismatch")

	ErrNotFound      = goerr.New("memory not found")
	ErrUnknownTier   = goerr.New("unknown tier")
	ErrInvalidConfig = goerr.New("invalid configuration")
)
