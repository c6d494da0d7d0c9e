package lexkb

import (
	"errors"

	"github.com/brunobiangulo/lexkb/store"
)

// Storage sentinels re-exported so callers can match errors without
// importing the store package directly.
var (
	ErrDuplicateContent = store.ErrDuplicateContent
	ErrSourceNotFound   = store.ErrSourceNotFound
	ErrMissingIndex     = store.ErrMissingIndex
	ErrInvalidInterval  = store.ErrInvalidInterval
)

// Engine-level sentinels.
var (
	// ErrNoOracle is returned when a pipeline run is requested but the
	// knowledge base was opened without an extraction oracle.
	ErrNoOracle = errors.New("lexkb: no extraction oracle configured")

	// ErrNoEmbedder is returned when an embedding operation is requested
	// but the knowledge base was opened without an embedding provider.
	ErrNoEmbedder = errors.New("lexkb: no embedding provider configured")

	// ErrStoreClosed is returned when an operation is attempted after Close.
	ErrStoreClosed = errors.New("lexkb: knowledge base is closed")
)
