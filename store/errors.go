package store

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateContent is the sentinel every DuplicateContentError wraps.
	ErrDuplicateContent = errors.New("lexkb: duplicate source content")

	// ErrSourceNotFound is returned when a source identifier does not exist.
	ErrSourceNotFound = errors.New("lexkb: source not found")

	// ErrMissingIndex is returned when a content table lacks the keyword
	// or vector projection a search needs.
	ErrMissingIndex = errors.New("lexkb: search index missing for table")

	// ErrInvalidInterval is returned when a candidate's character interval
	// falls outside the document bounds. Loads do not fail on it; the row
	// is stored with the unknown-section sentinel instead.
	ErrInvalidInterval = errors.New("lexkb: character interval outside document bounds")

	// ErrUnknownTable is returned when a search or load names a content
	// table that was never created.
	ErrUnknownTable = errors.New("lexkb: unknown content table")
)

// DuplicateContentError reports a content hash collision during source
// registration, naming the source that already owns the content.
type DuplicateContentError struct {
	Name        string // the name the caller tried to register
	Existing    string // source_id of the conflicting source
	ContentHash string
}

func (e *DuplicateContentError) Error() string {
	return fmt.Sprintf("lexkb: content of %q already registered as source %q (hash %s)",
		e.Name, e.Existing, e.ContentHash)
}

func (e *DuplicateContentError) Unwrap() error { return ErrDuplicateContent }
