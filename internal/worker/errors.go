package worker

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a single item ended in StatusError.
type ErrorKind string

const (
	ErrorKindNone       ErrorKind = ""
	ErrorKindRouting    ErrorKind = "routing"
	ErrorKindExtraction ErrorKind = "extraction"
	ErrorKindEmbedding  ErrorKind = "embedding"
	ErrorKindUpsert     ErrorKind = "upsert"
	ErrorKindInternal   ErrorKind = "internal"
)

var (
	ErrEmptyContent        = errors.New("content region missing or empty")
	ErrDimensionMismatch   = errors.New("embedding dimension mismatch")
	ErrStatusStore         = errors.New("status store unavailable")
	ErrCollectionBootstrap = errors.New("collection bootstrap failed")
)

// ItemError is an item-scoped failure. It never aborts a batch.
type ItemError struct {
	Kind ErrorKind
	URL  string
	Err  error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("%s error for %s: %v", e.Kind, e.URL, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

// KindOf reports the ErrorKind carried by err, or ErrorKindNone.
func KindOf(err error) ErrorKind {
	var ie *ItemError
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return ErrorKindNone
}
