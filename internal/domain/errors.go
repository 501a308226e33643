package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrDownloadFailed = errors.New("generation finished without an obtainable result")
	// ErrCancelled marks an abandoned operation. It is not a failure: callers must not surface
	// it to users or record it on a job.
	ErrCancelled      = errors.New("generation cancelled")
	ErrNoIdentity     = errors.New("no external identity resolved")
	ErrCatalogMissing = errors.New("catalog unavailable")
)

// GenerationFailedError is a terminal failure reported by the backend.
type GenerationFailedError struct {
	Message string
}

func (e *GenerationFailedError) Error() string {
	if e.Message == "" {
		return "generation failed"
	}
	return fmt.Sprintf("generation failed: %s", e.Message)
}

// IsCancelled reports whether err represents an abandoned operation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
