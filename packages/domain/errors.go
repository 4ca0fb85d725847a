package domain

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyRunning     = errors.New("indexing is already running")
	ErrNotRunning         = errors.New("indexing is not running")
	ErrAlreadyTerminating = errors.New("indexing is terminating")
	ErrInterrupted        = errors.New("indexing interrupted by user")
	ErrOutOfConfigScope   = errors.New("page is outside the sites listed in the configuration")
	ErrEmptyQuery         = errors.New("empty search query")
	ErrFetchFailure       = errors.New("page fetch failed")
	ErrStorageFailure     = errors.New("storage failure")

	ErrNotFound    = errors.New("not found")
	ErrUnknownSite = errors.New("site is not indexed")
)

// IsClientError reports whether err belongs to the user-facing taxonomy rather than an internal failure.
func IsClientError(err error) bool {
	for _, target := range []error{
		ErrAlreadyRunning, ErrNotRunning, ErrAlreadyTerminating, ErrInterrupted,
		ErrOutOfConfigScope, ErrEmptyQuery, ErrUnknownSite, ErrFetchFailure,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// StorageError wraps a driver error so that it matches ErrStorageFailure.
func StorageError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageFailure, err)
}
