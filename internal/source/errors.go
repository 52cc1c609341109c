package source

import (
	"errors"
	"fmt"
)

// FailureKind classifies adapter fetch failures so the health evaluator
// can tell an expired credential from an unreachable endpoint.
type FailureKind string

const (
	FailureAuth         FailureKind = "auth"
	FailureConnectivity FailureKind = "connectivity"
	FailureParse        FailureKind = "parse"
	FailureTimeout      FailureKind = "timeout"
)

// FetchError wraps an agency-specific failure with its classification.
type FetchError struct {
	Source string
	Kind   FailureKind
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: %s error: %v", e.Source, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError builds a classified fetch failure.
func NewFetchError(src string, kind FailureKind, err error) *FetchError {
	return &FetchError{Source: src, Kind: kind, Err: err}
}

// KindOf extracts the failure classification. Unclassified errors count
// as connectivity failures.
func KindOf(err error) FailureKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return FailureConnectivity
}

// Retryable reports whether a second immediate attempt could help.
// Auth rejections and parse failures are deterministic.
func Retryable(err error) bool {
	switch KindOf(err) {
	case FailureAuth, FailureParse:
		return false
	}
	return true
}
