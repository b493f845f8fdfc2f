package utils

import (
	"errors"
	"fmt"
)

// MDFError represents a structured MDF error.
type MDFError struct {
	Context string
	Cause   error
}

// Error implements the error interface.
func (e *MDFError) Error() string {
	return fmt.Sprintf("%s: %v", e.Context, e.Cause)
}

// WrapError creates a contextual error.
func WrapError(context string, cause error) error {
	if cause == nil {
		return nil
	}
	return &MDFError{
		Context: context,
		Cause:   cause,
	}
}

// Unwrap provides compatibility with errors.Unwrap().
func (e *MDFError) Unwrap() error {
	return e.Cause
}

// Sentinel errors for the failure taxonomy. Callers test with errors.Is.
// Parse and decode failures are scoped to one data group or one channel;
// only I/O failures and write failures abort a whole operation.
var (
	// ErrTruncatedBlock means a block header or body ended before its
	// declared size.
	ErrTruncatedBlock = errors.New("truncated block")

	// ErrUnknownBlockType means a mandatory tag switch met a tag it cannot
	// parse.
	ErrUnknownBlockType = errors.New("unknown block type")

	// ErrUnsupportedBlockType means a recognized tag appeared where the
	// decoder cannot handle it (e.g. inside a data block chain).
	ErrUnsupportedBlockType = errors.New("unsupported block type")

	// ErrMalformedGraph means a next-link walk revisited a file offset.
	ErrMalformedGraph = errors.New("malformed block graph")

	// ErrNonMonotonicTable means a lookup table that must be strictly
	// increasing is not.
	ErrNonMonotonicTable = errors.New("non-monotonic conversion table")

	// ErrInvalidConversionParameters means a conversion's parameters match
	// none of its defined regimes.
	ErrInvalidConversionParameters = errors.New("invalid conversion parameters")

	// ErrMissingFormulaEngine means an algebraic formula could not be
	// compiled or evaluated.
	ErrMissingFormulaEngine = errors.New("formula engine unavailable")

	// ErrUnsupportedExportType means the writer met an array element type it
	// cannot serialize. Write errors abort the whole file.
	ErrUnsupportedExportType = errors.New("unsupported export type")
)
