package model

import "errors"

// Error taxonomy shared by the engine. Callers match with errors.Is.
var (
	// ErrInsufficientData means not enough candles or history for a check.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrInvalidInput means zero/negative prices or an empty denominator.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStaleOrder means a pending entry outlived its timeout and was cancelled.
	ErrStaleOrder = errors.New("stale order")

	// ErrExternalFailure means a gateway, account or feed call failed.
	ErrExternalFailure = errors.New("external failure")
)
