// Package driven defines secondary port interfaces for external adapters.
package driven

import "errors"

// Error categories. Adapters and services wrap causes with one of these so the
// composition root can pick an exit path with errors.Is.
var (
	// ErrConfiguration marks invalid or missing settings. Fatal before any extraction.
	ErrConfiguration = errors.New("configuration error")

	// ErrExtraction marks a remote API or transport failure. Caught per project.
	ErrExtraction = errors.New("extraction error")

	// ErrDatabase marks a persistence failure. Fatal to the current run.
	ErrDatabase = errors.New("database error")

	// ErrAggregation marks a failure computing derived artifacts.
	ErrAggregation = errors.New("aggregation error")

	// ErrStubGeneration marks a refused or failed stub generation.
	ErrStubGeneration = errors.New("stub generation error")
)
