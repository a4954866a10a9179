// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates the requested transition is not allowed in the current state.
var ErrConflict = errors.New("conflict: run is not in a state that allows this request")

// ErrConfiguration indicates an invalid run configuration. The run never begins.
var ErrConfiguration = errors.New("configuration error")

// ErrResourceExhausted indicates a data source has too few usable samples.
var ErrResourceExhausted = errors.New("resource exhausted")

// ErrStorageUnavailable indicates a checkpoint or metadata destination is unreachable.
var ErrStorageUnavailable = errors.New("storage unavailable")

// ErrModelRuntime indicates the model failed to compile or to fit.
var ErrModelRuntime = errors.New("model runtime error")

// Category classifies an error for reporting across the task boundary.
type Category string

const (
	CategoryConfiguration      Category = "configuration"
	CategoryResourceExhausted  Category = "resource_exhausted"
	CategoryStorageUnavailable Category = "storage_unavailable"
	CategoryModelRuntime       Category = "model_runtime"
	CategoryNotFound           Category = "not_found"
	CategoryConflict           Category = "conflict"
	CategoryInternal           Category = "internal"
)

// CategoryOf returns the category of the first sentinel found in err's chain.
func CategoryOf(err error) Category {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfiguration):
		return CategoryConfiguration
	case errors.Is(err, ErrResourceExhausted):
		return CategoryResourceExhausted
	case errors.Is(err, ErrStorageUnavailable):
		return CategoryStorageUnavailable
	case errors.Is(err, ErrModelRuntime):
		return CategoryModelRuntime
	case errors.Is(err, ErrNotFound):
		return CategoryNotFound
	case errors.Is(err, ErrConflict):
		return CategoryConflict
	default:
		return CategoryInternal
	}
}
