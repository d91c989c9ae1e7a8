package multierror

import (
	"fmt"
	"strings"
	"sync"
)

// Error collects errors keyed by the entity that produced them, so that a
// batch operation can report every failure instead of only the first one.
type Error[T comparable] struct {
	mu     sync.Mutex
	errors map[T]error
}

// New creates an empty Error.
func New[T comparable]() *Error[T] {
	return &Error[T]{
		errors: make(map[T]error),
	}
}

// Add records an error under the given key, replacing any previous one.
func (e *Error[T]) Add(key T, err error) {
	e.mu.Lock()
	e.errors[key] = err
	e.mu.Unlock()
}

// Get returns the error recorded under the given key.
func (e *Error[T]) Get(key T) (error, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.errors[key]; err != nil {
		return err, true
	}

	return nil, false
}

// First returns one of the recorded errors, or nil if there are none.
func (e *Error[T]) First() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, err := range e.errors {
		return err
	}

	return nil
}

// Len returns the number of recorded errors.
func (e *Error[T]) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.errors)
}

// Combined returns e if it holds at least one error, nil otherwise. The nil
// return is an untyped nil, safe to compare against.
func (e *Error[T]) Combined() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.errors) == 0 {
		return nil
	}

	return e
}

// Error implements the error interface.
func (e *Error[T]) Error() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var sb strings.Builder
	for key, err := range e.errors {
		if sb.Len() > 0 {
			sb.WriteString("; ")
		}

		fmt.Fprintf(&sb, "%v: %s", key, err)
	}

	return sb.String()
}

// Unwrap returns the recorded errors as a slice, which makes errors.Is and
// errors.As see through the collector.
func (e *Error[T]) Unwrap() []error {
	e.mu.Lock()
	defer e.mu.Unlock()

	errs := make([]error, 0, len(e.errors))
	for _, err := range e.errors {
		errs = append(errs, err)
	}

	return errs
}
