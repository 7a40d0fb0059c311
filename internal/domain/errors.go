// Package domain defines core types, interfaces, and errors for the dimension order optimiser.
package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ConfigurationError indicates invalid or infeasible run options. It is raised
// before anything is measured.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string { return e.Message }

// InvalidOrderingError indicates an ordering that is not a permutation of the
// cube's dimensions. Seeing one at runtime means a generator bug.
type InvalidOrderingError struct {
	Ordering Ordering
	Message  string
}

func (e *InvalidOrderingError) Error() string {
	return fmt.Sprintf("invalid ordering [%s]: %s", strings.Join(e.Ordering, ", "), e.Message)
}

// MeasurementError indicates that a single candidate could not be measured.
// The run continues with the next candidate.
type MeasurementError struct {
	Ordering Ordering
	Op       string
	Err      error
}

func (e *MeasurementError) Error() string {
	return fmt.Sprintf("measure [%s]: %s: %v", strings.Join(e.Ordering, ", "), e.Op, e.Err)
}

func (e *MeasurementError) Unwrap() error { return e.Err }

// ConnectivityError indicates the cube server became unreachable. It aborts
// the remaining search.
type ConnectivityError struct {
	Op  string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("cube server unreachable during %s: %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// NotFoundError indicates a cube, view, dimension or process does not exist on the server.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ErrConfiguration creates a ConfigurationError with a formatted message.
func ErrConfiguration(format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Message: fmt.Sprintf(format, args...)}
}

// ErrInvalidOrdering creates an InvalidOrderingError with a formatted message.
func ErrInvalidOrdering(o Ordering, format string, args ...interface{}) *InvalidOrderingError {
	return &InvalidOrderingError{Ordering: o.Clone(), Message: fmt.Sprintf(format, args...)}
}

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// IsConnectivity reports whether err, or anything it wraps, is a ConnectivityError.
func IsConnectivity(err error) bool {
	var ce *ConnectivityError
	return errors.As(err, &ce)
}
