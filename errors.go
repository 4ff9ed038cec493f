// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpuhal

import (
	"errors"
	"fmt"
)

// Errors shared by all backends. Backends wrap native failures in one of
// these with fmt.Errorf("%w: ...") so callers can test with errors.Is.
var (
	// ErrCompileOrLoad is returned when a module is malformed or cannot be
	// loaded onto the device.
	ErrCompileOrLoad = errors.New("gpuhal: compile or load failed")

	// ErrFunctionNotFound is returned when a module has no such entry point.
	ErrFunctionNotFound = errors.New("gpuhal: function not found")

	// ErrArgNotFound is matched by every *ArgNotFoundError.
	ErrArgNotFound = errors.New("gpuhal: argument not found")

	// ErrDevice is returned on driver or queue failures.
	ErrDevice = errors.New("gpuhal: device error")

	// ErrUnsupported is returned when a backend lacks a feature.
	ErrUnsupported = errors.New("gpuhal: unsupported operation")

	// ErrSerialization is returned when an encased value fails to encode
	// or decode.
	ErrSerialization = errors.New("gpuhal: serialization failed")

	// ErrContract is returned when a caller breaks an API contract that can
	// be detected at the boundary, such as using the plain buffer
	// operations with an encased element type.
	ErrContract = errors.New("gpuhal: contract violation")

	// ErrDispatchConsumed is returned when a dispatch is used after launch.
	ErrDispatchConsumed = errors.New("gpuhal: dispatch already launched")

	// ErrEncoderConsumed is returned when an encoder is used after submit.
	ErrEncoderConsumed = errors.New("gpuhal: encoder already submitted")
)

// ArgNotFoundError reports that an argument bundle has nothing for a
// parameter of a compiled function's layout.
type ArgNotFoundError struct {
	Name string
}

// NewArgNotFound returns an *ArgNotFoundError for name.
func NewArgNotFound(name string) error {
	return &ArgNotFoundError{Name: name}
}

func (e *ArgNotFoundError) Error() string {
	return fmt.Sprintf("gpuhal: argument %q not found", e.Name)
}

// Is reports whether target is ErrArgNotFound.
func (e *ArgNotFoundError) Is(target error) bool {
	return target == ErrArgNotFound
}
