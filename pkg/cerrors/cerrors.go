// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

// Package cerrors defines the error taxonomy shared by the scheduler, the
// request orchestrator and the session layer. The distinction between
// ErrInvalidRequest and ErrInvalidResource is load-bearing: the former may
// abort a whole multi-command request, the latter is always isolated to a
// single command.
package cerrors

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidRequest indicates a malformed or unsatisfiable command. It is
// terminal, retrying the same request cannot succeed.
type ErrInvalidRequest struct {
	Reason string
}

// Error returns the error string associated with the error
func (e *ErrInvalidRequest) Error() string {
	return fmt.Sprintf("invalid request: %s", e.Reason)
}

// ErrInvalidResource indicates that a test resource referenced by a command
// could not be fetched, mounted or parsed. The failure is scoped to the one
// command that referenced the resource.
type ErrInvalidResource struct {
	Resource string
	Err      error
}

// Error returns the error string associated with the error
func (e *ErrInvalidResource) Error() string {
	return fmt.Sprintf("invalid resource %q: %v", e.Resource, e.Err)
}

func (e *ErrInvalidResource) Unwrap() error {
	return e.Err
}

// ErrTimeout indicates that a bounded operation (mount/unmount, device wait)
// exceeded its deadline.
type ErrTimeout struct {
	Op      string
	Timeout time.Duration
}

// Error returns the error string associated with the error
func (e *ErrTimeout) Error() string {
	return fmt.Sprintf("%s did not complete within %v", e.Op, e.Timeout)
}

// ErrInfra indicates an unexpected internal failure, e.g. a scheduler
// invariant violation. It is fatal to the affected job but not to the
// process.
type ErrInfra struct {
	Err error
}

// Error returns the error string associated with the error
func (e *ErrInfra) Error() string {
	return fmt.Sprintf("infra issue: %v", e.Err)
}

func (e *ErrInfra) Unwrap() error {
	return e.Err
}

// IsInvalidResource reports whether err wraps an ErrInvalidResource.
func IsInvalidResource(err error) bool {
	var target *ErrInvalidResource
	return errors.As(err, &target)
}

// IsInvalidRequest reports whether err wraps an ErrInvalidRequest.
func IsInvalidRequest(err error) bool {
	var target *ErrInvalidRequest
	return errors.As(err, &target)
}
