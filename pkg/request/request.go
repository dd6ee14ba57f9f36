// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

// Package request implements multi-command request orchestration: one
// user-facing request fans out into independently tracked commands, each
// producing one tradefed job and zero or more sharded non-tradefed jobs.
package request

import (
	"time"

	"github.com/insomniacslk/xjson"

	"github.com/devicelab/harness/pkg/types"
)

// CommandState is the lifecycle state of one command.
type CommandState string

// Command states.
const (
	CommandStateUnknown   CommandState = "UNKNOWN"
	CommandStateRunning   CommandState = "RUNNING"
	CommandStateCanceled  CommandState = "CANCELED"
	CommandStateCompleted CommandState = "COMPLETED"
)

// RequestState is the aggregate state of a multi-command request. The
// orchestrator itself only ever moves RUNNING -> CANCELED; completion is
// observed externally by polling command states.
type RequestState string

// Request states.
const (
	RequestStateRunning  RequestState = "RUNNING"
	RequestStateCanceled RequestState = "CANCELED"
)

// CancelReason explains why a command or request was cancelled.
type CancelReason string

// Cancel reasons.
const (
	CancelReasonNone                CancelReason = ""
	CancelReasonCommandNotAvailable CancelReason = "COMMAND_NOT_AVAILABLE"
	CancelReasonInvalidRequest      CancelReason = "INVALID_REQUEST"
	CancelReasonInvalidResource     CancelReason = "INVALID_RESOURCE"
)

// TestResource references one input artifact by name and URL. A file://
// URL denotes a locally available artifact, such as an android-<xts>.zip
// suite archive.
type TestResource struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// TestEnvironment carries the execution settings shared by all commands of
// a request.
type TestEnvironment struct {
	InvocationTimeout   xjson.Duration `json:"invocation_timeout"`
	OutputFileUploadURL string         `json:"output_file_upload_url"`
}

// Command is one command of a multi-command request.
type Command struct {
	// CommandLine is the free-form command line; the first token selects
	// the suite type and test plan.
	CommandLine string `json:"command_line"`
	// DeviceDimensions filters the devices the command may run on. The
	// device_serial dimension pins explicit serials.
	DeviceDimensions map[string]string `json:"device_dimensions"`
	ShardCount       int               `json:"shard_count"`
}

// NewMultiCommandRequest is the structured input of the orchestrator.
type NewMultiCommandRequest struct {
	Commands        []Command       `json:"commands"`
	TestResources   []TestResource  `json:"test_resources"`
	TestEnvironment TestEnvironment `json:"test_environment"`
	QueueTimeout    xjson.Duration  `json:"queue_timeout"`
}

// CommandDetail tracks the outcome of one command. Its ID is the generated
// job ID once a job exists; commands rejected before job creation are keyed
// by a placeholder derived from the command line.
type CommandDetail struct {
	ID           types.JobID  `json:"id"`
	CommandLine  string       `json:"command_line"`
	State        CommandState `json:"state"`
	CancelReason CancelReason `json:"cancel_reason,omitempty"`
}

// RequestDetail is the aggregate, user-visible view of a request: one
// CommandDetail per created job plus the request-level state.
type RequestDetail struct {
	ID           types.RequestID `json:"id"`
	State        RequestState    `json:"state"`
	CancelReason CancelReason    `json:"cancel_reason,omitempty"`

	CreateTime time.Time `json:"create_time"`
	StartTime  time.Time `json:"start_time"`
	UpdateTime time.Time `json:"update_time"`

	// Commands is the original command list, in request order.
	Commands []Command `json:"commands"`

	// CommandDetails is keyed by job ID (or the UNKNOWN_ placeholder for
	// commands rejected before a job existed).
	CommandDetails map[string]CommandDetail `json:"command_details"`
}

// SetCommandState transitions the command detail of the given job, if
// known.
func (rd *RequestDetail) SetCommandState(id types.JobID, state CommandState) {
	cd, ok := rd.CommandDetails[string(id)]
	if !ok {
		return
	}
	cd.State = state
	rd.CommandDetails[string(id)] = cd
}
