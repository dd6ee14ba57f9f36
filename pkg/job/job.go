// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package job

import (
	"time"

	"github.com/devicelab/harness/pkg/device"
	"github.com/devicelab/harness/pkg/types"
)

// Kind discriminates the two job execution styles. The core treats them as
// opaque variants; result aggregation switches on the kind.
type Kind string

// Job kinds.
const (
	// KindTradefed is a monolithic job driven by the tradefed-style runner.
	KindTradefed Kind = "tradefed"
	// KindNonTradefed is one shard of a module-sharded job driven by the
	// mobly-style runner.
	KindNonTradefed Kind = "non-tradefed"
)

// TradefedJobProperty marks jobs created as tradefed jobs, so that the
// session layer can tell the two summary flavors apart.
const TradefedJobProperty = "xts-tradefed-job"

// Job is one schedulable unit of work bound to one command of a
// multi-command request.
type Job struct {
	ID        types.JobID
	RequestID types.RequestID
	CommandID types.CommandID

	Name string
	Kind Kind

	// GenDir is the job's generated-files directory. It is cleaned up after
	// result extraction.
	GenDir string

	// Selector describes the devices the job needs.
	Selector device.Selector
	Priority int

	// Module and Shard are set for non-tradefed jobs only: the matched test
	// module and the shard index within it.
	Module string
	Shard  int

	// Timeout bounds the whole job execution, StartTimeout the wait for a
	// device allocation.
	Timeout      time.Duration
	StartTimeout time.Duration

	// Properties is a freeform property set attached to the job, e.g. the
	// tradefed marker property.
	Properties map[string]string

	// CancelCh is a job-wide channel used to request and detect job
	// cancellation.
	CancelCh chan struct{}
}

// New returns a job with an initialized cancellation channel and property
// set.
func New(id types.JobID, kind Kind) *Job {
	return &Job{
		ID:         id,
		Kind:       kind,
		Properties: make(map[string]string),
		CancelCh:   make(chan struct{}),
	}
}

// Cancel closes the cancel channel to signal cancellation
func (j *Job) Cancel() {
	close(j.CancelCh)
}

// IsCancelled returns whether the job has been cancelled
func (j *Job) IsCancelled() bool {
	select {
	case _, ok := <-j.CancelCh:
		return !ok
	default:
		return false
	}
}

// IsTradefed returns whether the job carries the tradefed marker property.
func (j *Job) IsTradefed() bool {
	return j.Properties[TradefedJobProperty] == "true"
}
