// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

// Package runner implements the per-job execution loop: acquire devices
// through the allocator, hand the job to the test dispatcher, release the
// devices on teardown no matter the outcome.
package runner

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/devicelab/harness/pkg/allocator"
	"github.com/devicelab/harness/pkg/config"
	"github.com/devicelab/harness/pkg/device"
	"github.com/devicelab/harness/pkg/job"
	"github.com/devicelab/harness/pkg/logging"
	"github.com/devicelab/harness/pkg/report"
	"github.com/devicelab/harness/pkg/request"
	"github.com/devicelab/harness/pkg/scheduler"
	"github.com/devicelab/harness/pkg/types"
)

var log = logging.GetLogger("pkg/runner")

// TestDispatcher runs one job on the allocated devices. It is the boundary
// towards the remote lab execution: implementations ship the job to the
// remote runner and bring back the parsed partial result, which may be nil
// when the job produced none.
type TestDispatcher interface {
	Dispatch(j *job.Job, devices []device.Device) (*report.Result, error)
}

// Status is the tracked outcome of one job.
type Status struct {
	State  request.CommandState
	Result *report.Result
	Err    error
}

// JobRunner tracks the jobs in flight and runs each of them in its own
// goroutine.
type JobRunner struct {
	sched *scheduler.Scheduler
	clk   clock.Clock

	mu     sync.Mutex
	status map[types.JobID]Status
	wg     sync.WaitGroup
}

// New initializes and returns a new JobRunner.
func New(sched *scheduler.Scheduler, clk clock.Clock) *JobRunner {
	return &JobRunner{
		sched:  sched,
		clk:    clk,
		status: make(map[types.JobID]Status),
	}
}

// StartJob spawns the execution of one job. The job's status is tracked
// until the runner is torn down.
func (r *JobRunner) StartJob(j *job.Job, dispatcher TestDispatcher) {
	r.setStatus(j.ID, Status{State: request.CommandStateRunning})
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		result, err := r.runJob(j, dispatcher)
		st := Status{State: request.CommandStateCompleted, Result: result, Err: err}
		if err != nil {
			st.State = request.CommandStateCanceled
			log.Errorf("Job %s failed: %v", j.ID, err)
		} else {
			log.Infof("Job %s completed", j.ID)
		}
		r.setStatus(j.ID, st)
	}()
}

// runJob acquires devices for the job, dispatches it and releases the
// allocation on the way out. Acquisition and release form a scoped pair:
// release happens exactly once, also under dispatch panic or cancellation.
func (r *JobRunner) runJob(j *job.Job, dispatcher TestDispatcher) (*report.Result, error) {
	startTimeout := j.StartTimeout
	if startTimeout <= 0 {
		startTimeout = config.DeviceAllocationTimeout
	}
	alloc := allocator.New(r.sched, r.clk, j.ID)
	defer alloc.Release()

	devices, err := alloc.Allocate(j.Selector, j.Priority, startTimeout, j.CancelCh)
	if err != nil {
		return nil, fmt.Errorf("job %s could not allocate devices: %w", j.ID, err)
	}
	log.Debugf("Job %s allocated devices %v", j.ID, devices)

	// The dispatch semantic is synchronous. Run it in a goroutine in order
	// to bound it with the job timeout and react to cancellation.
	type dispatchOutcome struct {
		result *report.Result
		err    error
	}
	outcomeCh := make(chan dispatchOutcome, 1)
	go func() {
		result, err := dispatcher.Dispatch(j, devices)
		outcomeCh <- dispatchOutcome{result: result, err: err}
	}()

	timeout := j.Timeout
	if timeout <= 0 {
		timeout = 24 * time.Hour
	}
	timer := r.clk.Timer(timeout)
	defer timer.Stop()
	select {
	case outcome := <-outcomeCh:
		return outcome.result, outcome.err
	case <-timer.C:
		return nil, fmt.Errorf("job %s did not complete within %v", j.ID, timeout)
	case <-j.CancelCh:
		return nil, fmt.Errorf("job %s cancelled", j.ID)
	}
}

// Status returns the tracked status of a job.
func (r *JobRunner) Status(jobID types.JobID) (Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.status[jobID]
	return st, ok
}

// Done reports whether every started job reached a terminal state.
func (r *JobRunner) Done() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, st := range r.status {
		if st.State == request.CommandStateRunning {
			return false
		}
	}
	return true
}

// WaitAll blocks until all started jobs have terminated.
func (r *JobRunner) WaitAll() {
	r.wg.Wait()
}

func (r *JobRunner) setStatus(jobID types.JobID, st Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status[jobID] = st
}
