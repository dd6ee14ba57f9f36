// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

// Package allocator provides the per-job façade over the scheduler. One
// DeviceAllocator is exclusively owned by one job: it waits for the job's
// device assignment and guarantees that whatever was acquired is released
// exactly once on teardown.
package allocator

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/devicelab/harness/pkg/cerrors"
	"github.com/devicelab/harness/pkg/device"
	"github.com/devicelab/harness/pkg/logging"
	"github.com/devicelab/harness/pkg/scheduler"
	"github.com/devicelab/harness/pkg/types"
)

var log = logging.GetLogger("pkg/allocator")

// DeviceAllocator acquires devices for a single job without exposing the
// scheduler internals to the job logic.
type DeviceAllocator struct {
	sched *scheduler.Scheduler
	clk   clock.Clock
	jobID types.JobID

	mu       sync.Mutex
	pending  *scheduler.Pending
	alloc    *scheduler.Allocation
	released bool
}

// New returns a device allocator bound to the given job.
func New(sched *scheduler.Scheduler, clk clock.Clock, jobID types.JobID) *DeviceAllocator {
	return &DeviceAllocator{sched: sched, clk: clk, jobID: jobID}
}

// Allocate submits the allocation request and blocks until devices are
// assigned, the timeout elapses, or cancel is closed. On timeout or
// cancellation the pending request is withdrawn from the scheduler.
func (a *DeviceAllocator) Allocate(sel device.Selector, priority int, timeout time.Duration, cancel <-chan struct{}) ([]device.Device, error) {
	pending, err := a.sched.Submit(scheduler.AllocationRequest{
		JobID:    a.jobID,
		Selector: sel,
		Priority: priority,
	})
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.pending = pending
	a.mu.Unlock()

	timer := a.clk.Timer(timeout)
	defer timer.Stop()

	select {
	case alloc := <-pending.Allocated():
		a.mu.Lock()
		a.alloc = alloc
		a.pending = nil
		released := a.released
		a.mu.Unlock()
		if released {
			// Release raced with the allocation being satisfied. Hand the
			// devices straight back.
			a.sched.Release(alloc)
			return nil, &cerrors.ErrInvalidRequest{Reason: "allocator already released"}
		}
		return alloc.Devices, nil
	case <-timer.C:
		a.abandon(pending)
		return nil, &cerrors.ErrTimeout{Op: "device allocation", Timeout: timeout}
	case <-cancel:
		a.abandon(pending)
		return nil, &cerrors.ErrInvalidRequest{Reason: "job cancelled while waiting for devices"}
	}
}

// abandon withdraws a pending request. If the scheduler satisfied it in the
// meantime, the allocation is handed straight back, the caller never sees
// the devices.
func (a *DeviceAllocator) abandon(pending *scheduler.Pending) {
	a.sched.Cancel(pending)
	select {
	case alloc := <-pending.Allocated():
		a.sched.Release(alloc)
	default:
	}
	a.mu.Lock()
	a.pending = nil
	a.mu.Unlock()
}

// Release releases whatever the allocator holds: a still-pending request is
// cancelled, an allocation is returned to the scheduler. Release is
// idempotent and must be called on job teardown regardless of the outcome.
func (a *DeviceAllocator) Release() {
	a.mu.Lock()
	if a.released {
		a.mu.Unlock()
		return
	}
	a.released = true
	pending, alloc := a.pending, a.alloc
	a.pending, a.alloc = nil, nil
	a.mu.Unlock()

	if pending != nil {
		a.sched.Cancel(pending)
	}
	if alloc != nil {
		a.sched.Release(alloc)
	}
	log.Debugf("Allocator of job %s released", a.jobID)
}
