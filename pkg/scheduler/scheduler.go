// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

// Package scheduler maintains the global mapping of pending allocation
// requests to available devices. It enforces at-most-one-job-per-device and
// all-or-none multi-device allocation, and resolves contention FIFO by
// submission time with a priority tie-break.
package scheduler

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/devicelab/harness/pkg/cerrors"
	"github.com/devicelab/harness/pkg/device"
	"github.com/devicelab/harness/pkg/event"
	"github.com/devicelab/harness/pkg/logging"
	"github.com/devicelab/harness/pkg/types"
)

var log = logging.GetLogger("pkg/scheduler")

// AllocationRequest asks the scheduler for one or more devices on behalf of
// a job.
type AllocationRequest struct {
	JobID    types.JobID
	Selector device.Selector
	// Priority breaks ties between requests submitted at the same time.
	// Higher wins.
	Priority int
}

// Allocation binds one allocation request to concrete devices. A device
// appears in at most one live allocation at a time.
type Allocation struct {
	JobID   types.JobID
	Devices []device.Device

	released bool
}

// DeviceIDs returns the IDs of the allocated devices.
func (a *Allocation) DeviceIDs() []string {
	ids := make([]string, 0, len(a.Devices))
	for _, d := range a.Devices {
		ids = append(ids, d.ID)
	}
	return ids
}

// Pending is the handle to a submitted, not yet satisfied allocation
// request.
type Pending struct {
	req        AllocationRequest
	submitTime time.Time
	seq        uint64

	// ch carries the allocation once the request is satisfied. One-slot
	// buffer, written at most once.
	ch chan *Allocation

	cancelled bool
	allocated bool
}

// Allocated returns the channel on which the allocation is delivered.
func (p *Pending) Allocated() <-chan *Allocation {
	return p.ch
}

// Scheduler owns the pending-request queue. Device status is mutated only
// through the device manager, whose lock is the single serialization domain
// for status transitions; the queue is guarded by the scheduler's own mutex.
type Scheduler struct {
	devices *device.Manager
	clk     clock.Clock

	mu          sync.Mutex
	pending     []*Pending
	allocations map[types.JobID]*Allocation
	seq         uint64

	// trigger coalesces TryAllocate requests issued by Release and Submit.
	trigger chan struct{}

	emitter event.Emitter
	metrics *metrics
}

// New returns a scheduler draining allocations from the given device
// manager. Metrics are registered on reg; a nil reg keeps them local.
func New(dm *device.Manager, clk clock.Clock, reg prometheus.Registerer) *Scheduler {
	return &Scheduler{
		devices:     dm,
		clk:         clk,
		allocations: make(map[types.JobID]*Allocation),
		trigger:     make(chan struct{}, 1),
		metrics:     newMetrics(reg, dm),
	}
}

// Start spawns the allocation loop: pending requests are retried on every
// device registry change, on an internal trigger and on a fixed tick. The
// loop terminates when done is closed.
func (s *Scheduler) Start(done <-chan struct{}, tick time.Duration) {
	changes := s.devices.Subscribe()
	go func() {
		ticker := s.clk.Ticker(tick)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-changes:
			case <-s.trigger:
			case <-ticker.C:
			}
			s.TryAllocate()
		}
	}()
}

// Submit registers an allocation request. It is non-blocking and fails with
// an invalid-request error if the selector matches no currently-known device
// at all, as opposed to none currently free. A request that is merely
// unsatisfiable right now stays queued until cancelled.
func (s *Scheduler) Submit(req AllocationRequest) (*Pending, error) {
	if req.JobID == "" {
		return nil, &cerrors.ErrInvalidRequest{Reason: "allocation request without job ID"}
	}
	matching := s.devices.Matching(req.Selector)
	if len(matching) == 0 {
		return nil, &cerrors.ErrInvalidRequest{
			Reason: fmt.Sprintf("selector of job %s (dimensions %v) matches no known device",
				req.JobID, req.Selector.SortedNames()),
		}
	}
	if len(matching) < req.Selector.DeviceCount() {
		return nil, &cerrors.ErrInvalidRequest{
			Reason: fmt.Sprintf("job %s wants %d devices, only %d exist",
				req.JobID, req.Selector.DeviceCount(), len(matching)),
		}
	}

	s.mu.Lock()
	s.seq++
	p := &Pending{
		req:        req,
		submitTime: s.clk.Now(),
		seq:        s.seq,
		ch:         make(chan *Allocation, 1),
	}
	s.pending = append(s.pending, p)
	s.metrics.pendingRequests.Set(float64(len(s.pending)))
	s.mu.Unlock()

	log.Debugf("Queued allocation request for job %s (%d device(s))",
		req.JobID, req.Selector.DeviceCount())
	s.emitEvent(EventRequestQueued, req.JobID, nil)
	s.kick()
	return p, nil
}

// TryAllocate walks the pending requests in FIFO-by-submission-time order,
// priority breaking ties, and satisfies every request for which enough
// matching idle devices exist. Multi-device requests acquire all requested
// slots atomically or none.
func (s *Scheduler) TryAllocate() {
	var satisfied []*Allocation
	defer func() {
		for _, alloc := range satisfied {
			s.emitEvent(EventDeviceAllocated, alloc.JobID, alloc.DeviceIDs())
		}
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	sort.SliceStable(s.pending, func(i, j int) bool {
		pi, pj := s.pending[i], s.pending[j]
		if !pi.submitTime.Equal(pj.submitTime) {
			return pi.submitTime.Before(pj.submitTime)
		}
		if pi.req.Priority != pj.req.Priority {
			return pi.req.Priority > pj.req.Priority
		}
		return pi.seq < pj.seq
	})

	var remaining []*Pending
	for _, p := range s.pending {
		if p.cancelled {
			continue
		}
		alloc, ok := s.tryAllocateOne(p)
		if !ok {
			remaining = append(remaining, p)
			continue
		}
		p.allocated = true
		s.allocations[p.req.JobID] = alloc
		s.metrics.liveAllocations.Inc()
		s.metrics.allocationsTotal.Inc()
		satisfied = append(satisfied, alloc)
		p.ch <- alloc
		log.Infof("Allocated %d device(s) to job %s: %v",
			len(alloc.Devices), p.req.JobID, alloc.DeviceIDs())
	}
	s.pending = remaining
	s.metrics.pendingRequests.Set(float64(len(s.pending)))
}

// tryAllocateOne attempts to satisfy one request. Candidate devices are
// picked from an idle snapshot, then transitioned through the registry's
// atomic all-or-none operation, which revalidates under its own lock.
func (s *Scheduler) tryAllocateOne(p *Pending) (*Allocation, bool) {
	want := p.req.Selector.DeviceCount()
	var candidates []device.Device
	for _, d := range s.devices.Matching(p.req.Selector) {
		if d.Status == device.StatusIdle {
			candidates = append(candidates, d)
			if len(candidates) == want {
				break
			}
		}
	}
	if len(candidates) < want {
		return nil, false
	}
	ids := make([]string, 0, want)
	for _, d := range candidates {
		ids = append(ids, d.ID)
	}
	if !s.devices.AllocateAll(ids) {
		// Lost the race against a registry change between snapshot and
		// transition. The request stays queued.
		return nil, false
	}
	return &Allocation{JobID: p.req.JobID, Devices: candidates}, true
}

// Release returns the devices of an allocation to the idle pool and
// re-triggers allocation for the waiting requests. Releasing twice is a
// no-op.
func (s *Scheduler) Release(a *Allocation) {
	if a == nil {
		return
	}
	s.mu.Lock()
	if a.released {
		s.mu.Unlock()
		return
	}
	a.released = true
	delete(s.allocations, a.JobID)
	s.metrics.liveAllocations.Dec()
	s.mu.Unlock()

	s.devices.ReleaseAll(a.DeviceIDs())
	log.Infof("Released %d device(s) of job %s", len(a.Devices), a.JobID)
	s.emitEvent(EventDeviceReleased, a.JobID, a.DeviceIDs())
	s.kick()
}

// Cancel removes a still-pending request from the queue. It is a no-op if
// the request was already allocated; the caller must Release the allocation
// instead.
func (s *Scheduler) Cancel(p *Pending) {
	if p == nil {
		return
	}
	s.mu.Lock()
	if p.allocated || p.cancelled {
		s.mu.Unlock()
		return
	}
	p.cancelled = true
	for i, q := range s.pending {
		if q == p {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			break
		}
	}
	s.metrics.pendingRequests.Set(float64(len(s.pending)))
	s.mu.Unlock()
	log.Debugf("Cancelled pending allocation request of job %s", p.req.JobID)
	s.emitEvent(EventRequestCancelled, p.req.JobID, nil)
}

// AllocationFor returns the live allocation of a job, if any.
func (s *Scheduler) AllocationFor(jobID types.JobID) (*Allocation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.allocations[jobID]
	return a, ok
}

func (s *Scheduler) kick() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}
