// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package runner

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab/harness/pkg/device"
	"github.com/devicelab/harness/pkg/job"
	"github.com/devicelab/harness/pkg/logging"
	"github.com/devicelab/harness/pkg/report"
	"github.com/devicelab/harness/pkg/request"
	"github.com/devicelab/harness/pkg/scheduler"
)

func TestMain(m *testing.M) {
	logging.Disable()
	m.Run()
}

type fakeDispatcher struct {
	result *report.Result
	err    error

	dispatched chan []device.Device
}

func (d *fakeDispatcher) Dispatch(j *job.Job, devices []device.Device) (*report.Result, error) {
	if d.dispatched != nil {
		d.dispatched <- devices
	}
	return d.result, d.err
}

func newTestRunner(t *testing.T, serials ...string) (*JobRunner, *device.Manager) {
	t.Helper()
	clk := clock.New()
	dm := device.NewManager(clk, time.Minute)
	updates := make([]device.Update, 0, len(serials))
	for _, serial := range serials {
		updates = append(updates, device.Update{ID: serial, Status: device.StatusIdle})
	}
	dm.UpdateLab("lab1", updates)

	sched := scheduler.New(dm, clk, nil)
	done := make(chan struct{})
	t.Cleanup(func() { close(done) })
	sched.Start(done, 10*time.Millisecond)
	return New(sched, clk), dm
}

// slowDispatcher blocks the dispatch until released, to keep its devices
// occupied.
type slowDispatcher struct {
	started atomic.Bool
	release chan struct{}
}

func (d *slowDispatcher) Dispatch(j *job.Job, devices []device.Device) (*report.Result, error) {
	d.started.Store(true)
	<-d.release
	return nil, nil
}

func TestRunJobSuccess(t *testing.T) {
	r, dm := newTestRunner(t, "serial1")
	result := &report.Result{Modules: []report.ModuleResult{{Name: "m", Done: true, Passed: 1}}}
	dispatcher := &fakeDispatcher{result: result}

	j := job.New("job1", job.KindTradefed)
	j.Timeout = 5 * time.Second
	j.StartTimeout = 5 * time.Second
	r.StartJob(j, dispatcher)
	r.WaitAll()

	st, ok := r.Status(j.ID)
	require.True(t, ok)
	assert.Equal(t, request.CommandStateCompleted, st.State)
	assert.NoError(t, st.Err)
	assert.Equal(t, result, st.Result)

	// Devices went back to the pool on teardown.
	for _, d := range dm.Devices() {
		assert.Equal(t, device.StatusIdle, d.Status)
	}
	assert.True(t, r.Done())
}

func TestRunJobDispatchFailure(t *testing.T) {
	r, dm := newTestRunner(t, "serial1")
	dispatcher := &fakeDispatcher{err: fmt.Errorf("tradefed crashed")}

	j := job.New("job1", job.KindTradefed)
	j.Timeout = 5 * time.Second
	j.StartTimeout = 5 * time.Second
	r.StartJob(j, dispatcher)
	r.WaitAll()

	st, ok := r.Status(j.ID)
	require.True(t, ok)
	assert.Equal(t, request.CommandStateCanceled, st.State)
	assert.Error(t, st.Err)

	for _, d := range dm.Devices() {
		assert.Equal(t, device.StatusIdle, d.Status)
	}
}

func TestRunJobAllocationFailure(t *testing.T) {
	r, _ := newTestRunner(t, "serial1")
	dispatcher := &fakeDispatcher{}

	j := job.New("job1", job.KindTradefed)
	j.Selector = device.Selector{Serials: []string{"no-such-device"}}
	j.Timeout = 5 * time.Second
	j.StartTimeout = 5 * time.Second
	r.StartJob(j, dispatcher)
	r.WaitAll()

	st, ok := r.Status(j.ID)
	require.True(t, ok)
	assert.Equal(t, request.CommandStateCanceled, st.State)
	assert.Error(t, st.Err)
}

func TestRunJobCancellation(t *testing.T) {
	// Occupy the only device so the job blocks waiting for allocation, then
	// cancel it.
	r, _ := newTestRunner(t, "serial1")
	release := make(chan struct{})
	holder := job.New("holder", job.KindTradefed)
	holder.Timeout = 30 * time.Second
	holder.StartTimeout = 5 * time.Second

	slow := &slowDispatcher{release: release}
	r.StartJob(holder, slow)
	require.Eventually(t, func() bool {
		return slow.started.Load()
	}, 5*time.Second, 10*time.Millisecond)

	j := job.New("job1", job.KindTradefed)
	j.Timeout = 30 * time.Second
	j.StartTimeout = 30 * time.Second
	r.StartJob(j, &fakeDispatcher{})
	j.Cancel()

	close(release)
	r.WaitAll()

	st, ok := r.Status(j.ID)
	require.True(t, ok)
	assert.Equal(t, request.CommandStateCanceled, st.State)
}
