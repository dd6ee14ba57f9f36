// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package request

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab/harness/pkg/job"
	"github.com/devicelab/harness/pkg/logging"
	"github.com/devicelab/harness/pkg/mounter"
	"github.com/devicelab/harness/pkg/report"
	"github.com/devicelab/harness/pkg/types"
)

func TestMain(m *testing.M) {
	logging.Disable()
	m.Run()
}

// fakeExecutor records mount/unmount commands and fails the configured
// fuse-zip invocations.
type fakeExecutor struct {
	mu         sync.Mutex
	mountCalls int
	unmounts   []string
	failMounts map[int]bool
}

func (e *fakeExecutor) Run(ctx context.Context, name string, args ...string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch name {
	case "fuse-zip":
		e.mountCalls++
		if e.failMounts[e.mountCalls] {
			return "fuse-zip: archive is corrupted", fmt.Errorf("exit status 1")
		}
		return "", nil
	case "fusermount":
		e.unmounts = append(e.unmounts, args[len(args)-1])
		return "", nil
	}
	return "", fmt.Errorf("unexpected command %s", name)
}

func (e *fakeExecutor) unmountCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.unmounts)
}

// fakeCreator implements JobCreator with canned outcomes.
type fakeCreator struct {
	tradefedNil    bool
	tradefedErr    error
	nonTradefed    int
	canNonTradefed bool

	nextID int
}

func (c *fakeCreator) newJob(kind job.Kind) *job.Job {
	c.nextID++
	return job.New(types.JobID(fmt.Sprintf("job-%d", c.nextID)), kind)
}

func (c *fakeCreator) CreateTradefedJob(info *RequestInfo) (*job.Job, error) {
	if c.tradefedErr != nil {
		return nil, c.tradefedErr
	}
	if c.tradefedNil {
		return nil, nil
	}
	return c.newJob(job.KindTradefed), nil
}

func (c *fakeCreator) CreateNonTradefedJobs(info *RequestInfo) ([]*job.Job, error) {
	var jobs []*job.Job
	for i := 0; i < c.nonTradefed; i++ {
		jobs = append(jobs, c.newJob(job.KindNonTradefed))
	}
	return jobs, nil
}

func (c *fakeCreator) CanCreateNonTradefedJobs(info *RequestInfo) bool {
	return c.canNonTradefed
}

// fakeSession is a minimal in-memory session registry.
type fakeSession struct {
	id   types.RequestID
	jobs []*job.Job
}

func (s *fakeSession) ID() types.RequestID { return s.id }
func (s *fakeSession) AddJob(j *job.Job)   { s.jobs = append(s.jobs, j) }
func (s *fakeSession) AllJobs() []*job.Job { return s.jobs }

func newTestHandler(t *testing.T, creator JobCreator, executor mounter.Executor) *Handler {
	t.Helper()
	m := mounter.New(executor, time.Minute)
	return NewHandler(creator, m, clock.NewMock(), t.TempDir())
}

func newTestRequest(t *testing.T, commandLines ...string) *NewMultiCommandRequest {
	t.Helper()
	zipPath := filepath.Join(t.TempDir(), "android-cts.zip")
	req := &NewMultiCommandRequest{
		TestResources: []TestResource{
			{Name: "extra-config.txt", URL: "file:///tmp/extra-config.txt"},
			{Name: "android-cts.zip", URL: "file://" + zipPath},
		},
	}
	for _, cl := range commandLines {
		req.Commands = append(req.Commands, Command{CommandLine: cl})
	}
	return req
}

func TestAddTradefedJobsEmptyRequest(t *testing.T) {
	h := newTestHandler(t, &fakeCreator{}, &fakeExecutor{})
	s := &fakeSession{id: "req1"}

	detail := h.AddTradefedJobs(&NewMultiCommandRequest{}, s)
	assert.Equal(t, RequestStateCanceled, detail.State)
	assert.Equal(t, CancelReasonCommandNotAvailable, detail.CancelReason)
	assert.Empty(t, s.AllJobs())
}

func TestAddTradefedJobsHappyPath(t *testing.T) {
	h := newTestHandler(t, &fakeCreator{}, &fakeExecutor{})
	s := &fakeSession{id: "req1"}
	req := newTestRequest(t, "cts -m CtsExampleTestCases", "cts")

	detail := h.AddTradefedJobs(req, s)
	assert.Equal(t, RequestStateRunning, detail.State)
	require.Len(t, s.AllJobs(), 2)
	assert.Len(t, detail.CommandDetails, 2)
	for _, j := range s.AllJobs() {
		assert.True(t, j.IsTradefed())
		assert.Equal(t, types.RequestID("req1"), j.RequestID)
	}
}

func TestAddTradefedJobsMountFailureIsIsolated(t *testing.T) {
	// The second command's mount fails: that command is cancelled with an
	// invalid-resource reason, the others proceed.
	executor := &fakeExecutor{failMounts: map[int]bool{2: true}}
	h := newTestHandler(t, &fakeCreator{}, executor)
	s := &fakeSession{id: "req1"}
	req := newTestRequest(t, "cts -m ModuleOne", "cts -m ModuleTwo", "cts -m ModuleThree")

	detail := h.AddTradefedJobs(req, s)
	assert.Equal(t, RequestStateRunning, detail.State)
	require.Len(t, s.AllJobs(), 2)

	cd, ok := detail.CommandDetails["UNKNOWN_cts -m ModuleTwo"]
	require.True(t, ok)
	assert.Equal(t, CommandStateCanceled, cd.State)
	assert.Equal(t, CancelReasonInvalidResource, cd.CancelReason)
}

func TestAddTradefedJobsInvalidCommandCancelsRequest(t *testing.T) {
	h := newTestHandler(t, &fakeCreator{}, &fakeExecutor{})
	s := &fakeSession{id: "req1"}
	req := newTestRequest(t, "cts -m ModuleOne", "wrongsuite -m ModuleTwo", "cts -m ModuleThree")

	detail := h.AddTradefedJobs(req, s)
	assert.Equal(t, RequestStateCanceled, detail.State)
	assert.Equal(t, CancelReasonInvalidRequest, detail.CancelReason)

	cd, ok := detail.CommandDetails["UNKNOWN_wrongsuite -m ModuleTwo"]
	require.True(t, ok)
	assert.Equal(t, CommandStateCanceled, cd.State)
	assert.Equal(t, CancelReasonInvalidRequest, cd.CancelReason)

	// Processing stopped at the invalid command.
	assert.Len(t, s.AllJobs(), 1)
}

func TestAddTradefedJobsNoZipResource(t *testing.T) {
	h := newTestHandler(t, &fakeCreator{}, &fakeExecutor{})
	s := &fakeSession{id: "req1"}
	req := &NewMultiCommandRequest{
		Commands:      []Command{{CommandLine: "cts"}},
		TestResources: []TestResource{{Name: "other.zip", URL: "file:///tmp/other.zip"}},
	}

	detail := h.AddTradefedJobs(req, s)
	assert.Equal(t, RequestStateCanceled, detail.State)
	assert.Equal(t, CancelReasonInvalidRequest, detail.CancelReason)
	assert.Empty(t, s.AllJobs())
}

func TestAddTradefedJobsSkipsNonTradefedOnlyCommand(t *testing.T) {
	// The creator yields no tradefed job, but the cached descriptor says
	// the command has non-tradefed modules: the command is skipped, not
	// escalated.
	h := newTestHandler(t, &fakeCreator{tradefedNil: true, canNonTradefed: true}, &fakeExecutor{})
	s := &fakeSession{id: "req1"}
	req := newTestRequest(t, "cts -m MoblyOnlyModule")

	detail := h.AddTradefedJobs(req, s)
	assert.Equal(t, RequestStateRunning, detail.State)
	assert.Empty(t, s.AllJobs())
}

func TestAddTradefedJobsEscalatesOnCacheMissDespiteNonTradefed(t *testing.T) {
	// The command has non-tradefed modules, but its descriptor was never
	// resolved (no matching suite archive): without a cached descriptor the
	// cancellation escalates to the whole request.
	h := newTestHandler(t, &fakeCreator{canNonTradefed: true}, &fakeExecutor{})
	s := &fakeSession{id: "req1"}
	req := &NewMultiCommandRequest{
		Commands:      []Command{{CommandLine: "cts -m SomeModule"}},
		TestResources: []TestResource{{Name: "other.zip", URL: "file:///tmp/other.zip"}},
	}

	detail := h.AddTradefedJobs(req, s)
	assert.Equal(t, RequestStateCanceled, detail.State)
	assert.Equal(t, CancelReasonInvalidRequest, detail.CancelReason)
	assert.Empty(t, s.AllJobs())
}

func TestAddTradefedJobsNilJobEscalatesWithoutNonTradefed(t *testing.T) {
	h := newTestHandler(t, &fakeCreator{tradefedNil: true, canNonTradefed: false}, &fakeExecutor{})
	s := &fakeSession{id: "req1"}
	req := newTestRequest(t, "cts -m SomeModule")

	detail := h.AddTradefedJobs(req, s)
	assert.Equal(t, RequestStateCanceled, detail.State)
	assert.Equal(t, CancelReasonInvalidRequest, detail.CancelReason)
}

func TestAddNonTradefedJobs(t *testing.T) {
	creator := &fakeCreator{nonTradefed: 2, canNonTradefed: true}
	h := newTestHandler(t, creator, &fakeExecutor{})
	s := &fakeSession{id: "req1"}
	req := newTestRequest(t, "cts -m MoblyModule")

	h.AddTradefedJobs(req, s)
	before := len(s.AllJobs())

	details := h.AddNonTradefedJobs(req, 0, s)
	require.Len(t, details, 2)
	assert.Len(t, s.AllJobs(), before+2)
	for _, cd := range details {
		assert.NotEmpty(t, cd.ID)
		assert.Equal(t, "cts -m MoblyModule", cd.CommandLine)
	}
}

func TestAddNonTradefedJobsNoModules(t *testing.T) {
	h := newTestHandler(t, &fakeCreator{canNonTradefed: false}, &fakeExecutor{})
	s := &fakeSession{id: "req1"}
	req := newTestRequest(t, "cts -m NoSuchModule")

	h.AddTradefedJobs(req, s)
	assert.Empty(t, h.AddNonTradefedJobs(req, 0, s))
}

func TestAddNonTradefedJobsOutOfRangeIndex(t *testing.T) {
	h := newTestHandler(t, &fakeCreator{}, &fakeExecutor{})
	s := &fakeSession{id: "req1"}
	req := newTestRequest(t, "cts")
	assert.Empty(t, h.AddNonTradefedJobs(req, 5, s))
}

func TestHandleResultProcessingWritesMergedReport(t *testing.T) {
	executor := &fakeExecutor{}
	h := newTestHandler(t, &fakeCreator{}, executor)
	s := &fakeSession{id: "req1"}
	req := newTestRequest(t, "cts -m ModuleOne", "cts -m ModuleTwo")
	outDir := filepath.Join(t.TempDir(), "out")
	req.TestEnvironment.OutputFileUploadURL = "file://" + outDir

	detail := h.AddTradefedJobs(req, s)
	require.Equal(t, RequestStateRunning, detail.State)

	results := []JobResult{
		{Job: s.AllJobs()[0], Result: &report.Result{Modules: []report.ModuleResult{
			{Name: "arm64-v8a ModuleOne", Done: true, Passed: 3},
		}}},
		{Job: s.AllJobs()[1], Result: &report.Result{Modules: []report.ModuleResult{
			{Name: "arm64-v8a ModuleTwo", Done: true, Failed: 1},
		}}},
	}
	h.HandleResultProcessing(req, s, results)

	merged, err := report.ParseTradefedReportFile(filepath.Join(outDir, report.ReportFileName))
	require.NoError(t, err)
	assert.Len(t, merged.Modules, 2)

	// Result processing is always followed by cleanup.
	assert.Equal(t, 2, executor.unmountCount())
}

func TestHandleResultProcessingUnsupportedURLStillCleansUp(t *testing.T) {
	executor := &fakeExecutor{}
	h := newTestHandler(t, &fakeCreator{}, executor)
	s := &fakeSession{id: "req1"}
	req := newTestRequest(t, "cts -m ModuleOne")
	req.TestEnvironment.OutputFileUploadURL = "gs://bucket/results"

	h.AddTradefedJobs(req, s)
	h.HandleResultProcessing(req, s, nil)
	assert.Equal(t, 1, executor.unmountCount())
}

func TestCleanupUnmountsExactlyOnce(t *testing.T) {
	executor := &fakeExecutor{}
	h := newTestHandler(t, &fakeCreator{}, executor)
	s := &fakeSession{id: "req1"}
	req := newTestRequest(t, "cts -m ModuleOne", "cts -m ModuleTwo")

	h.AddTradefedJobs(req, s)
	h.Cleanup(s)
	assert.Equal(t, 2, executor.unmountCount())

	// A second cleanup has nothing left to unmount.
	h.Cleanup(s)
	assert.Equal(t, 2, executor.unmountCount())
}

func TestCleanupRemovesJobGenDirs(t *testing.T) {
	h := newTestHandler(t, &fakeCreator{}, &fakeExecutor{})
	s := &fakeSession{id: "req1"}

	genDir := filepath.Join(t.TempDir(), "job_gen")
	require.NoError(t, os.MkdirAll(genDir, 0o755))
	j := job.New("job1", job.KindTradefed)
	j.GenDir = genDir
	s.AddJob(j)

	h.Cleanup(s)
	_, err := os.Stat(genDir)
	assert.True(t, os.IsNotExist(err))
}
