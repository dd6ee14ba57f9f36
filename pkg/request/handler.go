// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package request

import (
	"net/url"
	"os"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/devicelab/harness/pkg/cerrors"
	"github.com/devicelab/harness/pkg/job"
	"github.com/devicelab/harness/pkg/logging"
	"github.com/devicelab/harness/pkg/mounter"
	"github.com/devicelab/harness/pkg/report"
	"github.com/devicelab/harness/pkg/types"
)

var log = logging.GetLogger("pkg/request")

// Session is the view of the owning session the handler needs: its
// identity and the registry of jobs created on its behalf.
type Session interface {
	ID() types.RequestID
	AddJob(*job.Job)
	AllJobs() []*job.Job
}

// JobCreator creates the actual jobs out of a validated descriptor. It is a
// collaborator of the orchestrator: job semantics (drivers, device probing)
// live behind it.
type JobCreator interface {
	// CreateTradefedJob returns the monolithic tradefed job for the
	// descriptor, or nil if the descriptor legitimately yields none.
	CreateTradefedJob(info *RequestInfo) (*job.Job, error)
	// CreateNonTradefedJobs returns one job per matched module/shard.
	CreateNonTradefedJobs(info *RequestInfo) ([]*job.Job, error)
	// CanCreateNonTradefedJobs reports whether any installed test module
	// matches the descriptor's filters.
	CanCreateNonTradefedJobs(info *RequestInfo) bool
}

// JobResult pairs a finished job with its parsed partial result, nil when
// the job produced none.
type JobResult struct {
	Job    *job.Job
	Result *report.Result
}

// Handler orchestrates one multi-command request. It is owned by one
// session and must not be shared across requests: the descriptor cache and
// the mount bookkeeping are per-request state, keyed by the command index
// assigned at ingestion.
type Handler struct {
	creator JobCreator
	mounter *mounter.Mounter
	clk     clock.Clock
	genDir  string

	mu        sync.Mutex
	infoCache map[int]*RequestInfo
	mounts    map[int]string
}

// NewHandler returns a handler for a single request. genDir is the root
// under which per-session directories are created.
func NewHandler(creator JobCreator, m *mounter.Mounter, clk clock.Clock, genDir string) *Handler {
	return &Handler{
		creator:   creator,
		mounter:   m,
		clk:       clk,
		genDir:    genDir,
		infoCache: make(map[int]*RequestInfo),
		mounts:    make(map[int]string),
	}
}

// AddTradefedJobs validates every command of the request in list order and
// creates its tradefed job. A request without commands is cancelled
// immediately. A command whose resource failed to mount is cancelled in
// isolation and processing continues; any other invalid command cancels the
// whole request and stops processing, unless the command is known from the
// descriptor cache to be non-tradefed-only, in which case the missing
// tradefed job is expected. A missing cache entry at that check escalates.
func (h *Handler) AddTradefedJobs(req *NewMultiCommandRequest, s Session) *RequestDetail {
	now := h.clk.Now()
	detail := &RequestDetail{
		ID:             s.ID(),
		State:          RequestStateRunning,
		CreateTime:     now,
		StartTime:      now,
		Commands:       req.Commands,
		CommandDetails: make(map[string]CommandDetail),
	}
	if len(req.Commands) == 0 {
		detail.State = RequestStateCanceled
		detail.CancelReason = CancelReasonCommandNotAvailable
		return detail
	}
	for i, cmd := range req.Commands {
		cd := h.createTradefedJob(req, i, s)
		if cd.State == CommandStateCanceled {
			if info, ok := h.cachedInfo(i); ok && h.creator.CanCreateNonTradefedJobs(info) {
				log.Infof("Skip creating tradefed job for non-tradefed only command: %s", cmd.CommandLine)
				continue
			}
			if cd.CancelReason == CancelReasonInvalidResource {
				log.Warningf("Invalid resource for command %q, continuing with remaining commands", cmd.CommandLine)
				detail.CommandDetails["UNKNOWN_"+cmd.CommandLine] = cd
				continue
			}
			detail.State = RequestStateCanceled
			detail.CancelReason = CancelReasonInvalidRequest
			detail.CommandDetails["UNKNOWN_"+cmd.CommandLine] = cd
			return detail
		}
		detail.CommandDetails[string(cd.ID)] = cd
	}
	detail.UpdateTime = h.clk.Now()
	return detail
}

// createTradefedJob resolves the command's descriptor and creates its
// tradefed job, reporting the outcome as a CommandDetail.
func (h *Handler) createTradefedJob(req *NewMultiCommandRequest, commandIndex int, s Session) CommandDetail {
	cmd := req.Commands[commandIndex]
	cd := CommandDetail{CommandLine: cmd.CommandLine, State: CommandStateUnknown}

	info, err := h.resolveRequestInfo(req, commandIndex, s)
	if err != nil {
		cd.State = CommandStateCanceled
		if cerrors.IsInvalidResource(err) {
			cd.CancelReason = CancelReasonInvalidResource
		} else {
			cd.CancelReason = CancelReasonInvalidRequest
		}
		log.Warningf("Cannot validate command %q: %v", cmd.CommandLine, err)
		return cd
	}
	h.mu.Lock()
	h.infoCache[commandIndex] = info
	h.mu.Unlock()

	j, err := h.creator.CreateTradefedJob(info)
	if err != nil || j == nil {
		if err != nil {
			log.Warningf("Cannot create tradefed job for command %q: %v", cmd.CommandLine, err)
		}
		cd.State = CommandStateCanceled
		cd.CancelReason = CancelReasonInvalidRequest
		return cd
	}
	j.Properties[job.TradefedJobProperty] = "true"
	j.RequestID = s.ID()
	s.AddJob(j)
	cd.ID = j.ID
	log.Infof("Added tradefed job[%s] to session %s", j.ID, s.ID())
	return cd
}

// AddNonTradefedJobs creates the sharded non-tradefed jobs of one command.
// Failures here are isolated: they are logged and yield zero jobs, never a
// request-level cancellation.
func (h *Handler) AddNonTradefedJobs(req *NewMultiCommandRequest, commandIndex int, s Session) []CommandDetail {
	if commandIndex < 0 || commandIndex >= len(req.Commands) {
		return nil
	}
	cmd := req.Commands[commandIndex]

	info, ok := h.cachedInfo(commandIndex)
	if !ok {
		var err error
		info, err = h.resolveRequestInfo(req, commandIndex, s)
		if err != nil {
			log.Warningf("Failed to generate request info for command %q: %v", cmd.CommandLine, err)
			return nil
		}
	}

	if !h.creator.CanCreateNonTradefedJobs(info) {
		log.Infof("No valid module(s) matched, no non-tradefed jobs will run for command %q", cmd.CommandLine)
		return nil
	}
	jobs, err := h.creator.CreateNonTradefedJobs(info)
	if err != nil {
		log.Warningf("Cannot create non-tradefed jobs for command %q: %v", cmd.CommandLine, err)
		return nil
	}
	if len(jobs) == 0 {
		log.Infof("No valid module(s) matched, no non-tradefed jobs will run for command %q", cmd.CommandLine)
		return nil
	}

	var details []CommandDetail
	for _, j := range jobs {
		j.RequestID = s.ID()
		s.AddJob(j)
		details = append(details, CommandDetail{
			ID:          j.ID,
			CommandLine: cmd.CommandLine,
			State:       CommandStateUnknown,
		})
		log.Infof("Added non-tradefed job[%s] to session %s", j.ID, s.ID())
	}
	return details
}

// HandleResultProcessing merges the per-job partial results and writes the
// merged report to the request's output location. Only file:// output
// upload URLs are supported; anything else skips report generation with a
// warning. Cleanup always runs, whatever the outcome.
func (h *Handler) HandleResultProcessing(req *NewMultiCommandRequest, s Session, results []JobResult) {
	defer h.Cleanup(s)

	u, err := url.Parse(req.TestEnvironment.OutputFileUploadURL)
	if err != nil {
		log.Warningf("Failed to parse output file upload url %q, skip processing result: %v",
			req.TestEnvironment.OutputFileUploadURL, err)
		return
	}
	if u.Scheme != "file" {
		log.Warningf("Skip processing result for unsupported output upload url: %s",
			req.TestEnvironment.OutputFileUploadURL)
		return
	}

	partials := make([]*report.Result, 0, len(results))
	for _, r := range results {
		partials = append(partials, r.Result)
	}
	merged, err := report.Merge(partials, false)
	if err != nil {
		log.Warningf("Failed to merge results for request %s: %v", s.ID(), err)
		return
	}
	if merged == nil {
		log.Warningf("No results to merge for request %s, skip report generation", s.ID())
		return
	}
	if err := os.MkdirAll(u.Path, 0o755); err != nil {
		log.Warningf("Cannot prepare output dir %s: %v", u.Path, err)
		return
	}
	path, err := report.WriteTradefedReportFile(merged, u.Path)
	if err != nil {
		log.Warningf("Failed to write merged report for request %s: %v", s.ID(), err)
		return
	}
	log.Infof("Wrote merged report of request %s to %s", s.ID(), path)
}

// Cleanup removes the job gen dirs and unmounts every mounted resource
// exactly once. Failures are logged, never propagated: by the time cleanup
// runs the primary outcome is already determined.
func (h *Handler) Cleanup(s Session) {
	for _, j := range s.AllJobs() {
		if j.GenDir == "" {
			continue
		}
		if err := os.RemoveAll(j.GenDir); err != nil {
			log.Warningf("Failed to clean up gen dir %s of job %s: %v", j.GenDir, j.ID, err)
		}
	}
	h.mu.Lock()
	mounts := h.mounts
	h.mounts = make(map[int]string)
	h.mu.Unlock()
	for _, dir := range mounts {
		if err := h.mounter.UnmountZip(dir); err != nil {
			log.Warningf("Failed to unmount xts root directory %s: %v", dir, err)
		}
	}
}

func (h *Handler) cachedInfo(commandIndex int) (*RequestInfo, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	info, ok := h.infoCache[commandIndex]
	return info, ok
}
