// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package session

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/benbjohnson/clock"
	"github.com/davecgh/go-spew/spew"

	"github.com/devicelab/harness/pkg/event"
	"github.com/devicelab/harness/pkg/job"
	"github.com/devicelab/harness/pkg/report"
	"github.com/devicelab/harness/pkg/request"
	"github.com/devicelab/harness/pkg/runner"
	"github.com/devicelab/harness/pkg/storage"
)

// Session lifecycle events.
var (
	EventSessionStarting = event.Name("SessionStarting")
	EventSessionEnded    = event.Name("SessionEnded")
)

// moblySummaryFileName is the per-job summary file produced by mobly runs.
const moblySummaryFileName = "test_summary.yaml"

// Output is the final outcome of a session. Exactly one of Summary and Err
// is meaningful: a session always ends in a success with a result summary
// or in a failure with an error, never in limbo.
type Output struct {
	Summary string
	Err     error
}

// Succeeded returns whether the session produced a success output.
func (o Output) Succeeded() bool {
	return o.Err == nil
}

// Plugin drives one session end to end: job creation through the request
// handler, job execution through the runner, result merge and final output.
type Plugin struct {
	info       *Info
	handler    *request.Handler
	runner     *runner.JobRunner
	dispatcher runner.TestDispatcher
	clk        clock.Clock
	outputRoot string

	requests storage.RequestStorageManager
	emitter  event.Emitter
}

// NewPlugin returns a plugin for one session. outputRoot is the directory
// under which the timestamped result and log directories are created.
func NewPlugin(info *Info, handler *request.Handler, jobRunner *runner.JobRunner,
	dispatcher runner.TestDispatcher, clk clock.Clock, outputRoot string) *Plugin {
	return &Plugin{
		info:       info,
		handler:    handler,
		runner:     jobRunner,
		dispatcher: dispatcher,
		clk:        clk,
		outputRoot: outputRoot,
		requests:   storage.NewRequestStorageManager(),
		emitter:    storage.NewEventEmitter(),
	}
}

// OnSessionStarting validates the request, creates its jobs and starts
// them. The returned detail reflects the ingestion outcome; a cancelled
// detail means no job was started.
func (p *Plugin) OnSessionStarting(req *request.NewMultiCommandRequest) *request.RequestDetail {
	p.emit(EventSessionStarting)

	detail := p.handler.AddTradefedJobs(req, p.info)
	if detail.State == request.RequestStateCanceled {
		log.Warningf("Session %s cancelled at ingestion: %s", p.info.ID(), detail.CancelReason)
		p.storeDetail(detail)
		p.handler.Cleanup(p.info)
		return detail
	}
	for i := range req.Commands {
		for _, cd := range p.handler.AddNonTradefedJobs(req, i, p.info) {
			detail.CommandDetails[string(cd.ID)] = cd
		}
	}
	detail.UpdateTime = p.clk.Now()
	p.storeDetail(detail)
	log.Debugf("Session %s ingested request:\n%s", p.info.ID(), spew.Sdump(detail))

	for _, j := range p.info.AllJobs() {
		detail.SetCommandState(j.ID, request.CommandStateRunning)
		p.runner.StartJob(j, p.dispatcher)
	}
	return detail
}

// OnSessionEnded waits for the started jobs, merges their results, writes
// the request report and produces the final output. The output is always a
// success carrying the result summary or a failure carrying an error.
func (p *Plugin) OnSessionEnded(req *request.NewMultiCommandRequest, detail *request.RequestDetail) Output {
	defer p.emit(EventSessionEnded)

	if detail.State == request.RequestStateCanceled {
		return Output{Err: fmt.Errorf("request %s cancelled: %s", p.info.ID(), detail.CancelReason)}
	}

	p.runner.WaitAll()

	jobs := p.info.AllJobs()
	results := make([]request.JobResult, 0, len(jobs))
	var tradefedPartials, nonTradefedPartials []*report.Result
	var failedJobs int
	for _, j := range jobs {
		st, ok := p.runner.Status(j.ID)
		if !ok {
			log.Warningf("Job %s of session %s was never started", j.ID, p.info.ID())
			continue
		}
		detail.SetCommandState(j.ID, st.State)
		if st.Err != nil {
			failedJobs++
		}
		result := st.Result
		if result == nil {
			result = p.parseJobReport(j)
		}
		results = append(results, request.JobResult{Job: j, Result: result})
		if j.IsTradefed() {
			tradefedPartials = append(tradefedPartials, result)
		} else {
			nonTradefedPartials = append(nonTradefedPartials, result)
		}
	}
	detail.UpdateTime = p.clk.Now()
	p.storeDetail(detail)

	p.handler.HandleResultProcessing(req, p.info, results)

	if len(jobs) > 0 && failedJobs == len(jobs) {
		return Output{Err: fmt.Errorf("all %d jobs of request %s failed", len(jobs), p.info.ID())}
	}

	tradefed, err := report.Merge(tradefedPartials, false)
	if err != nil {
		return Output{Err: fmt.Errorf("cannot merge tradefed results of request %s: %w", p.info.ID(), err)}
	}
	nonTradefed, err := report.Merge(nonTradefedPartials, false)
	if err != nil {
		return Output{Err: fmt.Errorf("cannot merge non-tradefed results of request %s: %w", p.info.ID(), err)}
	}

	xtsType := "xts"
	if len(req.Commands) > 0 {
		if info := firstWord(req.Commands[0].CommandLine); info != "" {
			xtsType = info
		}
	}
	resultDir, logDir := p.sessionDirs()
	return Output{Summary: xtsTestResultSummary(xtsType, tradefed, nonTradefed, resultDir, logDir)}
}

// sessionDirs returns the timestamped result and log directories of the
// session, creating them if needed.
func (p *Plugin) sessionDirs() (resultDir, logDir string) {
	ts, _ := p.info.Property(PropertyTimestampDirName)
	resultDir = filepath.Join(p.outputRoot, "results", ts)
	logDir = filepath.Join(p.outputRoot, "logs", ts)
	for _, dir := range []string{resultDir, logDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Warningf("Cannot prepare session dir %s: %v", dir, err)
		}
	}
	return resultDir, logDir
}

// parseJobReport extracts a partial result from the job's gen dir, for
// dispatchers that leave report files behind instead of returning parsed
// results. A missing report file is not an error, the job simply
// contributes nothing to the merge.
func (p *Plugin) parseJobReport(j *job.Job) *report.Result {
	if j.GenDir == "" {
		return nil
	}
	var (
		result *report.Result
		err    error
	)
	if j.IsTradefed() {
		result, err = report.ParseTradefedReportFile(filepath.Join(j.GenDir, report.ReportFileName))
	} else {
		result, err = report.ParseMoblyReportFile(filepath.Join(j.GenDir, moblySummaryFileName), j.Module)
	}
	if err != nil {
		log.Debugf("No parseable report for job %s: %v", j.ID, err)
		return nil
	}
	return result
}

func (p *Plugin) storeDetail(detail *request.RequestDetail) {
	if err := p.requests.StoreRequestDetail(detail); err != nil {
		log.Warningf("Cannot persist request detail %s: %v", detail.ID, err)
	}
}

func (p *Plugin) emit(name event.Name) {
	ev := event.Event{
		RequestID: p.info.ID(),
		EventName: name,
		EmitTime:  p.clk.Now(),
	}
	if err := p.emitter.Emit(ev); err != nil {
		log.Warningf("Cannot emit session event %s: %v", name, err)
	}
}

// firstWord returns the first whitespace-separated token of s.
func firstWord(s string) string {
	for i, r := range s {
		if r == ' ' || r == '\t' {
			return s[:i]
		}
	}
	return s
}
