// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

// Package local implements a test dispatcher that runs the suite tooling
// on the harness host itself. It is intended for single-host labs and for
// development; production deployments dispatch to remote lab hosts instead.
package local

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/devicelab/harness/pkg/device"
	"github.com/devicelab/harness/pkg/job"
	"github.com/devicelab/harness/pkg/logging"
	"github.com/devicelab/harness/pkg/mounter"
	"github.com/devicelab/harness/pkg/report"
	"github.com/devicelab/harness/plugins/jobcreator/xts"
)

var log = logging.GetLogger("plugin/dispatchers/local")

// moblySummaryFileName is the summary file mobly runs leave in the job's
// gen dir.
const moblySummaryFileName = "test_summary.yaml"

// Dispatcher runs jobs through the suite tooling of the mounted xts root.
// Commands run through a mounter.Executor so that tests can fake them.
type Dispatcher struct {
	executor mounter.Executor
	timeout  time.Duration
}

// New returns a dispatcher running commands through the given executor,
// each bounded by the given timeout.
func New(executor mounter.Executor, timeout time.Duration) *Dispatcher {
	return &Dispatcher{executor: executor, timeout: timeout}
}

// Dispatch implements runner.TestDispatcher. The partial result is parsed
// from the report file the tooling leaves in the job's gen dir; a job that
// ran but produced no report contributes no result and no error.
func (d *Dispatcher) Dispatch(j *job.Job, devices []device.Device) (*report.Result, error) {
	xtsRoot := j.Properties[xts.PropertyXtsRootDir]
	xtsType := j.Properties[xts.PropertyXtsType]
	if xtsRoot == "" || xtsType == "" {
		return nil, fmt.Errorf("job %s carries no suite location properties", j.ID)
	}
	serials := make([]string, 0, len(devices))
	for _, dev := range devices {
		serials = append(serials, dev.ID)
	}

	var err error
	if j.IsTradefed() {
		err = d.runTradefed(j, xtsRoot, xtsType, serials)
	} else {
		err = d.runMobly(j, xtsRoot, xtsType, serials)
	}
	if err != nil {
		return nil, err
	}
	return d.parseReport(j)
}

// runTradefed invokes the suite's tradefed launcher, e.g.
// android-cts/tools/cts-tradefed.
func (d *Dispatcher) runTradefed(j *job.Job, xtsRoot, xtsType string, serials []string) error {
	tool := filepath.Join(xtsRoot, "android-"+xtsType, "tools", xtsType+"-tradefed")
	args := []string{"run", "commandAndExit", j.Properties[xts.PropertyTestPlan]}
	for _, serial := range serials {
		args = append(args, "-s", serial)
	}
	if j.Selector.Count > 1 {
		args = append(args, "--shard-count", strconv.Itoa(j.Selector.Count))
	}
	args = append(args, "--log-file-path", j.GenDir)
	return d.run(j, tool, args)
}

// runMobly invokes the module's mobly package with the job's gen dir as
// its output directory.
func (d *Dispatcher) runMobly(j *job.Job, xtsRoot, xtsType string, serials []string) error {
	moduleDir := filepath.Join(xtsRoot, "android-"+xtsType, "testcases", j.Module)
	args := []string{
		filepath.Join(moduleDir, j.Module+".py"),
		"-c", filepath.Join(moduleDir, "mobly.yaml"),
		"--log_path", j.GenDir,
	}
	if len(serials) > 0 {
		args = append(args, "--device_serial", strings.Join(serials, ","))
	}
	return d.run(j, "python3", args)
}

func (d *Dispatcher) run(j *job.Job, name string, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	log.Infof("Job %s: running %s %s", j.ID, name, strings.Join(args, " "))
	out, err := d.executor.Run(ctx, name, args...)
	if err != nil {
		if strings.TrimSpace(out) != "" {
			log.Debugf("Job %s: %s output: %s", j.ID, name, strings.TrimSpace(out))
		}
		return fmt.Errorf("job %s: %s failed: %w", j.ID, name, err)
	}
	return nil
}

func (d *Dispatcher) parseReport(j *job.Job) (*report.Result, error) {
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
		log.Warningf("Job %s left no parseable report: %v", j.ID, err)
		return nil, nil
	}
	return result, nil
}
