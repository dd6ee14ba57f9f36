// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

// Package xts implements the default job creator. It turns validated
// request descriptors into tradefed and non-tradefed jobs, discovering
// non-tradefed modules from the mounted suite layout.
package xts

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/devicelab/harness/pkg/config"
	"github.com/devicelab/harness/pkg/device"
	"github.com/devicelab/harness/pkg/job"
	"github.com/devicelab/harness/pkg/logging"
	"github.com/devicelab/harness/pkg/request"
	"github.com/devicelab/harness/pkg/types"
)

var log = logging.GetLogger("plugin/jobcreator/xts")

// Job properties set on created jobs, consumed by dispatchers to locate
// the mounted suite.
const (
	PropertyXtsRootDir = "xts_root_dir"
	PropertyXtsType    = "xts_type"
	PropertyTestPlan   = "test_plan"
)

// moblyConfigName marks a testcases subdirectory as a mobly-driven module.
// Modules without it run under tradefed only.
const moblyConfigName = "mobly.yaml"

// Creator creates xts jobs under a gen dir. It implements
// request.JobCreator.
type Creator struct {
	genDir string
	clk    clock.Clock
}

// New initializes and returns a new Creator. genDir is the root under which
// per-job directories are created.
func New(genDir string, clk clock.Clock) *Creator {
	return &Creator{genDir: genDir, clk: clk}
}

// CreateTradefedJob returns the monolithic tradefed job for the descriptor.
func (c *Creator) CreateTradefedJob(info *request.RequestInfo) (*job.Job, error) {
	j := job.New(types.JobID(uuid.New().String()), job.KindTradefed)
	j.Name = fmt.Sprintf("xts-tradefed-%s", info.TestPlan)
	j.Selector = c.selector(info)
	c.applyTimeouts(j, info)
	c.applySuiteProperties(j, info)
	if err := c.prepareGenDir(j); err != nil {
		return nil, err
	}
	return j, nil
}

// CreateNonTradefedJobs returns one job per matched mobly module and shard.
func (c *Creator) CreateNonTradefedJobs(info *request.RequestInfo) ([]*job.Job, error) {
	modules, err := c.matchedModules(info)
	if err != nil {
		return nil, err
	}
	shards := info.ShardCount
	if shards <= 0 {
		shards = 1
	}
	var jobs []*job.Job
	for _, module := range modules {
		for shard := 0; shard < shards; shard++ {
			j := job.New(types.JobID(uuid.New().String()), job.KindNonTradefed)
			j.Name = fmt.Sprintf("xts-mobly-%s-%s", info.TestPlan, module)
			j.Module = module
			j.Shard = shard
			j.Selector = c.selector(info)
			// Mobly modules drive one device per shard.
			j.Selector.Count = 1
			c.applyTimeouts(j, info)
			c.applySuiteProperties(j, info)
			if err := c.prepareGenDir(j); err != nil {
				return nil, err
			}
			jobs = append(jobs, j)
		}
	}
	return jobs, nil
}

// CanCreateNonTradefedJobs reports whether any mobly module matches the
// descriptor's module filters.
func (c *Creator) CanCreateNonTradefedJobs(info *request.RequestInfo) bool {
	modules, err := c.matchedModules(info)
	if err != nil {
		log.Debugf("Cannot list mobly modules under %s: %v", info.XtsRootDir, err)
		return false
	}
	return len(modules) > 0
}

// matchedModules lists the mobly modules installed in the mounted suite and
// filters them by the descriptor's module names.
func (c *Creator) matchedModules(info *request.RequestInfo) ([]string, error) {
	testcasesDir := filepath.Join(info.XtsRootDir, "android-"+info.XtsType, "testcases")
	entries, err := os.ReadDir(testcasesDir)
	if err != nil {
		return nil, fmt.Errorf("cannot list testcases dir %s: %w", testcasesDir, err)
	}
	wanted := make(map[string]bool, len(info.ModuleNames))
	for _, name := range info.ModuleNames {
		wanted[name] = true
	}
	var modules []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(testcasesDir, entry.Name(), moblyConfigName)); err != nil {
			continue
		}
		if len(wanted) > 0 && !wanted[entry.Name()] {
			continue
		}
		modules = append(modules, entry.Name())
	}
	return modules, nil
}

func (c *Creator) selector(info *request.RequestInfo) device.Selector {
	count := 1
	if len(info.DeviceSerials) > 0 {
		count = len(info.DeviceSerials)
	} else if info.ShardCount > 1 {
		count = info.ShardCount
	}
	return device.Selector{
		Serials:    append([]string(nil), info.DeviceSerials...),
		Dimensions: info.DeviceDimensions,
		Count:      count,
	}
}

func (c *Creator) applyTimeouts(j *job.Job, info *request.RequestInfo) {
	j.Timeout = info.JobTimeout
	j.StartTimeout = info.StartTimeout
	if j.StartTimeout <= 0 {
		j.StartTimeout = config.DeviceAllocationTimeout
	}
	if j.Timeout <= 0 {
		j.Timeout = 24 * time.Hour
	}
}

func (c *Creator) applySuiteProperties(j *job.Job, info *request.RequestInfo) {
	j.Properties[PropertyXtsRootDir] = info.XtsRootDir
	j.Properties[PropertyXtsType] = info.XtsType
	j.Properties[PropertyTestPlan] = info.TestPlan
}

func (c *Creator) prepareGenDir(j *job.Job) error {
	j.GenDir = filepath.Join(c.genDir, "job_"+j.ID.String())
	if err := os.MkdirAll(j.GenDir, 0o755); err != nil {
		return fmt.Errorf("cannot prepare gen dir for job %s: %w", j.ID, err)
	}
	return nil
}
