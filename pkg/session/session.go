// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

// Package session implements the session plugin layer: one session per
// multi-command request, owning the jobs created on its behalf and
// producing the final output of the run.
package session

import (
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/devicelab/harness/pkg/job"
	"github.com/devicelab/harness/pkg/logging"
	"github.com/devicelab/harness/pkg/types"
)

var log = logging.GetLogger("pkg/session")

// PropertyTimestampDirName is the session property carrying the
// timestamped name shared by the session's result and log directories.
const PropertyTimestampDirName = "timestamp_dir_name"

// timestampDirFormat is the layout of the timestamped directory names.
const timestampDirFormat = "2006.01.02_15.04.05"

// Info is the per-session registry: the session identity, the jobs added
// by the request handlers and a freeform property set.
type Info struct {
	id  types.RequestID
	clk clock.Clock

	mu         sync.Mutex
	jobs       []*job.Job
	properties map[string]string
}

// NewInfo returns a session registry for the given request. The timestamp
// directory name property is assigned at creation time.
func NewInfo(id types.RequestID, clk clock.Clock) *Info {
	info := &Info{
		id:         id,
		clk:        clk,
		properties: make(map[string]string),
	}
	info.properties[PropertyTimestampDirName] = clk.Now().Format(timestampDirFormat)
	return info
}

// ID returns the session's request ID.
func (s *Info) ID() types.RequestID {
	return s.id
}

// AddJob registers a job created on behalf of this session.
func (s *Info) AddJob(j *job.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, j)
}

// AllJobs returns a snapshot of the jobs registered so far.
func (s *Info) AllJobs() []*job.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := make([]*job.Job, len(s.jobs))
	copy(jobs, s.jobs)
	return jobs
}

// SetProperty sets a session property.
func (s *Info) SetProperty(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.properties[name] = value
}

// Property returns a session property.
func (s *Info) Property(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.properties[name]
	return value, ok
}
