// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

// Package manager implements the request manager, the consumer of API
// events. It owns the live sessions: one session per multi-command request,
// each driven by its own session plugin.
package manager

import (
	"context"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/devicelab/harness/pkg/api"
	"github.com/devicelab/harness/pkg/logging"
	"github.com/devicelab/harness/pkg/mounter"
	"github.com/devicelab/harness/pkg/request"
	"github.com/devicelab/harness/pkg/runner"
	"github.com/devicelab/harness/pkg/scheduler"
	"github.com/devicelab/harness/pkg/session"
	"github.com/devicelab/harness/pkg/storage"
	"github.com/devicelab/harness/pkg/types"
)

var log = logging.GetLogger("pkg/manager")

// sessionState tracks one live session until its output is produced.
type sessionState struct {
	info   *session.Info
	done   chan struct{}
	output session.Output
}

// RequestManager consumes API events and drives sessions end to end.
type RequestManager struct {
	apiInstance *api.API
	sched       *scheduler.Scheduler
	creator     request.JobCreator
	mnt         *mounter.Mounter
	dispatcher  runner.TestDispatcher
	clk         clock.Clock
	genDir      string
	outputRoot  string

	requests storage.RequestStorageManager

	mu       sync.Mutex
	sessions map[types.RequestID]*sessionState
}

// New initializes and returns a new RequestManager.
func New(apiInstance *api.API, sched *scheduler.Scheduler, creator request.JobCreator,
	mnt *mounter.Mounter, dispatcher runner.TestDispatcher, clk clock.Clock,
	genDir, outputRoot string) *RequestManager {
	return &RequestManager{
		apiInstance: apiInstance,
		sched:       sched,
		creator:     creator,
		mnt:         mnt,
		dispatcher:  dispatcher,
		clk:         clk,
		genDir:      genDir,
		outputRoot:  outputRoot,
		requests:    storage.NewRequestStorageManager(),
		sessions:    make(map[types.RequestID]*sessionState),
	}
}

// Run consumes API events until the context is cancelled. In-flight
// sessions keep running through cancellation so that cleanup can complete.
func (m *RequestManager) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			log.Infof("Request manager shutting down")
			return nil
		case ev := <-m.apiInstance.Events:
			m.handleEvent(ev)
		}
	}
}

func (m *RequestManager) handleEvent(ev *api.Event) {
	var resp *api.EventResponse
	switch msg := ev.Msg.(type) {
	case api.EventNewRequestMsg:
		resp = m.handleNewRequest(msg.Request)
	case api.EventStatusMsg:
		resp = m.handleStatus(msg.RequestID)
	case api.EventCancelMsg:
		resp = m.handleCancel(msg.RequestID)
	default:
		resp = &api.EventResponse{Err: fmt.Errorf("unknown API event type %d", ev.Type)}
	}
	select {
	case ev.RespCh <- resp:
	default:
		log.Warningf("API event response channel full, dropping response")
	}
}

// handleNewRequest creates a session for the request and starts it. The
// request ID is returned immediately; ingestion runs on the session's own
// goroutine, so mounting suite archives never stalls the event loop.
// Ingestion-time cancellation is visible through the stored request detail.
func (m *RequestManager) handleNewRequest(req *request.NewMultiCommandRequest) *api.EventResponse {
	if req == nil {
		return &api.EventResponse{Err: fmt.Errorf("request cannot be nil")}
	}
	id := types.RequestID(uuid.New().String())
	info := session.NewInfo(id, m.clk)
	handler := request.NewHandler(m.creator, m.mnt, m.clk, m.genDir)
	jobRunner := runner.New(m.sched, m.clk)
	plugin := session.NewPlugin(info, handler, jobRunner, m.dispatcher, m.clk, m.outputRoot)

	state := &sessionState{
		info: info,
		done: make(chan struct{}),
	}
	m.mu.Lock()
	m.sessions[id] = state
	m.mu.Unlock()

	go func() {
		detail := plugin.OnSessionStarting(req)
		state.output = plugin.OnSessionEnded(req, detail)
		if state.output.Succeeded() {
			log.Infof("Request %s finished:%s", id, state.output.Summary)
		} else {
			log.Warningf("Request %s failed: %v", id, state.output.Err)
		}
		close(state.done)
	}()
	return &api.EventResponse{RequestID: id}
}

// handleStatus returns the last stored detail snapshot of the request.
func (m *RequestManager) handleStatus(id types.RequestID) *api.EventResponse {
	detail, err := m.requests.GetRequestDetail(id)
	if err != nil {
		return &api.EventResponse{RequestID: id, Err: err}
	}
	return &api.EventResponse{RequestID: id, Detail: detail}
}

// handleCancel cancels every job of a live session. Cancelling an unknown
// or already finished request is an error.
func (m *RequestManager) handleCancel(id types.RequestID) *api.EventResponse {
	m.mu.Lock()
	state, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return &api.EventResponse{RequestID: id, Err: fmt.Errorf("no such request: %s", id)}
	}
	select {
	case <-state.done:
		return &api.EventResponse{RequestID: id, Err: fmt.Errorf("request %s already finished", id)}
	default:
	}
	for _, j := range state.info.AllJobs() {
		if !j.IsCancelled() {
			j.Cancel()
		}
	}
	log.Infof("Cancelled request %s", id)
	return &api.EventResponse{RequestID: id}
}

// WaitRequest blocks until the session of the request produced its output.
func (m *RequestManager) WaitRequest(id types.RequestID) (session.Output, error) {
	m.mu.Lock()
	state, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return session.Output{}, fmt.Errorf("no such request: %s", id)
	}
	<-state.done
	return state.output, nil
}
