// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

// Package api implements the communication between clients and the request
// manager. Client-facing listeners translate their transport into API
// events; the request manager consumes them from the events channel.
package api

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/devicelab/harness/pkg/request"
	"github.com/devicelab/harness/pkg/types"
)

// CurrentAPIVersion is the version of the API that clients must speak.
// Versioning starts at 1, 0 is an error indicator.
const CurrentAPIVersion uint32 = 1

// DefaultEventTimeout is the default time to wait for sending or receiving
// an event on the events channel.
var DefaultEventTimeout = 3 * time.Second

// EventType identifies the API operation carried by an event.
type EventType int

// API event types.
const (
	// EventTypeNewRequest submits a new multi-command request.
	EventTypeNewRequest EventType = iota
	// EventTypeStatus polls the detail of a request.
	EventTypeStatus
	// EventTypeCancel cancels a running request.
	EventTypeCancel
)

// EventNewRequestMsg carries a new multi-command request.
type EventNewRequestMsg struct {
	Request *request.NewMultiCommandRequest
}

// EventStatusMsg requests the detail of a request by ID.
type EventStatusMsg struct {
	RequestID types.RequestID
}

// EventCancelMsg requests the cancellation of a request by ID.
type EventCancelMsg struct {
	RequestID types.RequestID
}

// EventResponse is the manager's answer to one API event.
type EventResponse struct {
	RequestID types.RequestID
	Detail    *request.RequestDetail
	Err       error
}

// Event is one API operation in flight on the events channel.
type Event struct {
	Context  context.Context
	Type     EventType
	ServerID string
	Msg      interface{}
	RespCh   chan *EventResponse
}

// ResponseType identifies the response flavor.
type ResponseType int

// API response types.
const (
	ResponseTypeVersion ResponseType = iota
	ResponseTypeNewRequest
	ResponseTypeStatus
	ResponseTypeCancel
)

// ResponseTypeToName maps response types to the mnemonic strings used in
// transport-level responses.
var ResponseTypeToName = map[ResponseType]string{
	ResponseTypeVersion:    "version",
	ResponseTypeNewRequest: "newRequest",
	ResponseTypeStatus:     "status",
	ResponseTypeCancel:     "cancel",
}

// Response is what listeners hand back to their clients.
type Response struct {
	Type     ResponseType
	ServerID string
	Data     interface{}
	Err      error
}

// ResponseDataVersion is the data of a version response.
type ResponseDataVersion struct {
	Version uint32
}

// ResponseDataNewRequest is the data of a new-request response.
type ResponseDataNewRequest struct {
	RequestID types.RequestID
}

// ResponseDataStatus is the data of a status response.
type ResponseDataStatus struct {
	Detail *request.RequestDetail
}

// ServerIDFunc is used to return a custom server ID in api responses.
type ServerIDFunc func() string

// API routes events between client listeners and the request manager.
type API struct {
	// Events routes API events between listeners and the request manager.
	Events chan *Event

	serverID     string
	eventTimeout time.Duration
}

// Option is an option setter for New.
type Option func(*API)

// OptionServerID sets a custom server ID generation function.
func OptionServerID(f ServerIDFunc) Option {
	return func(a *API) {
		if f != nil {
			a.serverID = f()
		}
	}
}

// OptionEventTimeout overrides the event send/receive timeout.
func OptionEventTimeout(timeout time.Duration) Option {
	return func(a *API) {
		a.eventTimeout = timeout
	}
}

// New returns an initialized API instance.
func New(opts ...Option) *API {
	serverID := "<unknown>"
	if hn, err := os.Hostname(); err == nil {
		serverID = hn
	}
	a := &API{
		Events:       make(chan *Event),
		serverID:     serverID,
		eventTimeout: DefaultEventTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ServerID returns the server ID used in responses.
func (a *API) ServerID() string {
	return a.serverID
}

func (a *API) newResponse(rtype ResponseType) Response {
	return Response{
		Type:     rtype,
		ServerID: a.serverID,
	}
}

// Version returns the version of the API. It is the client's responsibility
// to check whether it can talk the right version.
func (a *API) Version() Response {
	resp := a.newResponse(ResponseTypeVersion)
	resp.Data = ResponseDataVersion{Version: CurrentAPIVersion}
	return resp
}

// SendReceiveEvent sends an event on the events channel and waits for the
// manager's reply. The timeout applies once to the send and once to the
// receive, it is not cumulative.
func (a *API) SendReceiveEvent(ev *Event) (*EventResponse, error) {
	select {
	case a.Events <- ev:
	case <-time.After(a.eventTimeout):
		return nil, fmt.Errorf("sending event timed out after %v", a.eventTimeout)
	case <-ev.Context.Done():
		return nil, ev.Context.Err()
	}
	select {
	case resp := <-ev.RespCh:
		return resp, nil
	case <-time.After(a.eventTimeout):
		return nil, fmt.Errorf("timed out waiting for response after %v", a.eventTimeout)
	case <-ev.Context.Done():
		return nil, ev.Context.Err()
	}
}

// NewRequest submits a new multi-command request and returns the generated
// request ID. Ingestion-time validation outcomes are reflected in the
// stored request detail, not in this response.
func (a *API) NewRequest(ctx context.Context, req *request.NewMultiCommandRequest) (Response, error) {
	resp := a.newResponse(ResponseTypeNewRequest)
	ev := &Event{
		Context: ctx,
		Type:    EventTypeNewRequest,
		Msg:     EventNewRequestMsg{Request: req},
		RespCh:  make(chan *EventResponse, 1),
	}
	respEv, err := a.SendReceiveEvent(ev)
	if err != nil {
		return resp, err
	}
	resp.Data = ResponseDataNewRequest{RequestID: respEv.RequestID}
	resp.Err = respEv.Err
	return resp, nil
}

// Status polls the detail of a request by its ID.
func (a *API) Status(ctx context.Context, id types.RequestID) (Response, error) {
	resp := a.newResponse(ResponseTypeStatus)
	ev := &Event{
		Context: ctx,
		Type:    EventTypeStatus,
		Msg:     EventStatusMsg{RequestID: id},
		RespCh:  make(chan *EventResponse, 1),
	}
	respEv, err := a.SendReceiveEvent(ev)
	if err != nil {
		return resp, err
	}
	resp.Data = ResponseDataStatus{Detail: respEv.Detail}
	resp.Err = respEv.Err
	return resp, nil
}

// Cancel requests the cancellation of a request by its ID.
func (a *API) Cancel(ctx context.Context, id types.RequestID) (Response, error) {
	resp := a.newResponse(ResponseTypeCancel)
	ev := &Event{
		Context: ctx,
		Type:    EventTypeCancel,
		Msg:     EventCancelMsg{RequestID: id},
		RespCh:  make(chan *EventResponse, 1),
	}
	respEv, err := a.SendReceiveEvent(ev)
	if err != nil {
		return resp, err
	}
	resp.Err = respEv.Err
	return resp, nil
}
