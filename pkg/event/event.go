// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

// Package event defines the allocation and lifecycle events emitted by the
// scheduler and the session layer, and the interfaces to persist and query
// them.
package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/devicelab/harness/pkg/types"
)

// Name is the name of an event, e.g. "DeviceAllocated".
type Name string

// Validate checks that the event name is sane: it must be a non-empty
// alphanumeric string.
func (n Name) Validate() error {
	if n == "" {
		return fmt.Errorf("event name cannot be empty")
	}
	for _, r := range string(n) {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return fmt.Errorf("invalid event name %q: only letters and digits are allowed", n)
		}
	}
	return nil
}

// Event is one persisted framework event. RequestID is always set; JobID
// only for job-scoped events.
type Event struct {
	RequestID types.RequestID
	JobID     types.JobID
	EventName Name
	Payload   *json.RawMessage
	EmitTime  time.Time
}

func (e Event) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Event{Request: %s, Job: %s, Name: %s", e.RequestID, e.JobID, e.EventName)
	if e.Payload != nil {
		fmt.Fprintf(&b, ", Payload: %s", string(*e.Payload))
	}
	fmt.Fprintf(&b, ", EmitTime: %s}", e.EmitTime)
	return b.String()
}

// Query filters persisted events. Zero-valued fields do not filter.
type Query struct {
	RequestID     types.RequestID
	JobID         types.JobID
	EventNames    []Name
	EmittedSince  time.Time
	EmittedBefore time.Time
}

// Match returns whether the event satisfies the query.
func (q *Query) Match(e Event) bool {
	if q.RequestID != "" && e.RequestID != q.RequestID {
		return false
	}
	if q.JobID != "" && e.JobID != q.JobID {
		return false
	}
	if len(q.EventNames) > 0 {
		found := false
		for _, n := range q.EventNames {
			if n == e.EventName {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !q.EmittedSince.IsZero() && e.EmitTime.Before(q.EmittedSince) {
		return false
	}
	if !q.EmittedBefore.IsZero() && !e.EmitTime.Before(q.EmittedBefore) {
		return false
	}
	return true
}

// Emitter emits events towards the selected storage layer.
type Emitter interface {
	Emit(Event) error
}

// Fetcher retrieves events from the selected storage layer.
type Fetcher interface {
	Fetch(*Query) ([]Event, error)
}
