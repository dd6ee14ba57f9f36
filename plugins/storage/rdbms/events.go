// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package rdbms

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/devicelab/harness/pkg/event"
)

// bufferedEvent is an event waiting to be flushed to the database.
type bufferedEvent struct {
	event.Event
}

// StoreEvent appends an event to the internal buffer and triggers a flush
// when the buffer is full.
func (r *RDBMS) StoreEvent(ev event.Event) error {
	if err := r.init(); err != nil {
		return fmt.Errorf("could not initialize database: %w", err)
	}
	r.eventsLock.Lock()
	r.buffEvents = append(r.buffEvents, bufferedEvent{ev})
	full := len(r.buffEvents) >= r.eventsFlushSize
	r.eventsLock.Unlock()
	if full {
		r.FlushEvents()
	}
	return nil
}

// FlushEvents writes back to the database all the events currently
// buffered.
func (r *RDBMS) FlushEvents() {
	r.eventsLock.Lock()
	pending := r.buffEvents
	r.buffEvents = nil
	r.eventsLock.Unlock()
	if len(pending) == 0 {
		return
	}

	insertStatement := "insert into allocation_events (request_id, job_id, event_name, payload, emit_time) values (?, ?, ?, ?, ?)"
	for _, ev := range pending {
		var payload []byte
		if ev.Payload != nil {
			payload = *ev.Payload
		}
		if _, err := r.db.Exec(insertStatement, ev.RequestID, ev.JobID, ev.EventName, payload, ev.EmitTime); err != nil {
			log.Warningf("could not store event %v: %v", ev.Event, err)
		}
	}
}

// GetEvents returns the events matching the query.
func (r *RDBMS) GetEvents(eventQuery *event.Query) ([]event.Event, error) {
	if err := r.init(); err != nil {
		return nil, fmt.Errorf("could not initialize database: %w", err)
	}
	// Flush first so that queries observe everything stored so far.
	r.FlushEvents()

	var baseQuery bytes.Buffer
	baseQuery.WriteString("select request_id, job_id, event_name, payload, emit_time from allocation_events")
	selectClauses := []string{}
	fields := []interface{}{}
	if eventQuery != nil {
		if eventQuery.RequestID != "" {
			selectClauses = append(selectClauses, "request_id=?")
			fields = append(fields, eventQuery.RequestID)
		}
		if eventQuery.JobID != "" {
			selectClauses = append(selectClauses, "job_id=?")
			fields = append(fields, eventQuery.JobID)
		}
		if len(eventQuery.EventNames) > 0 {
			clause := "event_name in (?"
			for i := 1; i < len(eventQuery.EventNames); i++ {
				clause += ", ?"
			}
			clause += ")"
			selectClauses = append(selectClauses, clause)
			for _, name := range eventQuery.EventNames {
				fields = append(fields, name)
			}
		}
		if !eventQuery.EmittedSince.IsZero() {
			selectClauses = append(selectClauses, "emit_time>=?")
			fields = append(fields, eventQuery.EmittedSince)
		}
		if !eventQuery.EmittedBefore.IsZero() {
			selectClauses = append(selectClauses, "emit_time<?")
			fields = append(fields, eventQuery.EmittedBefore)
		}
	}
	for i, clause := range selectClauses {
		if i == 0 {
			baseQuery.WriteString(" where ")
		} else {
			baseQuery.WriteString(" and ")
		}
		baseQuery.WriteString(clause)
	}
	baseQuery.WriteString(" order by event_id")

	rows, err := r.db.Query(baseQuery.String(), fields...)
	if err != nil {
		return nil, fmt.Errorf("could not get events: %w", err)
	}
	defer rows.Close()

	var results []event.Event
	for rows.Next() {
		var (
			ev      event.Event
			payload []byte
		)
		if err := rows.Scan(&ev.RequestID, &ev.JobID, &ev.EventName, &payload, &ev.EmitTime); err != nil {
			return nil, fmt.Errorf("could not deserialize event: %w", err)
		}
		if len(payload) > 0 {
			raw := json.RawMessage(payload)
			ev.Payload = &raw
		}
		results = append(results, ev)
	}
	return results, rows.Err()
}
