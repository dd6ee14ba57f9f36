// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

// Package storage defines the storage engine interface of the harness and
// the emitter/fetcher façades built on top of it. The concrete engine is
// chosen at startup via SetStorage.
package storage

import (
	"fmt"
	"time"

	"github.com/devicelab/harness/pkg/event"
	"github.com/devicelab/harness/pkg/request"
	"github.com/devicelab/harness/pkg/types"
)

// Storage is the interface that storage engines implement.
type Storage interface {
	// Allocation and lifecycle events.
	StoreEvent(event.Event) error
	GetEvents(*event.Query) ([]event.Event, error)

	// Request details, the user-visible outcome of multi-command requests.
	StoreRequestDetail(*request.RequestDetail) error
	GetRequestDetail(types.RequestID) (*request.RequestDetail, error)

	// Version returns the version of the storage engine.
	Version() (uint64, error)

	Close() error
}

var storage Storage

// SetStorage sets the desired storage engine for events and request
// details. This method must be called before any emit or fetch operation.
func SetStorage(storageEngine Storage) {
	storage = storageEngine
}

// EventEmitter implements the Emitter interface from the event package.
type EventEmitter struct{}

// EventFetcher implements the Fetcher interface from the event package.
type EventFetcher struct{}

// EventEmitterFetcher implements both.
type EventEmitterFetcher struct {
	EventEmitter
	EventFetcher
}

// Emit emits an event using the selected storage engine
func (e EventEmitter) Emit(ev event.Event) error {
	if err := ev.EventName.Validate(); err != nil {
		return err
	}
	if ev.EmitTime.IsZero() {
		ev.EmitTime = time.Now()
	}
	if err := storage.StoreEvent(ev); err != nil {
		return fmt.Errorf("could not persist event %v: %w", ev, err)
	}
	return nil
}

// Fetch retrieves events matching the query from the selected storage
// engine.
func (e EventFetcher) Fetch(q *event.Query) ([]event.Event, error) {
	return storage.GetEvents(q)
}

// NewEventEmitter creates a new Emitter object for allocation events
func NewEventEmitter() event.Emitter {
	return EventEmitter{}
}

// NewEventFetcher creates a new Fetcher object for allocation events
func NewEventFetcher() event.Fetcher {
	return EventFetcher{}
}

// NewEventEmitterFetcher creates a new EmitterFetcher object
func NewEventEmitterFetcher() EventEmitterFetcher {
	return EventEmitterFetcher{}
}

// RequestStorageManager persists and retrieves request details.
type RequestStorageManager struct{}

// NewRequestStorageManager returns a manager backed by the selected storage
// engine.
func NewRequestStorageManager() RequestStorageManager {
	return RequestStorageManager{}
}

// StoreRequestDetail persists a snapshot of a request detail. Storing the
// same request ID again overwrites the previous snapshot.
func (m RequestStorageManager) StoreRequestDetail(rd *request.RequestDetail) error {
	if rd == nil || rd.ID == "" {
		return fmt.Errorf("request detail must carry a request ID")
	}
	if err := storage.StoreRequestDetail(rd); err != nil {
		return fmt.Errorf("could not persist request detail %s: %w", rd.ID, err)
	}
	return nil
}

// GetRequestDetail retrieves the last stored snapshot of a request.
func (m RequestStorageManager) GetRequestDetail(id types.RequestID) (*request.RequestDetail, error) {
	return storage.GetRequestDetail(id)
}
