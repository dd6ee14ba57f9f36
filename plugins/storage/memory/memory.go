// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package memory

import (
	"fmt"
	"sync"

	"github.com/devicelab/harness/pkg/event"
	"github.com/devicelab/harness/pkg/request"
	"github.com/devicelab/harness/pkg/storage"
	"github.com/devicelab/harness/pkg/types"
)

// Memory implements a storage engine which stores everything in memory.
// This storage engine is very inefficient and should be used only for
// testing purposes.
type Memory struct {
	lock           *sync.Mutex
	events         []event.Event
	requestDetails map[types.RequestID]*request.RequestDetail
}

// StoreEvent stores an event in memory
func (m *Memory) StoreEvent(ev event.Event) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.events = append(m.events, ev)
	return nil
}

// GetEvents returns the events matching the query
func (m *Memory) GetEvents(eventQuery *event.Query) ([]event.Event, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	var matching []event.Event
	for _, ev := range m.events {
		if eventQuery == nil || eventQuery.Match(ev) {
			matching = append(matching, ev)
		}
	}
	return matching, nil
}

// StoreRequestDetail stores a request detail snapshot, overwriting any
// previous snapshot of the same request
func (m *Memory) StoreRequestDetail(rd *request.RequestDetail) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.requestDetails[rd.ID] = rd
	return nil
}

// GetRequestDetail returns the last stored snapshot of the request
func (m *Memory) GetRequestDetail(id types.RequestID) (*request.RequestDetail, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	rd, ok := m.requestDetails[id]
	if !ok {
		return nil, fmt.Errorf("could not find request detail for request id %v", id)
	}
	return rd, nil
}

// Version returns the version of the memory storage layer.
func (m *Memory) Version() (uint64, error) {
	return 0, nil
}

// Close is a no-op for the memory storage layer.
func (m *Memory) Close() error {
	return nil
}

// New create a new Memory events storage backend
func New() (storage.Storage, error) {
	m := Memory{lock: &sync.Mutex{}}
	m.requestDetails = make(map[types.RequestID]*request.RequestDetail)
	return &m, nil
}
