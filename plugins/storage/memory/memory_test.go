// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab/harness/pkg/event"
	"github.com/devicelab/harness/pkg/request"
)

func TestStoreAndGetEvents(t *testing.T) {
	m, err := New()
	require.NoError(t, err)

	base := time.Date(2024, 5, 17, 12, 0, 0, 0, time.UTC)
	require.NoError(t, m.StoreEvent(event.Event{
		RequestID: "req1", JobID: "job1", EventName: "DeviceAllocated", EmitTime: base,
	}))
	require.NoError(t, m.StoreEvent(event.Event{
		RequestID: "req1", JobID: "job1", EventName: "DeviceReleased", EmitTime: base.Add(time.Minute),
	}))
	require.NoError(t, m.StoreEvent(event.Event{
		RequestID: "req2", JobID: "job2", EventName: "DeviceAllocated", EmitTime: base,
	}))

	all, err := m.GetEvents(nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byRequest, err := m.GetEvents(&event.Query{RequestID: "req1"})
	require.NoError(t, err)
	assert.Len(t, byRequest, 2)

	byName, err := m.GetEvents(&event.Query{EventNames: []event.Name{"DeviceReleased"}})
	require.NoError(t, err)
	require.Len(t, byName, 1)
	assert.Equal(t, event.Name("DeviceReleased"), byName[0].EventName)
}

func TestStoreAndGetRequestDetail(t *testing.T) {
	m, err := New()
	require.NoError(t, err)

	_, err = m.GetRequestDetail("req1")
	assert.Error(t, err)

	rd := &request.RequestDetail{ID: "req1", State: request.RequestStateRunning}
	require.NoError(t, m.StoreRequestDetail(rd))

	got, err := m.GetRequestDetail("req1")
	require.NoError(t, err)
	assert.Equal(t, rd, got)

	// Storing again overwrites the previous snapshot.
	updated := &request.RequestDetail{ID: "req1", State: request.RequestStateCanceled}
	require.NoError(t, m.StoreRequestDetail(updated))
	got, err = m.GetRequestDetail("req1")
	require.NoError(t, err)
	assert.Equal(t, request.RequestStateCanceled, got.State)
}
