// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package device

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab/harness/pkg/logging"
)

func TestMain(m *testing.M) {
	logging.Disable()
	m.Run()
}

func heartbeat(ids ...string) []Update {
	updates := make([]Update, 0, len(ids))
	for _, id := range ids {
		updates = append(updates, Update{
			ID:         id,
			Dimensions: Dimensions{"sdk_version": {"33"}},
			Status:     StatusIdle,
		})
	}
	return updates
}

func deviceByID(t *testing.T, m *Manager, id string) Device {
	t.Helper()
	for _, d := range m.Devices() {
		if d.ID == id {
			return d
		}
	}
	t.Fatalf("device %s not found", id)
	return Device{}
}

func TestUpdateLabRegistersDevices(t *testing.T) {
	m := NewManager(clock.NewMock(), time.Minute)
	m.UpdateLab("lab1", heartbeat("serial1", "serial2"))
	require.Len(t, m.Devices(), 2)
	assert.Equal(t, StatusIdle, deviceByID(t, m, "serial1").Status)
	assert.Equal(t, "lab1", deviceByID(t, m, "serial1").Host)
}

func TestUpdateLabMissingDeviceGoesOffline(t *testing.T) {
	m := NewManager(clock.NewMock(), time.Minute)
	m.UpdateLab("lab1", heartbeat("serial1", "serial2"))
	m.UpdateLab("lab1", heartbeat("serial1"))
	assert.Equal(t, StatusIdle, deviceByID(t, m, "serial1").Status)
	assert.Equal(t, StatusOffline, deviceByID(t, m, "serial2").Status)
}

func TestUpdateLabKeepsAllocatedStatus(t *testing.T) {
	m := NewManager(clock.NewMock(), time.Minute)
	m.UpdateLab("lab1", heartbeat("serial1"))
	require.True(t, m.AllocateAll([]string{"serial1"}))

	// The probe seeing the device idle must not clobber our allocation.
	m.UpdateLab("lab1", heartbeat("serial1"))
	assert.Equal(t, StatusAllocated, deviceByID(t, m, "serial1").Status)

	// Unless the lab lost the device entirely.
	m.UpdateLab("lab1", []Update{{ID: "serial1", Status: StatusOffline}})
	assert.Equal(t, StatusOffline, deviceByID(t, m, "serial1").Status)
}

func TestAllocateAllAtomicity(t *testing.T) {
	m := NewManager(clock.NewMock(), time.Minute)
	m.UpdateLab("lab1", heartbeat("serial1", "serial2"))
	require.True(t, m.AllocateAll([]string{"serial1"}))

	// serial1 is taken, so the two-device acquisition must not touch
	// serial2 either.
	assert.False(t, m.AllocateAll([]string{"serial2", "serial1"}))
	assert.Equal(t, StatusIdle, deviceByID(t, m, "serial2").Status)
}

func TestReleaseAll(t *testing.T) {
	m := NewManager(clock.NewMock(), time.Minute)
	m.UpdateLab("lab1", heartbeat("serial1", "serial2"))
	require.True(t, m.AllocateAll([]string{"serial1", "serial2"}))

	m.ReleaseAll([]string{"serial1", "serial2", "unknown"})
	assert.Equal(t, StatusIdle, deviceByID(t, m, "serial1").Status)
	assert.Equal(t, StatusIdle, deviceByID(t, m, "serial2").Status)
}

func TestExpireLabs(t *testing.T) {
	clk := clock.NewMock()
	m := NewManager(clk, time.Minute)
	m.UpdateLab("lab1", heartbeat("serial1"))
	m.UpdateLab("lab2", heartbeat("serial2"))

	clk.Add(40 * time.Second)
	m.UpdateLab("lab2", heartbeat("serial2"))
	clk.Add(30 * time.Second)
	m.expireLabs()

	// lab1 last reported 70s ago, lab2 30s ago.
	assert.Equal(t, StatusOffline, deviceByID(t, m, "serial1").Status)
	assert.Equal(t, StatusIdle, deviceByID(t, m, "serial2").Status)
}

func TestSubscribeCoalesces(t *testing.T) {
	m := NewManager(clock.NewMock(), time.Minute)
	ch := m.Subscribe()
	m.UpdateLab("lab1", heartbeat("serial1"))
	m.UpdateLab("lab1", heartbeat("serial1", "serial2"))

	select {
	case <-ch:
	default:
		t.Fatal("expected a registry change notification")
	}
	// Two updates coalesce into at most one pending notification.
	select {
	case <-ch:
		t.Fatal("expected notifications to be coalesced")
	default:
	}
}

func TestMatching(t *testing.T) {
	m := NewManager(clock.NewMock(), time.Minute)
	m.UpdateLab("lab1", []Update{
		{ID: "serial1", Dimensions: Dimensions{"sdk_version": {"33"}}, Status: StatusIdle},
		{ID: "serial2", Dimensions: Dimensions{"sdk_version": {"30"}}, Status: StatusIdle},
	})

	matched := m.Matching(Selector{Dimensions: map[string]string{"sdk_version": "33"}})
	require.Len(t, matched, 1)
	assert.Equal(t, "serial1", matched[0].ID)

	matched = m.Matching(Selector{Serials: []string{"serial2"}})
	require.Len(t, matched, 1)
	assert.Equal(t, "serial2", matched[0].ID)
}
