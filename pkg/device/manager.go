// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package device

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/devicelab/harness/pkg/logging"
)

var log = logging.GetLogger("pkg/device")

// Update is one device entry of a lab heartbeat.
type Update struct {
	ID         string
	Dimensions Dimensions
	Drivers    []string
	Decorators []string
	// Status as probed on the lab host. Busy means the lab is using the
	// device for something other than an allocation owned by us.
	Status Status
}

// Manager tracks which devices are currently known across all lab hosts,
// their live status and the lab connectivity. It is the only component
// allowed to mutate device status: the scheduler transitions devices
// through AllocateAll/ReleaseAll, lab heartbeats through UpdateLab.
//
// All mutation happens under one mutex; listings are served from snapshots.
type Manager struct {
	mu      sync.Mutex
	devices map[string]*Device
	// labSeen records the last heartbeat time per lab host.
	labSeen map[string]time.Time

	subscribers []chan struct{}

	clk        clock.Clock
	expiration time.Duration
}

// NewManager returns a device manager with the given lab expiration timeout.
func NewManager(clk clock.Clock, expiration time.Duration) *Manager {
	return &Manager{
		devices:    make(map[string]*Device),
		labSeen:    make(map[string]time.Time),
		clk:        clk,
		expiration: expiration,
	}
}

// Start spawns the lab-expiration loop. Devices of a lab host that stopped
// reporting are marked offline. The loop terminates when done is closed.
func (m *Manager) Start(done <-chan struct{}) {
	go func() {
		ticker := m.clk.Ticker(m.expiration / 2)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.expireLabs()
			}
		}
	}()
}

// UpdateLab applies a heartbeat from a lab host: devices in the update are
// created or refreshed, devices previously reported by the host but missing
// from the update are marked offline.
func (m *Manager) UpdateLab(host string, updates []Update) {
	m.mu.Lock()
	m.labSeen[host] = m.clk.Now()
	seen := make(map[string]bool, len(updates))
	for _, u := range updates {
		seen[u.ID] = true
		d, ok := m.devices[u.ID]
		if !ok {
			d = &Device{ID: u.ID, Host: host, Status: u.Status}
			m.devices[u.ID] = d
			log.Debugf("New device %s reported by lab %s", u.ID, host)
		}
		d.Host = host
		d.Dimensions = u.Dimensions.Clone()
		d.Drivers = append([]string(nil), u.Drivers...)
		d.Decorators = append([]string(nil), u.Decorators...)
		// A device we allocated stays allocated until released, no matter
		// what the probe claims, unless the lab lost it entirely.
		if d.Status != StatusAllocated || u.Status == StatusOffline {
			d.Status = u.Status
		}
	}
	for _, d := range m.devices {
		if d.Host == host && !seen[d.ID] {
			d.Status = StatusOffline
		}
	}
	m.mu.Unlock()
	m.notify()
}

func (m *Manager) expireLabs() {
	m.mu.Lock()
	now := m.clk.Now()
	changed := false
	for host, last := range m.labSeen {
		if now.Sub(last) < m.expiration {
			continue
		}
		for _, d := range m.devices {
			if d.Host == host && d.Status != StatusOffline {
				log.Warningf("Lab %s stopped reporting, marking device %s offline", host, d.ID)
				d.Status = StatusOffline
				changed = true
			}
		}
	}
	m.mu.Unlock()
	if changed {
		m.notify()
	}
}

// Devices returns a snapshot of all known devices.
func (m *Manager) Devices() []Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Device, 0, len(m.devices))
	for _, d := range m.devices {
		dd := *d
		dd.Dimensions = d.Dimensions.Clone()
		out = append(out, dd)
	}
	return out
}

// Matching returns a snapshot of the devices satisfying the selector,
// regardless of status.
func (m *Manager) Matching(sel Selector) []Device {
	var out []Device
	for _, d := range m.Devices() {
		d := d
		if sel.Matches(&d) {
			out = append(out, d)
		}
	}
	return out
}

// AllocateAll atomically transitions all the given devices from idle to
// allocated. If any of them is not currently idle, no device is transitioned
// and false is returned.
func (m *Manager) AllocateAll(ids []string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		d, ok := m.devices[id]
		if !ok || d.Status != StatusIdle {
			return false
		}
	}
	for _, id := range ids {
		m.devices[id].Status = StatusAllocated
	}
	return true
}

// ReleaseAll transitions the given devices back to idle. Devices that went
// offline while allocated stay offline.
func (m *Manager) ReleaseAll(ids []string) {
	m.mu.Lock()
	for _, id := range ids {
		d, ok := m.devices[id]
		if !ok {
			continue
		}
		if d.Status == StatusAllocated {
			d.Status = StatusIdle
		}
	}
	m.mu.Unlock()
	m.notify()
}

// Subscribe returns a channel that receives a notification on every registry
// change. The channel has a one-slot buffer, notifications are coalesced.
func (m *Manager) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	m.mu.Lock()
	m.subscribers = append(m.subscribers, ch)
	m.mu.Unlock()
	return ch
}

func (m *Manager) notify() {
	m.mu.Lock()
	subs := append([]chan struct{}(nil), m.subscribers...)
	m.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
