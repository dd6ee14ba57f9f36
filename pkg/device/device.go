// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package device

import (
	"fmt"
	"sort"
)

// Status represents the live status of a device as tracked by the registry.
type Status string

// Statuses a device can be in. Only Idle devices are eligible for
// allocation.
const (
	StatusIdle      Status = "IDLE"
	StatusAllocated Status = "ALLOCATED"
	StatusOffline   Status = "OFFLINE"
	StatusBusy      Status = "BUSY"
)

// Dimensions is the capability set of a device: a mapping from dimension
// name to the set of values the device supports for it (e.g.
// "sdk_version" -> {"30", "31"}).
type Dimensions map[string][]string

// Contains returns whether the dimension name carries the given value.
func (d Dimensions) Contains(name, value string) bool {
	for _, v := range d[name] {
		if v == value {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the dimension set.
func (d Dimensions) Clone() Dimensions {
	if d == nil {
		return nil
	}
	out := make(Dimensions, len(d))
	for k, v := range d {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Device represents one remote device reported by a lab host.
type Device struct {
	// ID is the device serial or UUID, unique across all lab hosts.
	ID string
	// Host is the lab host that reported the device.
	Host string

	Dimensions Dimensions

	// Drivers and Decorators list the driver and decorator types the
	// device supports.
	Drivers    []string
	Decorators []string

	Status Status
}

func (d *Device) String() string {
	if d == nil {
		return "(*Device)(nil)"
	}
	return fmt.Sprintf("Device{ID: %q, Host: %q, Status: %q}", d.ID, d.Host, d.Status)
}

// SupportsDriver returns whether the device supports the given driver type.
func (d *Device) SupportsDriver(driver string) bool {
	for _, dr := range d.Drivers {
		if dr == driver {
			return true
		}
	}
	return false
}

// Selector is a device-selection predicate: explicit serials, dimension
// filters and the number of device slots to acquire. A zero Count means one
// device.
type Selector struct {
	// Serials, if set, restricts the match to the listed device IDs.
	Serials []string
	// Dimensions maps dimension name to the single value the device must
	// carry for it.
	Dimensions map[string]string
	// Driver, if set, requires the device to support the given driver type.
	Driver string
	// Count is the number of devices to acquire, all-or-none.
	Count int
}

// DeviceCount returns the effective number of device slots requested.
func (s Selector) DeviceCount() int {
	if s.Count <= 0 {
		return 1
	}
	return s.Count
}

// Matches returns whether the device satisfies the selector, regardless of
// its current status.
func (s Selector) Matches(d *Device) bool {
	if len(s.Serials) > 0 {
		found := false
		for _, serial := range s.Serials {
			if serial == d.ID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if s.Driver != "" && !d.SupportsDriver(s.Driver) {
		return false
	}
	for name, value := range s.Dimensions {
		if !d.Dimensions.Contains(name, value) {
			return false
		}
	}
	return true
}

// SortedNames returns the dimension filter names in a stable order, for
// logging.
func (s Selector) SortedNames() []string {
	names := make([]string, 0, len(s.Dimensions))
	for name := range s.Dimensions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
