// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package config

import "time"

// SlowCommandTimeout represents the maximum time granted to slow shell
// commands, such as mounting and unmounting suite archives.
var SlowCommandTimeout = 10 * time.Minute

// AllocationTickInterval is the interval at which the scheduler retries the
// pending allocation requests, in addition to retrying on every device
// registry change.
var AllocationTickInterval = 5 * time.Second

// DeviceAllocationTimeout represents the maximum time a job waits for a
// device allocation before giving up.
var DeviceAllocationTimeout = 5 * time.Minute

// LabExpirationTimeout is the amount of time after the last heartbeat from a
// lab host after which all of its devices are considered offline.
var LabExpirationTimeout = 2 * time.Minute
