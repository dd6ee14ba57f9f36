// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package scheduler

import (
	"encoding/json"

	"github.com/devicelab/harness/pkg/event"
	"github.com/devicelab/harness/pkg/types"
)

// EventDeviceAllocated indicates that devices were assigned to a job
var EventDeviceAllocated = event.Name("DeviceAllocated")

// EventDeviceReleased indicates that a job's devices returned to the pool
var EventDeviceReleased = event.Name("DeviceReleased")

// EventRequestQueued indicates that an allocation request entered the queue
var EventRequestQueued = event.Name("RequestQueued")

// EventRequestCancelled indicates that a pending request was withdrawn
var EventRequestCancelled = event.Name("RequestCancelled")

// AllocationPayload is the payload of allocation/deallocation events.
type AllocationPayload struct {
	Devices []string `json:"devices,omitempty"`
}

// SetEventEmitter wires an emitter for allocation events. Without one the
// scheduler only logs.
func (s *Scheduler) SetEventEmitter(em event.Emitter) {
	s.mu.Lock()
	s.emitter = em
	s.mu.Unlock()
}

// emitEvent emits a scheduler event, best effort.
func (s *Scheduler) emitEvent(name event.Name, jobID types.JobID, devices []string) {
	s.mu.Lock()
	em := s.emitter
	s.mu.Unlock()
	if em == nil {
		return
	}
	var payloadPtr *json.RawMessage
	if len(devices) > 0 {
		payloadJSON, err := json.Marshal(AllocationPayload{Devices: devices})
		if err != nil {
			log.Warningf("Could not serialize payload for event %s: %v", name, err)
		} else {
			rawPayload := json.RawMessage(payloadJSON)
			payloadPtr = &rawPayload
		}
	}
	if err := em.Emit(event.Event{
		JobID:     jobID,
		EventName: name,
		Payload:   payloadPtr,
		EmitTime:  s.clk.Now(),
	}); err != nil {
		log.Warningf("Could not emit event %s for job %s: %v", name, jobID, err)
	}
}
