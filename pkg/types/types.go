// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package types

// RequestID represents a unique multi-command request identifier. It doubles
// as the identifier of the session that carries the request.
type RequestID string

// CommandID identifies one command within a multi-command request.
type CommandID string

// JobID represents a unique job identifier.
type JobID string

func (v RequestID) String() string {
	return string(v)
}

func (v CommandID) String() string {
	return string(v)
}

func (v JobID) String() string {
	return string(v)
}
