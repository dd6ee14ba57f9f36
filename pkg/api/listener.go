// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package api

import (
	"context"
)

// Listener defines the interface for an API listener. This is used to
// implement different API transports.
type Listener interface {
	// Serve starts the listener and calls the API methods to communicate
	// with the request manager. Context cancellation must result in a
	// graceful shutdown.
	Serve(ctx context.Context, a *API) error
}
