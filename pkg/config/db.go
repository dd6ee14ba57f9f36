// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package config

// DefaultDBURI represents the default URI used by the rdbms storage plugin
const DefaultDBURI = "harness:harness@tcp(localhost:3306)/harness?parseTime=true"
