// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package main

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/devicelab/harness/cmds/harness/server"
	"github.com/devicelab/harness/pkg/logging"
)

var log = logging.GetLogger("main")

func main() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	if err := server.Main(os.Args[0], os.Args[1:], sigs); err != nil {
		// pflag already prints the usage text on parse errors.
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		log.Fatalf("%v", err)
	}
}
