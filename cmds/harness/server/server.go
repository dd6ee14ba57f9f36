// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

// Package server implements the harness server: it wires storage, the
// device registry, the scheduler and the request manager together and
// serves the HTTP API until it receives a termination signal.
package server

import (
	"context"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"github.com/devicelab/harness/pkg/api"
	"github.com/devicelab/harness/pkg/config"
	"github.com/devicelab/harness/pkg/logging"
	"github.com/devicelab/harness/pkg/manager"
	"github.com/devicelab/harness/pkg/mounter"
	"github.com/devicelab/harness/pkg/scheduler"
	"github.com/devicelab/harness/pkg/storage"

	deviceregistry "github.com/devicelab/harness/pkg/device"
	"github.com/devicelab/harness/plugins/dispatchers/local"
	"github.com/devicelab/harness/plugins/jobcreator/xts"
	"github.com/devicelab/harness/plugins/listeners/httplistener"
	"github.com/devicelab/harness/plugins/storage/memory"
	"github.com/devicelab/harness/plugins/storage/rdbms"
)

var log = logging.GetLogger("server")

var (
	flagSet        *pflag.FlagSet
	flagConfig     *string
	flagDBURI      *string
	flagListenAddr *string
	flagServerID   *string
	flagLogLevel   *string
	flagGenDir     *string
	flagOutputRoot *string
)

func initFlags(cmd string) {
	flagSet = pflag.NewFlagSet(cmd, pflag.ContinueOnError)
	flagConfig = flagSet.String("config", "", "Path to the server configuration file")
	flagDBURI = flagSet.String("dbURI", config.DefaultDBURI, "Database URI, empty for in-memory storage")
	flagListenAddr = flagSet.String("listenAddr", ":8080", "Listen address and port")
	flagServerID = flagSet.String("serverID", "", "Set a static server ID, e.g. the host name. If unset, the host name is used")
	flagLogLevel = flagSet.String("logLevel", "debug", "A log level, possible values: debug, info, warning, error, panic, fatal")
	flagGenDir = flagSet.String("genDir", "/tmp/harness/gen", "Scratch root for mounted suites and job gen dirs")
	flagOutputRoot = flagSet.String("outputRoot", "/tmp/harness/output", "Root of the timestamped result and log dirs")
}

// applyConfig overlays the config file values under the flag values: flags
// that were set explicitly win.
func applyConfig(cfg *Config) {
	if cfg == nil {
		return
	}
	if cfg.ListenAddr != "" && !flagSet.Changed("listenAddr") {
		*flagListenAddr = cfg.ListenAddr
	}
	if cfg.DBURI != "" && !flagSet.Changed("dbURI") {
		*flagDBURI = cfg.DBURI
	}
	if cfg.LogLevel != "" && !flagSet.Changed("logLevel") {
		*flagLogLevel = cfg.LogLevel
	}
	if cfg.GenDir != "" && !flagSet.Changed("genDir") {
		*flagGenDir = cfg.GenDir
	}
	if cfg.OutputRoot != "" && !flagSet.Changed("outputRoot") {
		*flagOutputRoot = cfg.OutputRoot
	}
}

// Main is the entry point of the harness server.
func Main(cmd string, args []string, sigs <-chan os.Signal) error {
	initFlags(cmd)
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	var cfg *Config
	if *flagConfig != "" {
		var err error
		cfg, err = LoadConfig(*flagConfig)
		if err != nil {
			return err
		}
	}
	applyConfig(cfg)

	logLevel, err := logging.ParseLevel(*flagLogLevel)
	if err != nil {
		return err
	}
	logging.SetLevel(logLevel)

	clk := clock.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage initialization. An empty database URI selects the in-memory
	// engine, which does not survive restarts.
	if *flagDBURI != "" {
		log.Infof("Using database URI for storage: %s", *flagDBURI)
		s := rdbms.New(*flagDBURI)
		storage.SetStorage(s)
		if dbVer, err := s.Version(); err != nil {
			log.Warningf("Could not determine storage version: %v", err)
		} else {
			log.Infof("Storage version: %d", dbVer)
		}
		defer func() {
			if err := s.Close(); err != nil {
				log.Warningf("Could not close storage: %v", err)
			}
		}()
	} else {
		log.Warningf("Using in-memory storage")
		ms, err := memory.New()
		if err != nil {
			return err
		}
		storage.SetStorage(ms)
	}

	for _, dir := range []string{*flagGenDir, *flagOutputRoot} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	// Device registry and scheduler.
	devices := deviceregistry.NewManager(clk, config.LabExpirationTimeout)
	devices.Start(ctx.Done())
	if cfg != nil {
		for _, lab := range cfg.Labs {
			devices.UpdateLab(lab.Host, lab.deviceUpdates())
			log.Infof("Registered %d configured device(s) of lab %s", len(lab.Devices), lab.Host)
		}
		// Keep statically configured labs alive: re-announce them on every
		// half expiration interval.
		go func() {
			ticker := clk.Ticker(config.LabExpirationTimeout / 2)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					for _, lab := range cfg.Labs {
						devices.UpdateLab(lab.Host, lab.deviceUpdates())
					}
				}
			}
		}()
	}

	registry := prometheus.NewRegistry()
	sched := scheduler.New(devices, clk, registry)
	sched.SetEventEmitter(storage.NewEventEmitter())
	sched.Start(ctx.Done(), config.AllocationTickInterval)

	// Request plumbing.
	mnt := mounter.New(mounter.ShellExecutor{}, config.SlowCommandTimeout)
	creator := xts.New(*flagGenDir, clk)
	dispatcher := local.New(mounter.ShellExecutor{}, 24*time.Hour)

	apiOpts := []api.Option{}
	if *flagServerID != "" {
		serverID := *flagServerID
		apiOpts = append(apiOpts, api.OptionServerID(func() string { return serverID }))
	}
	a := api.New(apiOpts...)

	reqManager := manager.New(a, sched, creator, mnt, dispatcher, clk, *flagGenDir, *flagOutputRoot)
	managerDone := make(chan error, 1)
	go func() {
		managerDone <- reqManager.Run(ctx)
	}()

	listener := httplistener.New(*flagListenAddr, registry)
	listenerDone := make(chan error, 1)
	go func() {
		listenerDone <- listener.Serve(ctx, a)
	}()

	select {
	case sig := <-sigs:
		log.Infof("Received signal %v, shutting down", sig)
		cancel()
	case err := <-listenerDone:
		log.Errorf("HTTP listener terminated: %v", err)
		cancel()
		<-managerDone
		return err
	}
	<-listenerDone
	return <-managerDone
}
