// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

// Package mounter wraps the loop-mounting of suite archives into
// directories. Mount and unmount are slow shell commands and run with a
// bounded timeout.
package mounter

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/devicelab/harness/pkg/cerrors"
	"github.com/devicelab/harness/pkg/logging"
)

var log = logging.GetLogger("pkg/mounter")

// Executor runs one shell command to completion and returns its combined
// output. The context bounds the execution.
type Executor interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// ShellExecutor runs commands on the local host.
type ShellExecutor struct{}

// Run implements Executor.
func (ShellExecutor) Run(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	return string(out), err
}

// Mounter mounts and unmounts zip archives via fuse.
type Mounter struct {
	executor Executor
	timeout  time.Duration
}

// New returns a mounter running commands through the given executor with
// the given per-command timeout.
func New(executor Executor, timeout time.Duration) *Mounter {
	return &Mounter{executor: executor, timeout: timeout}
}

// MountZip loop-mounts the zip archive read-only onto the given directory.
// A failure is an invalid-resource error: it is scoped to the command that
// referenced the archive.
func (m *Mounter) MountZip(zipPath, mountDir string) error {
	if err := m.run("fuse-zip", "-r", zipPath, mountDir); err != nil {
		return &cerrors.ErrInvalidResource{Resource: zipPath, Err: err}
	}
	return nil
}

// UnmountZip unmounts a directory previously mounted with MountZip.
func (m *Mounter) UnmountZip(mountDir string) error {
	return m.run("fusermount", "-u", mountDir)
}

func (m *Mounter) run(name string, args ...string) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	log.Debugf("Running %s", shellquote.Join(append([]string{name}, args...)...))
	out, err := m.executor.Run(ctx, name, args...)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &cerrors.ErrTimeout{Op: name, Timeout: m.timeout}
		}
		if strings.TrimSpace(out) != "" {
			log.Debugf("%s output: %s", name, strings.TrimSpace(out))
		}
		return err
	}
	return nil
}
