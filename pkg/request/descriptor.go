// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package request

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/devicelab/harness/pkg/cerrors"
)

// androidXtsZipName matches the suite archive among the request's test
// resources.
var androidXtsZipName = regexp.MustCompile(`^android-[a-z]+\.zip$`)

// xtsTypes is the closed set of suite types a command line may select.
var xtsTypes = map[string]bool{
	"cts": true,
	"gts": true,
	"sts": true,
	"vts": true,
}

// RequestInfo is the validated internal descriptor of one command: the
// resolved suite archive, the mounted xts root directory and the parsed
// command-line arguments. Resolving it involves slow file I/O, so resolved
// descriptors are cached per command.
type RequestInfo struct {
	TestPlan      string
	XtsType       string
	XtsRootDir    string
	AndroidXtsZip string

	DeviceSerials    []string
	DeviceDimensions map[string]string
	ModuleNames      []string
	ShardCount       int

	JobTimeout   time.Duration
	StartTimeout time.Duration
}

// resolveRequestInfo validates one command against the request and builds
// its descriptor: it locates the suite archive among the test resources,
// prepares and mounts the xts root directory and parses the module and
// shard arguments out of the command line by token position.
//
// A mount failure surfaces as an invalid-resource error; every other
// failure means the command itself is invalid.
func (h *Handler) resolveRequestInfo(req *NewMultiCommandRequest, commandIndex int, s Session) (*RequestInfo, error) {
	cmd := req.Commands[commandIndex]

	var deviceSerials []string
	dimensions := make(map[string]string)
	for name, value := range cmd.DeviceDimensions {
		if name == "device_serial" {
			deviceSerials = append(deviceSerials, value)
			continue
		}
		dimensions[name] = value
	}

	zipPath := ""
	for _, res := range req.TestResources {
		u, err := url.Parse(res.URL)
		if err != nil {
			log.Warningf("Failed to parse test resource url %q: %v", res.URL, err)
			continue
		}
		if androidXtsZipName.MatchString(res.Name) && u.Scheme == "file" {
			zipPath = u.Path
			break
		}
	}
	if zipPath == "" {
		return nil, &cerrors.ErrInvalidRequest{
			Reason: fmt.Sprintf("no android xts zip among %d test resources of request %s",
				len(req.TestResources), s.ID()),
		}
	}

	tokens, err := shellquote.Split(cmd.CommandLine)
	if err != nil {
		return nil, &cerrors.ErrInvalidRequest{
			Reason: fmt.Sprintf("cannot tokenize command line %q: %v", cmd.CommandLine, err),
		}
	}
	if len(tokens) == 0 {
		return nil, &cerrors.ErrInvalidRequest{Reason: "empty command line"}
	}
	xtsType := strings.ToLower(tokens[0])
	if !xtsTypes[xtsType] {
		return nil, &cerrors.ErrInvalidRequest{
			Reason: fmt.Sprintf("unknown xts type %q in command line %q", tokens[0], cmd.CommandLine),
		}
	}

	xtsRootDir := filepath.Join(h.genDir, "session_"+s.ID().String(),
		strings.TrimSuffix(filepath.Base(zipPath), filepath.Ext(zipPath)))
	if err := os.MkdirAll(xtsRootDir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot prepare xts root dir %s: %w", xtsRootDir, err)
	}
	if err := h.mounter.MountZip(zipPath, xtsRootDir); err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.mounts[commandIndex] = xtsRootDir
	h.mu.Unlock()

	info := &RequestInfo{
		TestPlan:         xtsType,
		XtsType:          xtsType,
		XtsRootDir:       xtsRootDir,
		AndroidXtsZip:    zipPath,
		DeviceSerials:    deviceSerials,
		DeviceDimensions: dimensions,
		ShardCount:       cmd.ShardCount,
		JobTimeout:       time.Duration(req.TestEnvironment.InvocationTimeout),
		StartTimeout:     time.Duration(req.QueueTimeout),
	}

	// The module argument supports a single module name, referenced by
	// position after the -m token.
	for i, tok := range tokens {
		if tok == "-m" && i+1 < len(tokens) {
			info.ModuleNames = []string{tokens[i+1]}
			break
		}
	}
	return info, nil
}
