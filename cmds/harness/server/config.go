// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package server

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/devicelab/harness/pkg/device"
)

// DeviceConfig is one statically configured device of a lab host.
type DeviceConfig struct {
	ID         string              `yaml:"id"`
	Dimensions map[string][]string `yaml:"dimensions"`
	Drivers    []string            `yaml:"drivers"`
}

// LabConfig is one statically configured lab host. Statically configured
// labs never expire; they are re-announced on every expiration tick.
type LabConfig struct {
	Host    string         `yaml:"host"`
	Devices []DeviceConfig `yaml:"devices"`
}

// Config is the server configuration file.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	DBURI      string `yaml:"db_uri"`
	LogLevel   string `yaml:"log_level"`

	// GenDir is the scratch root for mounted suites and job gen dirs.
	GenDir string `yaml:"gen_dir"`
	// OutputRoot is the root of the timestamped result and log dirs.
	OutputRoot string `yaml:"output_root"`

	Labs []LabConfig `yaml:"labs"`
}

// LoadConfig reads and parses a server configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	return &cfg, nil
}

// deviceUpdates converts a lab's static device list into heartbeat updates.
func (l LabConfig) deviceUpdates() []device.Update {
	updates := make([]device.Update, 0, len(l.Devices))
	for _, d := range l.Devices {
		updates = append(updates, device.Update{
			ID:         d.ID,
			Dimensions: device.Dimensions(d.Dimensions),
			Drivers:    d.Drivers,
			Status:     device.StatusIdle,
		})
	}
	return updates
}
