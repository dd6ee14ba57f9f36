// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package report

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// moblyDocument is one document of a mobly-style YAML summary stream. Only
// Record and Summary documents matter for merging.
type moblyDocument struct {
	Type   string `yaml:"Type"`
	Result string `yaml:"Result"`

	// Summary counts.
	Executed int `yaml:"Executed"`
	Passed   int `yaml:"Passed"`
	Failed   int `yaml:"Failed"`
	Error    int `yaml:"Error"`
	Skipped  int `yaml:"Skipped"`
}

// ParseMoblyReport reads a mobly-style YAML summary stream and returns the
// counts as a single-module result named after the module the job ran.
// Mobly errors count as failures, the way the summary aggregation treats
// them.
func ParseMoblyReport(r io.Reader, module string) (*Result, error) {
	dec := yaml.NewDecoder(r)
	mr := ModuleResult{Name: module}
	sawSummary := false
	for {
		var doc moblyDocument
		if err := dec.Decode(&doc); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("cannot parse mobly summary: %w", err)
		}
		if doc.Type != "Summary" {
			continue
		}
		sawSummary = true
		mr.Passed += doc.Passed
		mr.Failed += doc.Failed + doc.Error
		mr.Skipped += doc.Skipped
	}
	mr.Done = sawSummary
	return &Result{Modules: []ModuleResult{mr}}, nil
}

// ParseMoblyReportFile reads a mobly-style YAML summary file.
func ParseMoblyReportFile(path, module string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseMoblyReport(f, module)
}
