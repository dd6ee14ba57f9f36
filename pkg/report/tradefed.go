// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package report

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
)

// tradefed-style XML report layout, the subset the merger needs.
type tradefedResult struct {
	XMLName xml.Name         `xml:"Result"`
	Modules []tradefedModule `xml:"Module"`
}

type tradefedModule struct {
	Name     string           `xml:"name,attr"`
	Abi      string           `xml:"abi,attr"`
	Done     bool             `xml:"done,attr"`
	Summary  *tradefedSummary `xml:"Summary"`
	TestCase []tradefedCase   `xml:"TestCase"`
}

// tradefedSummary carries precomputed counts; reports written by the merger
// itself use it instead of listing every test.
type tradefedSummary struct {
	Passed  int `xml:"pass,attr"`
	Failed  int `xml:"failed,attr"`
	Skipped int `xml:"skipped,attr"`
}

type tradefedCase struct {
	Tests []tradefedTest `xml:"Test"`
}

type tradefedTest struct {
	Result string `xml:"result,attr"`
}

// ParseTradefedReport reads a tradefed-style XML result document.
func ParseTradefedReport(r io.Reader) (*Result, error) {
	var doc tradefedResult
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("cannot parse tradefed report: %w", err)
	}
	out := &Result{}
	for _, m := range doc.Modules {
		mr := ModuleResult{Name: moduleIdentity(m.Name, m.Abi), Done: m.Done}
		if m.Summary != nil {
			mr.Passed = m.Summary.Passed
			mr.Failed = m.Summary.Failed
			mr.Skipped = m.Summary.Skipped
			out.Modules = append(out.Modules, mr)
			continue
		}
		for _, tc := range m.TestCase {
			for _, t := range tc.Tests {
				switch t.Result {
				case "pass":
					mr.Passed++
				case "fail":
					mr.Failed++
				case "IGNORED", "ASSUMPTION_FAILURE", "skip":
					mr.Skipped++
				}
			}
		}
		out.Modules = append(out.Modules, mr)
	}
	return out, nil
}

// ParseTradefedReportFile reads a tradefed-style XML result file.
func ParseTradefedReportFile(path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseTradefedReport(f)
}

func moduleIdentity(name, abi string) string {
	if abi == "" {
		return name
	}
	return abi + " " + name
}
