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
	"path/filepath"
)

// ReportFileName is the name of the merged report deposited at the output
// location.
const ReportFileName = "test_result.xml"

// WriteTradefedReport writes the result as a tradefed-style XML document
// with per-module summaries.
func WriteTradefedReport(w io.Writer, r *Result) error {
	doc := tradefedResult{}
	for _, m := range r.Modules {
		doc.Modules = append(doc.Modules, tradefedModule{
			Name: m.Name,
			Done: m.Done,
			Summary: &tradefedSummary{
				Passed:  m.Passed,
				Failed:  m.Failed,
				Skipped: m.Skipped,
			},
		})
	}
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("cannot encode report: %w", err)
	}
	return nil
}

// WriteTradefedReportFile writes the result into dir and returns the path
// of the written file.
func WriteTradefedReportFile(r *Result, dir string) (string, error) {
	path := filepath.Join(dir, ReportFileName)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := WriteTradefedReport(f, r); err != nil {
		return "", err
	}
	return path, nil
}
