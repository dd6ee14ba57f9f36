// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

// Package report implements the canonical merged test-result document and
// the merge semantics used to combine partial results produced by
// heterogeneous job kinds.
package report

import (
	"fmt"

	"github.com/devicelab/harness/pkg/logging"
)

var log = logging.GetLogger("pkg/report")

// ModuleResult carries the pass/fail/skip counts of one test module.
// The module name is the merge identity; jobs are not.
type ModuleResult struct {
	Name    string
	Done    bool
	Passed  int
	Failed  int
	Skipped int
}

// Result is the canonical merged test-result document: an ordered list of
// module results.
type Result struct {
	Modules []ModuleResult
}

// Summary returns the aggregate counts across all modules.
func (r *Result) Summary() (passed, failed, skipped int) {
	for _, m := range r.Modules {
		passed += m.Passed
		failed += m.Failed
		skipped += m.Skipped
	}
	return passed, failed, skipped
}

// DoneModules returns how many modules completed, and the total.
func (r *Result) DoneModules() (done, total int) {
	for _, m := range r.Modules {
		if m.Done {
			done++
		}
	}
	return done, len(r.Modules)
}

// Passed returns whether the result contains no failures.
func (r *Result) Passed() bool {
	_, failed, _ := r.Summary()
	return failed == 0
}

// Merge combines partial results into one document. Merging zero results
// yields no result and no error; the caller must treat this as "skip report
// generation". Under strict validation a module identity appearing in more
// than one input is an error; otherwise counts accumulate under the module
// identity. Final counts do not depend on input order.
func Merge(partials []*Result, strict bool) (*Result, error) {
	var present []*Result
	for _, p := range partials {
		if p != nil {
			present = append(present, p)
		}
	}
	if len(present) == 0 {
		log.Warningf("No partial results to merge, skipping report generation")
		return nil, nil
	}

	merged := &Result{}
	index := make(map[string]int)
	for _, p := range present {
		seenHere := make(map[string]bool)
		for _, m := range p.Modules {
			i, ok := index[m.Name]
			if !ok {
				index[m.Name] = len(merged.Modules)
				merged.Modules = append(merged.Modules, m)
				seenHere[m.Name] = true
				continue
			}
			if strict && !seenHere[m.Name] {
				return nil, fmt.Errorf("duplicate module %q across merged results", m.Name)
			}
			merged.Modules[i].Passed += m.Passed
			merged.Modules[i].Failed += m.Failed
			merged.Modules[i].Skipped += m.Skipped
			merged.Modules[i].Done = merged.Modules[i].Done && m.Done
		}
	}
	return merged, nil
}

// MergeTradefedNonTradefed merges the tradefed and non-tradefed halves of a
// run. Either side may be nil; with both nil there is no result.
func MergeTradefedNonTradefed(tradefed, nonTradefed *Result) (*Result, error) {
	return Merge([]*Result{tradefed, nonTradefed}, false)
}
