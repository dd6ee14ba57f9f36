// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package session

import (
	"fmt"
	"strings"

	"github.com/devicelab/harness/pkg/report"
)

// xtsTestResultSummary renders the user-facing end-of-run summary. The
// skipped line counts non-tradefed testcases only, tradefed reports do not
// track skips at this level.
func xtsTestResultSummary(xtsType string, tradefed, nonTradefed *report.Result, resultDir, logDir string) string {
	var tfDone, tfTotal, tfPassed, tfFailed int
	if tradefed != nil {
		tfDone, tfTotal = tradefed.DoneModules()
		tfPassed, tfFailed, _ = tradefed.Summary()
	}
	var ntfDone, ntfTotal, ntfPassed, ntfFailed, ntfSkipped int
	if nonTradefed != nil {
		ntfDone, ntfTotal = nonTradefed.DoneModules()
		ntfPassed, ntfFailed, ntfSkipped = nonTradefed.Summary()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\n================= %s test result summary ================\n",
		strings.ToUpper(xtsType))
	fmt.Fprintf(&b, "%d/%d modules completed\n", tfDone+ntfDone, tfTotal+ntfTotal)
	fmt.Fprintf(&b, "PASSED TESTCASES           : %d\n", tfPassed+ntfPassed)
	fmt.Fprintf(&b, "FAILED TESTCASES           : %d\n", tfFailed+ntfFailed)
	fmt.Fprintf(&b, "SKIPPED TESTCASES          : %d\n", ntfSkipped)
	fmt.Fprintf(&b, "RESULT DIRECTORY           : %s\n", resultDir)
	fmt.Fprintf(&b, "LOG DIRECTORY              : %s\n", logDir)
	b.WriteString("=================== End of Results =============================\n")
	b.WriteString("================================================================\n")
	return b.String()
}
