// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTradefedReport = `<?xml version="1.0" encoding="UTF-8"?>
<Result>
  <Module name="CtsExampleTestCases" abi="arm64-v8a" done="true">
    <TestCase name="ExampleTest">
      <Test result="pass" name="testOne"/>
      <Test result="pass" name="testTwo"/>
      <Test result="fail" name="testThree"/>
      <Test result="ASSUMPTION_FAILURE" name="testFour"/>
    </TestCase>
  </Module>
  <Module name="CtsSummarizedTestCases" abi="arm64-v8a" done="false">
    <Summary pass="7" failed="2" skipped="1"/>
  </Module>
</Result>`

func TestParseTradefedReport(t *testing.T) {
	result, err := ParseTradefedReport(strings.NewReader(sampleTradefedReport))
	require.NoError(t, err)
	require.Len(t, result.Modules, 2)

	counted := result.Modules[0]
	assert.Equal(t, "arm64-v8a CtsExampleTestCases", counted.Name)
	assert.True(t, counted.Done)
	assert.Equal(t, 2, counted.Passed)
	assert.Equal(t, 1, counted.Failed)
	assert.Equal(t, 1, counted.Skipped)

	// A module carrying a Summary element uses it over the test listing.
	summarized := result.Modules[1]
	assert.Equal(t, "arm64-v8a CtsSummarizedTestCases", summarized.Name)
	assert.False(t, summarized.Done)
	assert.Equal(t, 7, summarized.Passed)
	assert.Equal(t, 2, summarized.Failed)
	assert.Equal(t, 1, summarized.Skipped)
}

func TestParseTradefedReportInvalid(t *testing.T) {
	_, err := ParseTradefedReport(strings.NewReader("not xml at all"))
	assert.Error(t, err)
}

func TestWriteTradefedReportFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	merged := &Result{Modules: []ModuleResult{
		{Name: "arm64-v8a CtsExampleTestCases", Done: true, Passed: 12, Failed: 3, Skipped: 1},
	}}
	path, err := WriteTradefedReportFile(merged, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, ReportFileName), path)

	parsed, err := ParseTradefedReportFile(path)
	require.NoError(t, err)
	require.Len(t, parsed.Modules, 1)
	assert.Equal(t, merged.Modules[0], parsed.Modules[0])
}

func TestParseTradefedReportFileMissing(t *testing.T) {
	_, err := ParseTradefedReportFile(filepath.Join(t.TempDir(), "nope.xml"))
	assert.True(t, os.IsNotExist(err))
}
