// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab/harness/pkg/logging"
)

func TestMain(m *testing.M) {
	logging.Disable()
	m.Run()
}

var (
	resultOne = &Result{Modules: []ModuleResult{
		{Name: "armeabi-v7a CtsExampleTestCases", Done: true, Passed: 10, Failed: 1},
	}}
	resultTwo = &Result{Modules: []ModuleResult{
		{Name: "arm64-v8a CtsOtherTestCases", Done: true, Passed: 5, Skipped: 2},
	}}
)

func TestMergeNoResults(t *testing.T) {
	merged, err := Merge(nil, false)
	require.NoError(t, err)
	assert.Nil(t, merged)
}

func TestMergeOnlyNilResults(t *testing.T) {
	merged, err := Merge([]*Result{nil, nil}, true)
	require.NoError(t, err)
	assert.Nil(t, merged)
}

func TestMergeDisjointStrict(t *testing.T) {
	merged, err := Merge([]*Result{resultOne, resultTwo}, true)
	require.NoError(t, err)
	require.NotNil(t, merged)
	require.Len(t, merged.Modules, 2)
	passed, failed, skipped := merged.Summary()
	assert.Equal(t, 15, passed)
	assert.Equal(t, 1, failed)
	assert.Equal(t, 2, skipped)
}

func TestMergeDuplicateModuleStrict(t *testing.T) {
	dup := &Result{Modules: []ModuleResult{
		{Name: "armeabi-v7a CtsExampleTestCases", Done: true, Passed: 3},
	}}
	merged, err := Merge([]*Result{resultOne, dup}, true)
	require.Error(t, err)
	assert.Nil(t, merged)
}

func TestMergeDuplicateModuleNonStrict(t *testing.T) {
	dup := &Result{Modules: []ModuleResult{
		{Name: "armeabi-v7a CtsExampleTestCases", Done: false, Passed: 3},
	}}
	merged, err := Merge([]*Result{resultOne, dup}, false)
	require.NoError(t, err)
	require.Len(t, merged.Modules, 1)
	assert.Equal(t, 13, merged.Modules[0].Passed)
	assert.Equal(t, 1, merged.Modules[0].Failed)
	// A module is complete only if every input saw it complete.
	assert.False(t, merged.Modules[0].Done)
}

func TestMergeOrderIndependent(t *testing.T) {
	ab, err := Merge([]*Result{resultOne, resultTwo}, false)
	require.NoError(t, err)
	ba, err := Merge([]*Result{resultTwo, resultOne}, false)
	require.NoError(t, err)

	passedAB, failedAB, skippedAB := ab.Summary()
	passedBA, failedBA, skippedBA := ba.Summary()
	assert.Equal(t, passedAB, passedBA)
	assert.Equal(t, failedAB, failedBA)
	assert.Equal(t, skippedAB, skippedBA)
}

func TestMergeIntraInputDuplicateStrict(t *testing.T) {
	// Two shards of the same module within a single input accumulate even
	// under strict validation; only cross-input duplicates are rejected.
	sharded := &Result{Modules: []ModuleResult{
		{Name: "arm64-v8a CtsShardedTestCases", Done: true, Passed: 4},
		{Name: "arm64-v8a CtsShardedTestCases", Done: true, Passed: 6},
	}}
	merged, err := Merge([]*Result{sharded}, true)
	require.NoError(t, err)
	require.Len(t, merged.Modules, 1)
	assert.Equal(t, 10, merged.Modules[0].Passed)
}

func TestMergeTradefedNonTradefed(t *testing.T) {
	merged, err := MergeTradefedNonTradefed(resultOne, nil)
	require.NoError(t, err)
	require.NotNil(t, merged)
	assert.Len(t, merged.Modules, 1)

	merged, err = MergeTradefedNonTradefed(nil, nil)
	require.NoError(t, err)
	assert.Nil(t, merged)
}

func TestResultPassed(t *testing.T) {
	assert.False(t, resultOne.Passed())
	assert.True(t, resultTwo.Passed())
}

func TestDoneModules(t *testing.T) {
	r := &Result{Modules: []ModuleResult{
		{Name: "a", Done: true},
		{Name: "b"},
		{Name: "c", Done: true},
	}}
	done, total := r.DoneModules()
	assert.Equal(t, 2, done)
	assert.Equal(t, 3, total)
}
