// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package cpuidle

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSysfs is an in-memory Sysfs for exercising the policy logic without a
// real control hierarchy.
type fakeSysfs struct {
	cpus      []int
	states    map[int][]int
	attrs     map[string]string
	writes    int
	failCPU   int
	failState int
}

func newFakeSysfs(cpuIDs []int, stateIDs []int) *fakeSysfs {
	fake := &fakeSysfs{
		cpus:      cpuIDs,
		states:    make(map[int][]int),
		attrs:     make(map[string]string),
		failCPU:   -1,
		failState: -1,
	}
	for _, cpu := range cpuIDs {
		fake.states[cpu] = append([]int{}, stateIDs...)
		for _, state := range stateIDs {
			fake.attrs[attrKey(cpu, state, AttrName)] = fmt.Sprintf("C%d", state)
			fake.attrs[attrKey(cpu, state, AttrDisable)] = "0"
			fake.attrs[attrKey(cpu, state, AttrLatency)] = fmt.Sprintf("%d", state*10)
			fake.attrs[attrKey(cpu, state, AttrResidency)] = fmt.Sprintf("%d", state*20)
			fake.attrs[attrKey(cpu, state, AttrUsage)] = "5"
			fake.attrs[attrKey(cpu, state, AttrTime)] = "1000"
		}
	}
	return fake
}

func attrKey(cpu int, state int, attr string) string {
	return fmt.Sprintf("cpu%d/state%d/%s", cpu, state, attr)
}

func (f *fakeSysfs) Processors() ([]int, error) {
	return f.cpus, nil
}

func (f *fakeSysfs) States(cpu int) ([]int, error) {
	states, ok := f.states[cpu]
	if !ok {
		return nil, fmt.Errorf("failed to read idle states for cpu%d", cpu)
	}
	return states, nil
}

func (f *fakeSysfs) ReadStateAttr(cpu int, state int, attr string) (string, error) {
	value, ok := f.attrs[attrKey(cpu, state, attr)]
	if !ok {
		return "", fmt.Errorf("no such attribute: %s", attrKey(cpu, state, attr))
	}
	return value, nil
}

func (f *fakeSysfs) WriteStateAttr(cpu int, state int, attr string, value string) error {
	if cpu == f.failCPU && state == f.failState {
		return fmt.Errorf("write error injected for cpu%d state%d", cpu, state)
	}
	f.attrs[attrKey(cpu, state, attr)] = value
	f.writes++
	return nil
}

func (f *fakeSysfs) disableSnapshot() map[string]string {
	snapshot := make(map[string]string)
	for _, cpu := range f.cpus {
		for _, state := range f.states[cpu] {
			snapshot[attrKey(cpu, state, AttrDisable)] = f.attrs[attrKey(cpu, state, AttrDisable)]
		}
	}
	return snapshot
}

func TestApplyThreshold(t *testing.T) {
	fake := newFakeSysfs([]int{0, 1}, []int{0, 1, 2, 3})
	err := ApplyThreshold(fake, 1)
	require.NoError(t, err)
	assert.Equal(t, 8, fake.writes)
	for _, cpu := range []int{0, 1} {
		for _, state := range []int{0, 1, 2, 3} {
			want := "0"
			if state > 1 {
				want = "1"
			}
			assert.Equal(t, want, fake.attrs[attrKey(cpu, state, AttrDisable)], "cpu%d state%d", cpu, state)
		}
	}
}

func TestApplyThresholdBoundaries(t *testing.T) {
	tests := []struct {
		name      string
		threshold int
		disabled  map[int]string
	}{
		{
			name:      "only the shallowest state stays enabled",
			threshold: 0,
			disabled:  map[int]string{0: "0", 1: "1", 2: "1", 3: "1"},
		},
		{
			name:      "threshold at deepest state enables everything",
			threshold: 3,
			disabled:  map[int]string{0: "0", 1: "0", 2: "0", 3: "0"},
		},
		{
			name:      "threshold beyond deepest state enables everything",
			threshold: 9,
			disabled:  map[int]string{0: "0", 1: "0", 2: "0", 3: "0"},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			fake := newFakeSysfs([]int{0}, []int{0, 1, 2, 3})
			err := ApplyThreshold(fake, test.threshold)
			require.NoError(t, err)
			for state, want := range test.disabled {
				assert.Equal(t, want, fake.attrs[attrKey(0, state, AttrDisable)], "state%d", state)
			}
		})
	}
}

func TestApplyThresholdIdempotent(t *testing.T) {
	fake := newFakeSysfs([]int{0, 1}, []int{0, 1, 2, 3})
	require.NoError(t, ApplyThreshold(fake, 2))
	first := fake.disableSnapshot()
	require.NoError(t, ApplyThreshold(fake, 2))
	assert.Equal(t, first, fake.disableSnapshot())
}

func TestApplyThresholdMonotone(t *testing.T) {
	disabledAt := func(threshold int) map[string]bool {
		fake := newFakeSysfs([]int{0, 1}, []int{0, 1, 2, 3})
		require.NoError(t, ApplyThreshold(fake, threshold))
		disabled := make(map[string]bool)
		for key, value := range fake.disableSnapshot() {
			if value == "1" {
				disabled[key] = true
			}
		}
		return disabled
	}
	// raising the threshold never disables a state that a lower threshold
	// left enabled
	low := disabledAt(2)
	high := disabledAt(0)
	for key := range low {
		assert.True(t, high[key], "state %s disabled at threshold 2 but not at threshold 0", key)
	}
}

func TestApplyThresholdWriteFailure(t *testing.T) {
	fake := newFakeSysfs([]int{0, 1}, []int{0, 1, 2, 3})
	fake.failCPU = 1
	fake.failState = 2
	err := ApplyThreshold(fake, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disable control for cpu1 state2")
	// controls written before the failure keep their values
	assert.Equal(t, "1", fake.attrs[attrKey(0, 3, AttrDisable)])
	assert.Equal(t, "1", fake.attrs[attrKey(1, 1, AttrDisable)])
}

func TestVerify(t *testing.T) {
	fake := newFakeSysfs([]int{0, 1}, []int{0, 1, 2})
	require.NoError(t, ApplyThreshold(fake, 1))
	statuses, err := Verify(fake, 0)
	require.NoError(t, err)
	require.Len(t, statuses, 3)
	assert.Equal(t, StateStatus{State: 0, Name: "C0", Disable: "0"}, statuses[0])
	assert.Equal(t, StateStatus{State: 1, Name: "C1", Disable: "0"}, statuses[1])
	assert.Equal(t, StateStatus{State: 2, Name: "C2", Disable: "1"}, statuses[2])
}

func TestVerifyUnknownCPU(t *testing.T) {
	fake := newFakeSysfs([]int{0}, []int{0})
	_, err := Verify(fake, 7)
	assert.Error(t, err)
}

func TestCollectStates(t *testing.T) {
	fake := newFakeSysfs([]int{0}, []int{0, 1})
	fake.attrs[attrKey(0, 1, AttrDisable)] = "1"
	infos, err := CollectStates(fake, 0)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, StateInfo{CPU: 0, State: 0, Name: "C0", Disabled: false, LatencyUs: 0, ResidencyUs: 0, Usage: 5, TimeUs: 1000}, infos[0])
	assert.Equal(t, StateInfo{CPU: 0, State: 1, Name: "C1", Disabled: true, LatencyUs: 10, ResidencyUs: 20, Usage: 5, TimeUs: 1000}, infos[1])
}

func TestCollectStatesBadAttr(t *testing.T) {
	fake := newFakeSysfs([]int{0}, []int{0})
	fake.attrs[attrKey(0, 0, AttrLatency)] = "not-a-number"
	_, err := CollectStates(fake, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse latency")
}

func writeStateAttrFile(t *testing.T, root string, cpu int, state int, attr string, value string) {
	t.Helper()
	dir := filepath.Join(root, fmt.Sprintf("cpu%d", cpu), "cpuidle", fmt.Sprintf("state%d", state))
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, attr), []byte(value), 0644))
}

func TestSysfsStates(t *testing.T) {
	root := t.TempDir()
	writeStateAttrFile(t, root, 0, 0, AttrName, "POLL")
	writeStateAttrFile(t, root, 0, 1, AttrName, "C1")
	writeStateAttrFile(t, root, 0, 2, AttrName, "C6")
	// entries that do not name an idle state are skipped
	require.NoError(t, os.MkdirAll(filepath.Join(root, "cpu0", "cpuidle", "stateX"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "cpu0", "cpuidle", "driver"), 0755))

	fs := NewSysfs(root)
	states, err := fs.States(0)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, states)
}

func TestSysfsStatesMissingCPU(t *testing.T) {
	fs := NewSysfs(t.TempDir())
	_, err := fs.States(4)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read idle states for cpu4")
}

func TestSysfsStateAttrRoundTrip(t *testing.T) {
	root := t.TempDir()
	writeStateAttrFile(t, root, 2, 1, AttrDisable, "0\n")

	fs := NewSysfs(root)
	value, err := fs.ReadStateAttr(2, 1, AttrDisable)
	require.NoError(t, err)
	assert.Equal(t, "0", value)

	require.NoError(t, fs.WriteStateAttr(2, 1, AttrDisable, "1"))
	value, err = fs.ReadStateAttr(2, 1, AttrDisable)
	require.NoError(t, err)
	assert.Equal(t, "1", value)
}

func TestSysfsProcessors(t *testing.T) {
	root := t.TempDir()
	writeStateAttrFile(t, root, 0, 0, AttrName, "POLL")
	writeStateAttrFile(t, root, 3, 0, AttrName, "POLL")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "cpufreq"), 0755))

	fs := NewSysfs(root)
	cpuIDs, err := fs.Processors()
	require.NoError(t, err)
	assert.Equal(t, []int{0, 3}, cpuIDs)
}
