// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

// Package cpuidle provides typed access to the per-CPU idle-state control
// hierarchy, /sys/devices/system/cpu/cpu*/cpuidle/state*, and implements the
// threshold policy that disables idle states deeper than a requested tier.
package cpuidle

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"hosttune/internal/cpus"
)

// DefaultSysfsRoot is the host's processor topology directory.
const DefaultSysfsRoot = "/sys/devices/system/cpu"

// Idle-state attribute file names within cpuidle/state<N>/.
const (
	AttrName      = "name"
	AttrDisable   = "disable"
	AttrLatency   = "latency"
	AttrResidency = "residency"
	AttrUsage     = "usage"
	AttrTime      = "time"
)

// Sysfs abstracts the idle-state control hierarchy so that the policy and
// verification logic can be exercised against an in-memory fake in tests.
type Sysfs interface {
	// Processors returns the sorted logical CPU ids present in the hierarchy.
	Processors() ([]int, error)
	// States returns the sorted idle-state ids exposed by the given CPU.
	States(cpu int) ([]int, error)
	// ReadStateAttr reads an attribute of one idle state of one CPU.
	ReadStateAttr(cpu int, state int, attr string) (string, error)
	// WriteStateAttr writes an attribute of one idle state of one CPU.
	WriteStateAttr(cpu int, state int, attr string, value string) error
}

// stateEntryRe matches idle-state directory entries, e.g., "state0", "state3".
var stateEntryRe = regexp.MustCompile(`^state(\d+)$`)

type sysfs struct {
	root string
}

// NewSysfs returns a Sysfs backed by the control hierarchy rooted at root,
// normally DefaultSysfsRoot.
func NewSysfs(root string) Sysfs {
	return &sysfs{root: root}
}

func (fs *sysfs) Processors() ([]int, error) {
	return cpus.List(fs.root)
}

func (fs *sysfs) States(cpu int) ([]int, error) {
	cpuidlePath := filepath.Join(fs.root, "cpu"+strconv.Itoa(cpu), "cpuidle")
	dirEntries, err := os.ReadDir(cpuidlePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read idle states for cpu%d: %w", cpu, err)
	}
	var states []int
	for _, entry := range dirEntries {
		match := stateEntryRe.FindStringSubmatch(entry.Name())
		if match == nil {
			slog.Debug("skipping non-state cpuidle entry", slog.Int("cpu", cpu), slog.String("entry", entry.Name()))
			continue
		}
		state, err := strconv.Atoi(match[1])
		if err != nil {
			// unreachable given the pattern, but never silently drop an entry
			slog.Warn("failed to parse cpuidle state entry", slog.Int("cpu", cpu), slog.String("entry", entry.Name()), slog.String("error", err.Error()))
			continue
		}
		states = append(states, state)
	}
	slices.Sort(states)
	return states, nil
}

func (fs *sysfs) ReadStateAttr(cpu int, state int, attr string) (string, error) {
	data, err := os.ReadFile(fs.stateAttrPath(cpu, state, attr))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (fs *sysfs) WriteStateAttr(cpu int, state int, attr string, value string) error {
	return os.WriteFile(fs.stateAttrPath(cpu, state, attr), []byte(value), 0644)
}

func (fs *sysfs) stateAttrPath(cpu int, state int, attr string) string {
	return filepath.Join(fs.root, "cpu"+strconv.Itoa(cpu), "cpuidle", "state"+strconv.Itoa(state), attr)
}

// ApplyThreshold writes the disable control of every idle state of every CPU:
// "1" for states deeper than threshold, "0" otherwise. The final state of each
// control is a pure function of the state id and the threshold, so re-running
// with the same threshold is a no-op in effect. A failed write stops the run;
// controls already written stay written.
func ApplyThreshold(fs Sysfs, threshold int) error {
	cpuIDs, err := fs.Processors()
	if err != nil {
		return err
	}
	for _, cpu := range cpuIDs {
		states, err := fs.States(cpu)
		if err != nil {
			return err
		}
		for _, state := range states {
			value := "0"
			if state > threshold {
				value = "1"
			}
			if err := fs.WriteStateAttr(cpu, state, AttrDisable, value); err != nil {
				return fmt.Errorf("failed to write disable control for cpu%d state%d: %w", cpu, state, err)
			}
		}
		slog.Debug("applied idle state threshold", slog.Int("cpu", cpu), slog.Int("threshold", threshold), slog.Int("states", len(states)))
	}
	return nil
}

// StateStatus reports the disable control of one idle state as re-read from
// the hierarchy after a policy run.
type StateStatus struct {
	State   int
	Name    string
	Disable string
}

// Verify re-reads the disable control of every idle state of the given CPU.
// It is the operator-facing post-condition check, deliberately limited to a
// single reference CPU.
func Verify(fs Sysfs, cpu int) ([]StateStatus, error) {
	states, err := fs.States(cpu)
	if err != nil {
		return nil, err
	}
	var statuses []StateStatus
	for _, state := range states {
		name, err := fs.ReadStateAttr(cpu, state, AttrName)
		if err != nil {
			return nil, fmt.Errorf("failed to read name of cpu%d state%d: %w", cpu, state, err)
		}
		disable, err := fs.ReadStateAttr(cpu, state, AttrDisable)
		if err != nil {
			return nil, fmt.Errorf("failed to read disable control of cpu%d state%d: %w", cpu, state, err)
		}
		statuses = append(statuses, StateStatus{State: state, Name: name, Disable: disable})
	}
	return statuses, nil
}

// StateInfo holds the full set of idle-state attributes for one state of one
// CPU, with numeric attributes parsed.
type StateInfo struct {
	CPU         int
	State       int
	Name        string
	Disabled    bool
	LatencyUs   uint64
	ResidencyUs uint64
	Usage       uint64
	TimeUs      uint64
}

// CollectStates reads all attributes of all idle states of the given CPU.
func CollectStates(fs Sysfs, cpu int) ([]StateInfo, error) {
	states, err := fs.States(cpu)
	if err != nil {
		return nil, err
	}
	var infos []StateInfo
	for _, state := range states {
		info := StateInfo{CPU: cpu, State: state}
		name, err := fs.ReadStateAttr(cpu, state, AttrName)
		if err != nil {
			return nil, fmt.Errorf("failed to read name of cpu%d state%d: %w", cpu, state, err)
		}
		info.Name = name
		disable, err := fs.ReadStateAttr(cpu, state, AttrDisable)
		if err != nil {
			return nil, fmt.Errorf("failed to read disable control of cpu%d state%d: %w", cpu, state, err)
		}
		info.Disabled = disable == "1"
		for attr, field := range map[string]*uint64{
			AttrLatency:   &info.LatencyUs,
			AttrResidency: &info.ResidencyUs,
			AttrUsage:     &info.Usage,
			AttrTime:      &info.TimeUs,
		} {
			value, err := fs.ReadStateAttr(cpu, state, attr)
			if err != nil {
				return nil, fmt.Errorf("failed to read %s of cpu%d state%d: %w", attr, cpu, state, err)
			}
			parsed, err := strconv.ParseUint(value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("failed to parse %s of cpu%d state%d: %w", attr, cpu, state, err)
			}
			*field = parsed
		}
		infos = append(infos, info)
	}
	return infos, nil
}
