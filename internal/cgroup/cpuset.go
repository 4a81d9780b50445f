// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

// Package cgroup prepares the process isolation a CI test session expects, a
// dedicated cpuset control group and an optional tmpfs ramdisk.
package cgroup

import (
	"fmt"
	"log/slog"

	cgroups "github.com/containerd/cgroups/v3"
	"github.com/containerd/cgroups/v3/cgroup1"
	"github.com/containerd/cgroups/v3/cgroup2"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

const (
	// Mountpoint is where modern hosts mount the unified hierarchy.
	Mountpoint = "/sys/fs/cgroup"
	// DefaultGroup names the cpuset group when the caller does not.
	DefaultGroup = "hosttune-test"
)

// Cpuset describes the control group to create. Cpus and Mems use the kernel
// list format, e.g., "1-3,5" and "0".
type Cpuset struct {
	Name string
	Cpus string
	Mems string
}

// Manager owns one created cpuset group.
type Manager interface {
	// AddProc moves the given process into the group.
	AddProc(pid int) error
	// Delete removes the group. The kernel refuses while processes remain
	// in it.
	Delete() error
}

// NewCpuset creates the cpuset group on whichever hierarchy the host mounts,
// the unified hierarchy when present and the v1 cpuset controller otherwise.
func NewCpuset(set Cpuset) (Manager, error) {
	if set.Name == "" {
		set.Name = DefaultGroup
	}
	if cgroups.Mode() == cgroups.Unified {
		slog.Debug("creating cpuset group on the unified hierarchy", slog.String("group", set.Name), slog.String("cpus", set.Cpus), slog.String("mems", set.Mems))
		manager, err := cgroup2.NewManager(Mountpoint, "/"+set.Name, &cgroup2.Resources{
			CPU: &cgroup2.CPU{Cpus: set.Cpus, Mems: set.Mems},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create cgroup %s: %w", set.Name, err)
		}
		return &unifiedManager{manager: manager}, nil
	}
	slog.Debug("creating cpuset group on the v1 cpuset controller", slog.String("group", set.Name), slog.String("cpus", set.Cpus), slog.String("mems", set.Mems))
	control, err := cgroup1.New(cgroup1.StaticPath("/"+set.Name), &specs.LinuxResources{
		CPU: &specs.LinuxCPU{Cpus: set.Cpus, Mems: set.Mems},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create cgroup %s: %w", set.Name, err)
	}
	return &legacyManager{control: control}, nil
}

type unifiedManager struct {
	manager *cgroup2.Manager
}

func (m *unifiedManager) AddProc(pid int) error {
	return m.manager.AddProc(uint64(pid))
}

func (m *unifiedManager) Delete() error {
	return m.manager.Delete()
}

type legacyManager struct {
	control cgroup1.Cgroup
}

func (m *legacyManager) AddProc(pid int) error {
	return m.control.AddProc(uint64(pid))
}

func (m *legacyManager) Delete() error {
	return m.control.Delete()
}
