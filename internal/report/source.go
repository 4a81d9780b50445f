// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package report

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"hosttune/internal/cpuidle"
	"hosttune/internal/cpus"
	"hosttune/internal/msr"
)

// Source aggregates everything the report tables draw from.
type Source struct {
	Host   cpus.Host
	Kernel string
	// CPU is the reference CPU the detail tables describe.
	CPU        int
	IdleStates []cpuidle.StateInfo
	// PowerCtl holds IA32_POWER_CTL of the reference CPU. PowerCtlValid is
	// false when the msr device is absent or unreadable.
	PowerCtl      uint64
	PowerCtlValid bool
}

// Collect gathers the report source data. Host identity and idle states are
// required, the power-control register is collected best effort since it
// needs the msr driver and root privilege.
func Collect(procRoot string, fs cpuidle.Sysfs, m *msr.MSR, cpu int) (source Source, err error) {
	source.Host, err = cpus.Identify(procRoot)
	if err != nil {
		return
	}
	kernel, kernelErr := os.ReadFile(filepath.Join(procRoot, "sys", "kernel", "osrelease"))
	if kernelErr != nil {
		slog.Warn("failed to read kernel release", slog.String("error", kernelErr.Error()))
	} else {
		source.Kernel = strings.TrimSpace(string(kernel))
	}
	source.CPU = cpu
	source.IdleStates, err = cpuidle.CollectStates(fs, cpu)
	if err != nil {
		return
	}
	if msrErr := m.Validate(cpu); msrErr != nil {
		slog.Warn("power-control register not collected", slog.String("error", msrErr.Error()))
		return
	}
	value, readErr := m.Read(cpu, msr.PowerCtl)
	if readErr != nil {
		slog.Warn("failed to read power-control register", slog.String("error", readErr.Error()))
		return
	}
	source.PowerCtl = value
	source.PowerCtlValid = true
	return
}
