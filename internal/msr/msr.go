// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

// Package msr provides read-modify-write access to x86 model-specific
// registers through the msr kernel driver's per-CPU device files,
// /dev/cpu/<N>/msr.
package msr

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"hosttune/internal/util"
)

// DefaultDevRoot is the msr driver's device directory.
const DefaultDevRoot = "/dev/cpu"

// Registers and bit positions used by the power-control commands.
const (
	// PowerCtl is MSR_IA32_POWER_CTL.
	PowerCtl int64 = 0x1FC
	// EnergyEfficientTurboDisableBit disables energy-efficient turbo when set
	// in PowerCtl.
	EnergyEfficientTurboDisableBit = 19
)

// MSR accesses model-specific registers through per-CPU device files rooted
// at devRoot, normally DefaultDevRoot. Tests point devRoot at a directory of
// regular files, which support the same positioned reads and writes.
type MSR struct {
	devRoot string
}

// New returns an MSR backed by the device directory rooted at devRoot.
func New(devRoot string) *MSR {
	return &MSR{devRoot: devRoot}
}

// Validate confirms the device file for the given CPU exists.
func (m *MSR) Validate(cpu int) error {
	devPath := m.devPath(cpu)
	if _, err := os.Stat(devPath); err != nil {
		return errors.Wrap(err, fmt.Sprintf("MSR driver isn't loaded at %s, please load it using the modprobe msr command", devPath))
	}
	return nil
}

// Read returns the value of the register at offset on the given CPU.
func (m *MSR) Read(cpu int, offset int64) (uint64, error) {
	fd, err := unix.Open(m.devPath(cpu), unix.O_RDONLY, 0)
	if err != nil {
		return 0, errors.Wrap(err, fmt.Sprintf("failed to open %s for reading", m.devPath(cpu)))
	}
	defer unix.Close(fd)
	return readAt(fd, offset)
}

// Write sets the register at offset on the given CPU to value.
func (m *MSR) Write(cpu int, offset int64, value uint64) error {
	fd, err := unix.Open(m.devPath(cpu), unix.O_WRONLY, 0)
	if err != nil {
		return errors.Wrap(err, fmt.Sprintf("failed to open %s for writing", m.devPath(cpu)))
	}
	defer unix.Close(fd)
	return writeAt(fd, offset, value)
}

// UpdateBit sets or clears one bit of the register at offset on the given
// CPU, then re-reads the register to confirm the change took. It returns the
// confirmed value. The read-modify-write is idempotent, updating a bit to its
// current state rewrites the same value.
func (m *MSR) UpdateBit(cpu int, offset int64, bit int, set bool) (uint64, error) {
	if bit < 0 || bit > 63 {
		return 0, fmt.Errorf("bit index out of range: %d", bit)
	}
	fd, err := unix.Open(m.devPath(cpu), unix.O_RDWR, 0)
	if err != nil {
		return 0, errors.Wrap(err, fmt.Sprintf("failed to open %s", m.devPath(cpu)))
	}
	defer unix.Close(fd)

	value, err := readAt(fd, offset)
	if err != nil {
		return 0, err
	}
	mask := uint64(1) << uint(bit)
	if set {
		value |= mask
	} else {
		value &^= mask
	}
	if err := writeAt(fd, offset, value); err != nil {
		return 0, err
	}
	confirmed, err := readAt(fd, offset)
	if err != nil {
		return 0, err
	}
	isSet, err := util.IsUint64BitSet(confirmed, bit)
	if err != nil {
		return 0, err
	}
	if isSet != set {
		return confirmed, fmt.Errorf("bit %d of msr 0x%x on cpu%d did not take, register reads 0x%x", bit, offset, cpu, confirmed)
	}
	slog.Debug("updated msr bit", slog.Int("cpu", cpu), slog.String("msr", fmt.Sprintf("0x%x", offset)), slog.Int("bit", bit), slog.Bool("set", set), slog.String("value", fmt.Sprintf("0x%x", confirmed)))
	return confirmed, nil
}

func (m *MSR) devPath(cpu int) string {
	return filepath.Join(m.devRoot, strconv.Itoa(cpu), "msr")
}

func readAt(fd int, offset int64) (uint64, error) {
	buf := make([]byte, 8)
	rc, err := unix.Pread(fd, buf, offset)
	if err != nil {
		return 0, errors.Wrap(err, fmt.Sprintf("failed to read msr 0x%x", offset))
	}
	if rc != 8 {
		return 0, fmt.Errorf("wrong byte count %d reading msr 0x%x", rc, offset)
	}
	// all x86 MSRs read little endian
	return binary.LittleEndian.Uint64(buf), nil
}

func writeAt(fd int, offset int64, value uint64) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, value)
	rc, err := unix.Pwrite(fd, buf, offset)
	if err != nil {
		return errors.Wrap(err, fmt.Sprintf("failed to write msr 0x%x", offset))
	}
	if rc != 8 {
		return fmt.Errorf("wrong byte count %d writing msr 0x%x", rc, offset)
	}
	return nil
}
