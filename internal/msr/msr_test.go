// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package msr

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeDev creates a regular file standing in for /dev/cpu/<N>/msr. Positioned
// reads and writes behave the same on regular files as on the device.
func makeDev(t *testing.T, devRoot string, cpu int) {
	t.Helper()
	dir := filepath.Join(devRoot, strconv.Itoa(cpu))
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "msr"), make([]byte, 0x300), 0644))
}

func TestReadWrite(t *testing.T) {
	devRoot := t.TempDir()
	makeDev(t, devRoot, 0)
	m := New(devRoot)

	require.NoError(t, m.Write(0, PowerCtl, 0x19A5019B4000))
	value, err := m.Read(0, PowerCtl)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x19A5019B4000), value)
}

func TestWriteLittleEndian(t *testing.T) {
	devRoot := t.TempDir()
	makeDev(t, devRoot, 2)
	m := New(devRoot)

	require.NoError(t, m.Write(2, 0x10, 0x0102030405060708))
	data, err := os.ReadFile(filepath.Join(devRoot, "2", "msr"))
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0102030405060708), binary.LittleEndian.Uint64(data[0x10:0x18]))
}

func TestUpdateBitSet(t *testing.T) {
	devRoot := t.TempDir()
	makeDev(t, devRoot, 0)
	m := New(devRoot)
	require.NoError(t, m.Write(0, PowerCtl, 0xFF))

	value, err := m.UpdateBit(0, PowerCtl, EnergyEfficientTurboDisableBit, true)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xFF)|uint64(1)<<EnergyEfficientTurboDisableBit, value)

	// setting a bit that is already set rewrites the same value
	again, err := m.UpdateBit(0, PowerCtl, EnergyEfficientTurboDisableBit, true)
	require.NoError(t, err)
	assert.Equal(t, value, again)
}

func TestUpdateBitClear(t *testing.T) {
	devRoot := t.TempDir()
	makeDev(t, devRoot, 1)
	m := New(devRoot)
	require.NoError(t, m.Write(1, PowerCtl, uint64(0xFF)|uint64(1)<<EnergyEfficientTurboDisableBit))

	value, err := m.UpdateBit(1, PowerCtl, EnergyEfficientTurboDisableBit, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xFF), value)
}

func TestUpdateBitBadBit(t *testing.T) {
	devRoot := t.TempDir()
	makeDev(t, devRoot, 0)
	m := New(devRoot)

	_, err := m.UpdateBit(0, PowerCtl, 64, true)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	devRoot := t.TempDir()
	makeDev(t, devRoot, 0)
	m := New(devRoot)

	assert.NoError(t, m.Validate(0))
	err := m.Validate(5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "modprobe msr")
}

func TestReadMissingDevice(t *testing.T) {
	m := New(t.TempDir())
	_, err := m.Read(0, PowerCtl)
	assert.Error(t, err)
}
