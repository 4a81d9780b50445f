package eeturbo

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"hosttune/internal/msr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateFlags(t *testing.T) {
	tests := []struct {
		name     string
		setting  string
		register string
		bit      int
		wantErr  bool
	}{
		{name: "Disable", setting: "disable", register: "0x1fc", bit: 19, wantErr: false},
		{name: "Enable", setting: "enable", register: "0x1fc", bit: 19, wantErr: false},
		{name: "NoPrefix", setting: "disable", register: "1FC", bit: 19, wantErr: false},
		{name: "InvalidSetting", setting: "off", register: "0x1fc", bit: 19, wantErr: true},
		{name: "InvalidRegister", setting: "disable", register: "0x1fz", bit: 19, wantErr: true},
		{name: "NegativeBit", setting: "disable", register: "0x1fc", bit: -1, wantErr: true},
		{name: "BitTooLarge", setting: "disable", register: "0x1fc", bit: 64, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flagRegister = tt.register
			flagBit = tt.bit
			err := validateFlags(Cmd, []string{tt.setting})
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseRegister(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		want    int64
		wantErr bool
	}{
		{name: "LowerPrefix", value: "0x1fc", want: 0x1FC},
		{name: "UpperPrefix", value: "0X1FC", want: 0x1FC},
		{name: "NoPrefix", value: "1fc", want: 0x1FC},
		{name: "NotHex", value: "turbo", wantErr: true},
		{name: "Empty", value: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			register, err := parseRegister(tt.value)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, register)
		})
	}
}

// makeDev creates a regular file standing in for /dev/cpu/<N>/msr.
func makeDev(t *testing.T, devRoot string, cpu int) {
	t.Helper()
	dir := filepath.Join(devRoot, strconv.Itoa(cpu))
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "msr"), make([]byte, 0x300), 0644))
}

func TestApplySetting(t *testing.T) {
	devRoot := t.TempDir()
	cpuIDs := []int{0, 1, 2}
	m := msr.New(devRoot)
	for _, cpu := range cpuIDs {
		makeDev(t, devRoot, cpu)
		require.NoError(t, m.Write(cpu, msr.PowerCtl, 0x4005d))
	}

	confirmed, err := applySetting(m, cpuIDs, msr.PowerCtl, msr.EnergyEfficientTurboDisableBit, true)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x4005d)|uint64(1)<<msr.EnergyEfficientTurboDisableBit, confirmed)
	// every CPU's register is updated, not just the first
	for _, cpu := range cpuIDs {
		value, err := m.Read(cpu, msr.PowerCtl)
		require.NoError(t, err)
		assert.Equal(t, confirmed, value)
	}

	// clearing the bit restores the original value
	confirmed, err = applySetting(m, cpuIDs, msr.PowerCtl, msr.EnergyEfficientTurboDisableBit, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x4005d), confirmed)
}

func TestApplySettingMissingDevice(t *testing.T) {
	devRoot := t.TempDir()
	makeDev(t, devRoot, 0)
	m := msr.New(devRoot)
	require.NoError(t, m.Write(0, msr.PowerCtl, 0))

	// cpu1 has no device node, the error names it
	_, err := applySetting(m, []int{0, 1}, msr.PowerCtl, msr.EnergyEfficientTurboDisableBit, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cpu1")
}
