package report

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"os"
	"path/filepath"
	"testing"

	"hosttune/internal/cpuidle"
	"hosttune/internal/cpus"
	"hosttune/internal/report"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateFlags(t *testing.T) {
	tests := []struct {
		name    string
		formats []string
		cpu     int
		wantErr bool
	}{
		{name: "DefaultTxt", formats: []string{report.FormatTxt}, cpu: 0, wantErr: false},
		{name: "All", formats: []string{report.FormatAll}, cpu: 0, wantErr: false},
		{name: "TxtAndJson", formats: []string{report.FormatTxt, report.FormatJson}, cpu: 12, wantErr: false},
		{name: "UnknownFormat", formats: []string{"html"}, cpu: 0, wantErr: true},
		{name: "NegativeCPU", formats: []string{report.FormatTxt}, cpu: -1, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flagFormat = tt.formats
			flagCPU = tt.cpu
			err := validateFlags(Cmd, []string{})
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestReportName(t *testing.T) {
	assert.NotEmpty(t, reportName())
}

func testSource() report.Source {
	return report.Source{
		Host: cpus.Host{
			Vendor:            "GenuineIntel",
			Family:            "6",
			Model:             "106",
			Stepping:          "6",
			ModelName:         "Intel(R) Xeon(R) Platinum 8380 CPU @ 2.30GHz",
			MicroArchitecture: "ICX",
			NumCPUs:           64,
		},
		Kernel: "6.8.0-test",
		CPU:    0,
		IdleStates: []cpuidle.StateInfo{
			{CPU: 0, State: 0, Name: "POLL", Disabled: false, LatencyUs: 0, ResidencyUs: 0, Usage: 12, TimeUs: 345},
			{CPU: 0, State: 1, Name: "C1", Disabled: false, LatencyUs: 2, ResidencyUs: 4, Usage: 98, TimeUs: 1234},
			{CPU: 0, State: 2, Name: "C6", Disabled: true, LatencyUs: 170, ResidencyUs: 600, Usage: 4, TimeUs: 921},
		},
		PowerCtl:      0x4005d,
		PowerCtlValid: true,
	}
}

func TestWriteReports(t *testing.T) {
	source := testSource()
	allTableValues := report.ProcessTables(report.DefaultTableNames, source)
	outputDir := t.TempDir()

	paths, err := writeReports(outputDir, "host-test", []string{report.FormatTxt, report.FormatJson}, allTableValues, source)
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.Equal(t, filepath.Join(outputDir, "host-test.txt"), paths[0])
	assert.Equal(t, filepath.Join(outputDir, "host-test.json"), paths[1])

	text, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	assert.Contains(t, string(text), "Host")
	assert.Contains(t, string(text), "ICX")
}
