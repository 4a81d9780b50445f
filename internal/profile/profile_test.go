// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hosttune/internal/cpus"
)

func writeProfileFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

var icxHost = cpus.Host{
	Vendor:            "GenuineIntel",
	Family:            "6",
	Model:             "106",
	Stepping:          "6",
	MicroArchitecture: "ICX",
	NumCPUs:           64,
}

func TestLoad(t *testing.T) {
	path := writeProfileFile(t, `
profiles:
  - name: ci-intel
    when: vendor == 'GenuineIntel' && family == 6
    cstatelimit: 1
    eeturbo: disable
  - name: default
    cstatelimit: 2
`)
	profiles, err := Load(path)
	require.NoError(t, err)
	require.Len(t, profiles, 2)

	assert.Equal(t, "ci-intel", profiles[0].Name)
	require.NotNil(t, profiles[0].CstateLimit)
	assert.Equal(t, 1, *profiles[0].CstateLimit)
	assert.Equal(t, EETurboDisable, profiles[0].EETurbo)
	assert.NotNil(t, profiles[0].Evaluable)

	assert.Equal(t, "default", profiles[1].Name)
	assert.Empty(t, profiles[1].When)
	assert.Empty(t, profiles[1].EETurbo)
}

func TestLoadZeroLimit(t *testing.T) {
	path := writeProfileFile(t, `
profiles:
  - name: poll-only
    cstatelimit: 0
`)
	profiles, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, profiles[0].CstateLimit)
	assert.Equal(t, 0, *profiles[0].CstateLimit)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errText string
	}{
		{
			name:    "empty file",
			content: "",
			errText: "no profiles defined",
		},
		{
			name:    "not yaml",
			content: "profiles: [unclosed",
			errText: "failed to parse profile file",
		},
		{
			name: "missing name",
			content: `
profiles:
  - cstatelimit: 1
`,
			errText: "has no name",
		},
		{
			name: "bad eeturbo value",
			content: `
profiles:
  - name: bad
    eeturbo: off
`,
			errText: "invalid eeturbo value",
		},
		{
			name: "bad when expression",
			content: `
profiles:
  - name: bad
    when: vendor == ((
`,
			errText: "failed to parse when expression",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			path := writeProfileFile(t, test.content)
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), test.errText)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestMatchFirstWins(t *testing.T) {
	path := writeProfileFile(t, `
profiles:
  - name: icelake
    when: vendor == 'GenuineIntel' && family == 6 && model == 106
    cstatelimit: 1
  - name: any-intel
    when: vendor == 'GenuineIntel'
    cstatelimit: 2
  - name: default
    cstatelimit: 3
`)
	profiles, err := Load(path)
	require.NoError(t, err)

	matched, err := Match(profiles, icxHost)
	require.NoError(t, err)
	assert.Equal(t, "icelake", matched.Name)

	amdHost := cpus.Host{Vendor: "AuthenticAMD", Family: "25", Model: "1", MicroArchitecture: "Milan", NumCPUs: 128}
	matched, err = Match(profiles, amdHost)
	require.NoError(t, err)
	assert.Equal(t, "default", matched.Name)
}

func TestMatchExpressions(t *testing.T) {
	tests := []struct {
		name    string
		when    string
		matches bool
	}{
		{"vendor string", "vendor == 'GenuineIntel'", true},
		{"numeric family", "family == 6", true},
		{"numeric comparison", "model >= 100", true},
		{"microarchitecture", "microarchitecture == 'ICX'", true},
		{"cpu count", "cpus > 32", true},
		{"stepping", "stepping == 6", true},
		{"combined", "vendor == 'GenuineIntel' && cpus > 32 && model < 200", true},
		{"wrong vendor", "vendor == 'AuthenticAMD'", false},
		{"wrong family", "family == 25", false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			profiles := []Profile{{Name: "p", When: test.when}}
			matched, err := Match(profiles, icxHost)
			if test.matches {
				require.NoError(t, err)
				assert.Equal(t, "p", matched.Name)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "no profile matches")
			}
		})
	}
}

func TestMatchNonBooleanExpression(t *testing.T) {
	profiles := []Profile{{Name: "p", When: "cpus + 1"}}
	_, err := Match(profiles, icxHost)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not evaluate to true or false")
}

func TestMatchNoProfiles(t *testing.T) {
	_, err := Match(nil, icxHost)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no profile matches")
}
