package testenv

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"os"
	"testing"

	"hosttune/internal/cgroup"

	"github.com/stretchr/testify/assert"
)

func TestArgsArity(t *testing.T) {
	t.Run("NoCommand", func(t *testing.T) {
		err := Cmd.Args(Cmd, []string{})
		assert.Error(t, err)
	})
	t.Run("CommandOnly", func(t *testing.T) {
		err := Cmd.Args(Cmd, []string{"./run_tests.sh"})
		assert.NoError(t, err)
	})
	t.Run("CommandWithArgs", func(t *testing.T) {
		err := Cmd.Args(Cmd, []string{"make", "test", "-j8"})
		assert.NoError(t, err)
	})
}

func TestValidateFlags(t *testing.T) {
	tests := []struct {
		name    string
		cpus    string
		mems    string
		group   string
		ramdisk string
		wantErr bool
	}{
		{name: "Minimal", cpus: "2-5", mems: "0", group: cgroup.DefaultGroup, wantErr: false},
		{name: "ListAndRamdisk", cpus: "0,2,4", mems: "0-1", group: "ci", ramdisk: "512m", wantErr: false},
		{name: "MissingCpus", cpus: "", mems: "0", group: cgroup.DefaultGroup, wantErr: true},
		{name: "BadCpus", cpus: "two", mems: "0", group: cgroup.DefaultGroup, wantErr: true},
		{name: "BadMems", cpus: "0-3", mems: "node0", group: cgroup.DefaultGroup, wantErr: true},
		{name: "EmptyGroupName", cpus: "0-3", mems: "0", group: "", wantErr: true},
		{name: "NestedGroupName", cpus: "0-3", mems: "0", group: "a/b", wantErr: true},
		{name: "BadRamdiskSize", cpus: "0-3", mems: "0", group: cgroup.DefaultGroup, ramdisk: "lots", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flagCpus = tt.cpus
			flagMems = tt.mems
			flagName = tt.group
			flagRamdisk = tt.ramdisk
			err := validateFlags(Cmd, []string{"./run_tests.sh"})
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRunnerEnviron(t *testing.T) {
	t.Run("WithRamdisk", func(t *testing.T) {
		env := runnerEnviron("1g", "/mnt/scratch")
		assert.Contains(t, env, fmt.Sprintf("%s=%s", ramdiskEnvVar, "/mnt/scratch"))
	})
	t.Run("WithoutRamdisk", func(t *testing.T) {
		// no ramdisk, nothing added to the inherited environment
		assert.Len(t, runnerEnviron("", "/mnt/scratch"), len(os.Environ()))
	})
}
