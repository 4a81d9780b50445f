package cstate

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"testing"

	"hosttune/internal/cpuidle"

	"github.com/stretchr/testify/assert"
)

func TestArgsArity(t *testing.T) {
	t.Run("NoArgs", func(t *testing.T) {
		err := Cmd.Args(Cmd, []string{})
		assert.Error(t, err)
	})
	t.Run("OneArg", func(t *testing.T) {
		err := Cmd.Args(Cmd, []string{"1"})
		assert.NoError(t, err)
	})
	t.Run("TwoArgs", func(t *testing.T) {
		err := Cmd.Args(Cmd, []string{"1", "2"})
		assert.Error(t, err)
	})
}

func TestValidateArgs(t *testing.T) {
	tests := []struct {
		name    string
		arg     string
		wantErr bool
	}{
		{name: "Zero", arg: "0", wantErr: false},
		{name: "One", arg: "1", wantErr: false},
		{name: "Nine", arg: "9", wantErr: false},
		{name: "AboveDocumentedRange", arg: "12", wantErr: false},
		{name: "Negative", arg: "-1", wantErr: false},
		{name: "StateName", arg: "C1", wantErr: true},
		{name: "Float", arg: "1.5", wantErr: true},
		{name: "Empty", arg: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateArgs(Cmd, []string{tt.arg})
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStatusLines(t *testing.T) {
	statuses := []cpuidle.StateStatus{
		{State: 0, Name: "POLL", Disable: "0"},
		{State: 1, Name: "C1", Disable: "0"},
		{State: 2, Name: "C6", Disable: "1"},
	}
	want := "cpu0 state0 POLL disable=0\n" +
		"cpu0 state1 C1 disable=0\n" +
		"cpu0 state2 C6 disable=1\n"
	assert.Equal(t, want, statusLines(0, statuses))
}
