// Package common defines data structures and functions that are used by multiple
// application commands, e.g., cstate, eeturbo, testenv, report, apply.
package common

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var AppName = filepath.Base(os.Args[0])

// AppContext represents the application context that can be accessed from all commands.
type AppContext struct {
	Timestamp    string // Timestamp is the application startup time, used in output file names.
	OutputDir    string // OutputDir is the directory where the application will write output files.
	LocalTempDir string // LocalTempDir is the temp directory on the local host (created by the application).
	LogFilePath  string // LogFilePath is the path to the log file, empty when logging elsewhere.
	Version      string // Version is the version of the application.
	Debug        bool   // Debug indicates whether debug logging is enabled.
}

type Flag struct {
	Name string
	Help string
}
type FlagGroup struct {
	GroupName string
	Flags     []Flag
}

// FlagValidationError is used to report an error with a flag
func FlagValidationError(cmd *cobra.Command, msg string) error {
	err := errors.New(msg)
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	fmt.Fprintf(os.Stderr, "See '%s --help' for usage details.\n", cmd.CommandPath())
	cmd.SilenceUsage = true
	return err
}

// ExitCodeError is returned by commands that need the application to exit with
// a specific code, e.g., testenv propagating its runner's exit code.
type ExitCodeError struct {
	Code int
	Err  error
}

func (e *ExitCodeError) Error() string {
	return e.Err.Error()
}

func (e *ExitCodeError) Unwrap() error {
	return e.Err
}

// CreateOutputDir creates the output directory if it does not exist
func CreateOutputDir(outputDir string) error {
	err := os.MkdirAll(outputDir, 0755) // #nosec G301
	if err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	return nil
}

// IsElevated indicates whether the application is running with elevated privileges.
// Writes to the host's power-management control files require root; commands that
// mutate host state check this before touching anything.
func IsElevated() bool {
	return os.Geteuid() == 0
}
