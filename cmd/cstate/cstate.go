// Package cstate is a subcommand of the root command. It limits the CPU idle
// states available to the kernel on the local host.
package cstate

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"hosttune/internal/common"
	"hosttune/internal/cpuidle"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const cmdName = "cstate"

// referenceCPU is the CPU whose idle-state controls are re-read and printed
// after a change is applied. Every CPU receives the same settings, so one CPU
// serves as the spot check.
const referenceCPU = 0

var examples = []string{
	fmt.Sprintf("  Allow only POLL and state 1: $ %s %s 1", common.AppName, cmdName),
	fmt.Sprintf("  Allow the shallowest state:  $ %s %s 0", common.AppName, cmdName),
	fmt.Sprintf("  Allow all idle states:       $ %s %s 9", common.AppName, cmdName),
}

var Cmd = &cobra.Command{
	Use:   cmdName + " <limit>",
	Short: "Limit the CPU idle states on the local host",
	Long: `Disables the idle states deeper than the given limit on every CPU and enables the states at or below it.

The limit is an idle-state index as the kernel numbers them, normally 0 through 9. A limit of 1 leaves state0 and state1 available and disables the rest. The settings do not survive a reboot.`,
	Example: strings.Join(examples, "\n"),
	RunE:    runCmd,
	PreRunE: validateArgs,
	GroupID: "primary",
	Args: func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(1)(cmd, args); err != nil {
			return common.FlagValidationError(cmd, err.Error())
		}
		return nil
	},
	SilenceErrors: true,
}

func init() {
	Cmd.SetUsageFunc(usageFunc)
}

func usageFunc(cmd *cobra.Command) error {
	cmd.Printf("Usage: %s <limit>\n\n", cmd.CommandPath())
	cmd.Printf("Examples:\n%s\n\n", cmd.Example)
	cmd.Println("Global Flags:")
	cmd.Parent().PersistentFlags().VisitAll(func(pf *pflag.Flag) {
		flagDefault := ""
		if pf.DefValue != "" {
			flagDefault = fmt.Sprintf(" (default: %s)", pf.DefValue)
		}
		cmd.Printf("  --%-20s %s%s\n", pf.Name, pf.Usage, flagDefault)
	})
	return nil
}

// validateArgs confirms the limit parses as an integer. Values outside the
// usual 0-9 range are accepted, the kernel simply exposes no states there.
func validateArgs(cmd *cobra.Command, args []string) error {
	if _, err := strconv.Atoi(args[0]); err != nil {
		return common.FlagValidationError(cmd, fmt.Sprintf("limit must be an integer, got %q", args[0]))
	}
	return nil
}

func runCmd(cmd *cobra.Command, args []string) error {
	limit, err := strconv.Atoi(args[0])
	if err != nil {
		// validateArgs already accepted the argument
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		slog.Error(err.Error())
		cmd.SilenceUsage = true
		return err
	}
	if !common.IsElevated() {
		err := fmt.Errorf("writing idle state controls requires elevated privileges, try again with sudo")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		slog.Error(err.Error())
		cmd.SilenceUsage = true
		return err
	}
	fs := cpuidle.NewSysfs(cpuidle.DefaultSysfsRoot)
	if err := cpuidle.ApplyThreshold(fs, limit); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		slog.Error(err.Error())
		cmd.SilenceUsage = true
		return err
	}
	// re-read the reference CPU's controls to show what the kernel accepted
	statuses, err := cpuidle.Verify(fs, referenceCPU)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		slog.Error(err.Error())
		cmd.SilenceUsage = true
		return err
	}
	fmt.Print(statusLines(referenceCPU, statuses))
	return nil
}

// statusLines formats the re-read idle-state controls of one CPU, one line
// per state.
func statusLines(cpu int, statuses []cpuidle.StateStatus) string {
	var sb strings.Builder
	for _, status := range statuses {
		fmt.Fprintf(&sb, "cpu%d state%d %s disable=%s\n", cpu, status.State, status.Name, status.Disable)
	}
	return sb.String()
}
