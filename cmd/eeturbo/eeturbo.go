// Package eeturbo is a subcommand of the root command. It enables or disables
// energy-efficient turbo on the local host by editing the power-control MSR.
package eeturbo

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"

	"hosttune/internal/common"
	"hosttune/internal/cpuidle"
	"hosttune/internal/cpus"
	"hosttune/internal/msr"
	"hosttune/internal/util"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const cmdName = "eeturbo"

var examples = []string{
	fmt.Sprintf("  Disable energy-efficient turbo: $ %s %s disable", common.AppName, cmdName),
	fmt.Sprintf("  Enable energy-efficient turbo:  $ %s %s enable", common.AppName, cmdName),
}

// settingOptions - list of valid setting options
var settingOptions = []string{"enable", "disable"}

var Cmd = &cobra.Command{
	Use:   cmdName + " <setting>",
	Short: "Enable or disable energy-efficient turbo on the local host",
	Long: `Sets or clears the energy-efficient turbo disable bit of the IA32_POWER_CTL register on every CPU.

Energy-efficient turbo lets the processor trade turbo frequency for power savings. Disabling it reduces run-to-run frequency variance during benchmarks. Each register is written and then read back to confirm the bit took. Requires the msr kernel driver, e.g., modprobe msr.`,
	Example: strings.Join(examples, "\n"),
	RunE:    runCmd,
	PreRunE: validateFlags,
	GroupID: "primary",
	Args: func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(1)(cmd, args); err != nil {
			return common.FlagValidationError(cmd, err.Error())
		}
		return nil
	},
	SilenceErrors: true,
}

// flag vars
var (
	flagRegister string
	flagBit      int
)

// flag names
const (
	flagRegisterName = "register"
	flagBitName      = "bit"
)

func init() {
	Cmd.Flags().StringVar(&flagRegister, flagRegisterName, fmt.Sprintf("0x%x", msr.PowerCtl), "")
	Cmd.Flags().IntVar(&flagBit, flagBitName, msr.EnergyEfficientTurboDisableBit, "")
	Cmd.SetUsageFunc(usageFunc)
}

func usageFunc(cmd *cobra.Command) error {
	cmd.Printf("Usage: %s <setting> [flags]\n\n", cmd.CommandPath())
	cmd.Printf("Examples:\n%s\n\n", cmd.Example)
	cmd.Println("Flags:")
	for _, group := range getFlagGroups() {
		cmd.Printf("  %s:\n", group.GroupName)
		for _, flag := range group.Flags {
			flagDefault := ""
			if cmd.Flags().Lookup(flag.Name).DefValue != "" {
				flagDefault = fmt.Sprintf(" (default: %s)", cmd.Flags().Lookup(flag.Name).DefValue)
			}
			cmd.Printf("    --%-20s %s%s\n", flag.Name, flag.Help, flagDefault)
		}
	}
	cmd.Println("\nGlobal Flags:")
	cmd.Parent().PersistentFlags().VisitAll(func(pf *pflag.Flag) {
		flagDefault := ""
		if pf.DefValue != "" {
			flagDefault = fmt.Sprintf(" (default: %s)", pf.DefValue)
		}
		cmd.Printf("  --%-20s %s%s\n", pf.Name, pf.Usage, flagDefault)
	})
	return nil
}

func getFlagGroups() []common.FlagGroup {
	flags := []common.Flag{
		{
			Name: flagRegisterName,
			Help: "MSR to edit, as a hex offset",
		},
		{
			Name: flagBitName,
			Help: "register bit to set or clear (0-63)",
		},
	}
	return []common.FlagGroup{
		{
			GroupName: "Options",
			Flags:     flags,
		},
	}
}

func validateFlags(cmd *cobra.Command, args []string) error {
	if !slices.Contains(settingOptions, args[0]) {
		return common.FlagValidationError(cmd, fmt.Sprintf("invalid setting %q, expected %s", args[0], strings.Join(settingOptions, " or ")))
	}
	if !util.IsValidHex(flagRegister) {
		return common.FlagValidationError(cmd, fmt.Sprintf("invalid register %q, expected a hex offset, e.g., 0x1fc", flagRegister))
	}
	if flagBit < 0 || flagBit > 63 {
		return common.FlagValidationError(cmd, fmt.Sprintf("invalid bit %d, expected 0-63", flagBit))
	}
	return nil
}

func runCmd(cmd *cobra.Command, args []string) error {
	setting := args[0]
	register, err := parseRegister(flagRegister)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		slog.Error(err.Error())
		cmd.SilenceUsage = true
		return err
	}
	if !common.IsElevated() {
		err := fmt.Errorf("writing model-specific registers requires elevated privileges, try again with sudo")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		slog.Error(err.Error())
		cmd.SilenceUsage = true
		return err
	}
	cpuIDs, err := cpus.List(cpuidle.DefaultSysfsRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		slog.Error(err.Error())
		cmd.SilenceUsage = true
		return err
	}
	m := msr.New(msr.DefaultDevRoot)
	if err := m.Validate(cpuIDs[0]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		slog.Error(err.Error())
		cmd.SilenceUsage = true
		return err
	}
	// the register bit disables the feature, so "disable" sets it
	confirmed, err := applySetting(m, cpuIDs, register, flagBit, setting == "disable")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		slog.Error(err.Error())
		cmd.SilenceUsage = true
		return err
	}
	fmt.Printf("energy-efficient turbo %sd on %d CPUs\n", setting, len(cpuIDs))
	fmt.Printf("cpu%d register 0x%x reads 0x%016x\n", cpuIDs[0], register, confirmed)
	return nil
}

// parseRegister converts a hex register offset, with or without the 0x
// prefix, to the offset used for MSR device reads and writes.
func parseRegister(value string) (int64, error) {
	cleaned := strings.TrimPrefix(strings.ToLower(value), "0x")
	register, err := strconv.ParseInt(cleaned, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse register %q: %w", value, err)
	}
	return register, nil
}

// applySetting sets or clears the given register bit on every listed CPU and
// returns the confirmed register value of the first CPU.
func applySetting(m *msr.MSR, cpuIDs []int, register int64, bit int, set bool) (uint64, error) {
	var first uint64
	for i, cpu := range cpuIDs {
		confirmed, err := m.UpdateBit(cpu, register, bit, set)
		if err != nil {
			return 0, fmt.Errorf("failed to update msr 0x%x on cpu%d: %w", register, cpu, err)
		}
		if i == 0 {
			first = confirmed
		}
	}
	return first, nil
}
