// Package apply is a subcommand of the root command. It selects the tuning
// profile matching the local host and applies its settings.
package apply

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"hosttune/internal/common"
	"hosttune/internal/cpuidle"
	"hosttune/internal/cpus"
	"hosttune/internal/msr"
	"hosttune/internal/profile"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const cmdName = "apply"

var examples = []string{
	fmt.Sprintf("  Apply the matching profile: $ %s %s --profile profiles.yaml", common.AppName, cmdName),
	fmt.Sprintf("  Preview without changing:   $ %s %s --profile profiles.yaml --dry-run", common.AppName, cmdName),
}

var Cmd = &cobra.Command{
	Use:   cmdName,
	Short: "Apply the tuning profile matching the local host",
	Long: `Reads tuning profiles from a YAML file, selects the first profile whose when expression matches this host's processor identity, and applies its settings.

A profile can limit the available idle states and enable or disable energy-efficient turbo. With --dry-run the selected profile and its changes are printed without touching the host.`,
	Example:       strings.Join(examples, "\n"),
	RunE:          runCmd,
	PreRunE:       validateFlags,
	GroupID:       "primary",
	Args:          cobra.NoArgs,
	SilenceErrors: true,
}

// flag vars
var (
	flagProfilePath string
	flagDryRun      bool
)

// flag names
const (
	flagProfileName = "profile"
	flagDryRunName  = "dry-run"
)

func init() {
	Cmd.Flags().StringVar(&flagProfilePath, flagProfileName, "", "")
	Cmd.Flags().BoolVar(&flagDryRun, flagDryRunName, false, "")
	Cmd.SetUsageFunc(usageFunc)
}

func usageFunc(cmd *cobra.Command) error {
	cmd.Printf("Usage: %s [flags]\n\n", cmd.CommandPath())
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
			Name: flagProfileName,
			Help: "path to the profiles YAML file (required)",
		},
		{
			Name: flagDryRunName,
			Help: "print the selected profile and its changes without applying them",
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
	if flagProfilePath == "" {
		return common.FlagValidationError(cmd, fmt.Sprintf("the --%s flag is required", flagProfileName))
	}
	return nil
}

func runCmd(cmd *cobra.Command, args []string) error {
	profiles, err := profile.Load(flagProfilePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		slog.Error(err.Error())
		cmd.SilenceUsage = true
		return err
	}
	host, err := cpus.Identify("/proc")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		slog.Error(err.Error())
		cmd.SilenceUsage = true
		return err
	}
	matched, err := profile.Match(profiles, host)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		slog.Error(err.Error())
		cmd.SilenceUsage = true
		return err
	}
	slog.Info("profile matched", slog.String("profile", matched.Name), slog.String("vendor", host.Vendor), slog.String("family", host.Family), slog.String("model", host.Model), slog.String("uarch", host.MicroArchitecture))
	fmt.Printf("profile %s matches this host\n", matched.Name)
	changes := actions(matched)
	if len(changes) == 0 {
		fmt.Println("profile requests no changes")
		return nil
	}
	if flagDryRun {
		for _, change := range changes {
			fmt.Printf("would %s\n", change)
		}
		return nil
	}
	if !common.IsElevated() {
		err := fmt.Errorf("applying a profile requires elevated privileges, try again with sudo")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		slog.Error(err.Error())
		cmd.SilenceUsage = true
		return err
	}
	if matched.CstateLimit != nil {
		fs := cpuidle.NewSysfs(cpuidle.DefaultSysfsRoot)
		if err := cpuidle.ApplyThreshold(fs, *matched.CstateLimit); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			slog.Error(err.Error())
			cmd.SilenceUsage = true
			return err
		}
		fmt.Printf("limited idle states to state%d and below\n", *matched.CstateLimit)
	}
	if matched.EETurbo != "" {
		cpuIDs, err := cpus.List(cpuidle.DefaultSysfsRoot)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			slog.Error(err.Error())
			cmd.SilenceUsage = true
			return err
		}
		m := msr.New(msr.DefaultDevRoot)
		// the register bit disables the feature
		set := matched.EETurbo == profile.EETurboDisable
		for _, cpu := range cpuIDs {
			if _, err := m.UpdateBit(cpu, msr.PowerCtl, msr.EnergyEfficientTurboDisableBit, set); err != nil {
				err = fmt.Errorf("failed to %s energy-efficient turbo: %w", matched.EETurbo, err)
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				slog.Error(err.Error())
				cmd.SilenceUsage = true
				return err
			}
		}
		fmt.Printf("%sd energy-efficient turbo on %d CPUs\n", matched.EETurbo, len(cpuIDs))
	}
	return nil
}

// actions describes the changes a profile requests, one line per change.
func actions(matched profile.Profile) []string {
	var lines []string
	if matched.CstateLimit != nil {
		lines = append(lines, fmt.Sprintf("limit idle states to state%d and below", *matched.CstateLimit))
	}
	if matched.EETurbo != "" {
		lines = append(lines, fmt.Sprintf("%s energy-efficient turbo", matched.EETurbo))
	}
	return lines
}
