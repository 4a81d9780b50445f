// Package testenv is a subcommand of the root command. It prepares the
// process isolation a CI test session expects, then runs the session's
// command inside it.
package testenv

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	"hosttune/internal/cgroup"
	"hosttune/internal/common"
	"hosttune/internal/cpuidle"
	"hosttune/internal/cpus"
	"hosttune/internal/util"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

const cmdName = "testenv"

// ramdiskEnvVar names the environment variable telling the runner where its
// memory-backed scratch directory is mounted.
const ramdiskEnvVar = "HOSTTUNE_RAMDISK"

var examples = []string{
	fmt.Sprintf("  Run tests on CPUs 2-5:         $ %s %s --cpus 2-5 -- ./run_tests.sh", common.AppName, cmdName),
	fmt.Sprintf("  Run tests with a 1g ramdisk:   $ %s %s --cpus 2-5 --ramdisk 1g -- make test", common.AppName, cmdName),
	fmt.Sprintf("  Keep the cgroup after the run: $ %s %s --cpus 0-3 --keep -- ./soak.sh --long", common.AppName, cmdName),
}

var Cmd = &cobra.Command{
	Use:   cmdName + " [flags] -- <command> [args]",
	Short: "Run a command in an isolated test environment",
	Long: `Prepares the process isolation a CI test session expects and runs the given command inside it.

A dedicated cpuset control group pins the command and its children to the requested CPUs. An optional tmpfs ramdisk gives the session a memory-backed scratch directory, exported to the command as ` + ramdiskEnvVar + `. The command's exit code becomes this command's exit code. The control group and ramdisk are removed when the command exits unless --keep is set.`,
	Example: strings.Join(examples, "\n"),
	RunE:    runCmd,
	PreRunE: validateFlags,
	GroupID: "primary",
	Args: func(cmd *cobra.Command, args []string) error {
		if err := cobra.MinimumNArgs(1)(cmd, args); err != nil {
			return common.FlagValidationError(cmd, err.Error())
		}
		return nil
	},
	SilenceErrors: true,
}

// flag vars
var (
	flagCpus       string
	flagMems       string
	flagName       string
	flagRamdisk    string
	flagRamdiskDir string
	flagKeep       bool
)

// flag names
const (
	flagCpusName       = "cpus"
	flagMemsName       = "mems"
	flagNameName       = "name"
	flagRamdiskName    = "ramdisk"
	flagRamdiskDirName = "ramdisk-dir"
	flagKeepName       = "keep"
)

func init() {
	Cmd.Flags().StringVar(&flagCpus, flagCpusName, "", "")
	Cmd.Flags().StringVar(&flagMems, flagMemsName, "0", "")
	Cmd.Flags().StringVar(&flagName, flagNameName, cgroup.DefaultGroup, "")
	Cmd.Flags().StringVar(&flagRamdisk, flagRamdiskName, "", "")
	Cmd.Flags().StringVar(&flagRamdiskDir, flagRamdiskDirName, cgroup.DefaultRamdiskDir, "")
	Cmd.Flags().BoolVar(&flagKeep, flagKeepName, false, "")
	// flags stop at the first positional argument so the runner's own flags
	// pass through untouched
	Cmd.Flags().SetInterspersed(false)
	Cmd.SetUsageFunc(usageFunc)
}

func usageFunc(cmd *cobra.Command) error {
	cmd.Printf("Usage: %s [flags] -- <command> [args]\n\n", cmd.CommandPath())
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
	cpusetFlags := []common.Flag{
		{
			Name: flagCpusName,
			Help: "CPUs the command may run on, e.g., 2-5 or 0,2,4 (required)",
		},
		{
			Name: flagMemsName,
			Help: "memory nodes the command may allocate from",
		},
		{
			Name: flagNameName,
			Help: "name of the cpuset control group",
		},
	}
	ramdiskFlags := []common.Flag{
		{
			Name: flagRamdiskName,
			Help: "size of the tmpfs scratch ramdisk, e.g., 512m or 1g",
		},
		{
			Name: flagRamdiskDirName,
			Help: "where to mount the scratch ramdisk",
		},
	}
	otherFlags := []common.Flag{
		{
			Name: flagKeepName,
			Help: "leave the control group and ramdisk in place after the command exits",
		},
	}
	return []common.FlagGroup{
		{
			GroupName: "Cpuset Options",
			Flags:     cpusetFlags,
		},
		{
			GroupName: "Ramdisk Options",
			Flags:     ramdiskFlags,
		},
		{
			GroupName: "Other Options",
			Flags:     otherFlags,
		},
	}
}

func validateFlags(cmd *cobra.Command, args []string) error {
	if flagCpus == "" {
		return common.FlagValidationError(cmd, fmt.Sprintf("the --%s flag is required", flagCpusName))
	}
	if _, err := util.SelectiveIntRangeToIntList(flagCpus); err != nil {
		return common.FlagValidationError(cmd, fmt.Sprintf("invalid cpu list %q, expected ranges like 2-5 or 0,2,4", flagCpus))
	}
	if _, err := util.SelectiveIntRangeToIntList(flagMems); err != nil {
		return common.FlagValidationError(cmd, fmt.Sprintf("invalid memory node list %q, expected ranges like 0 or 0-1", flagMems))
	}
	if flagName == "" || strings.Contains(flagName, "/") {
		return common.FlagValidationError(cmd, fmt.Sprintf("invalid control group name %q", flagName))
	}
	if flagRamdisk != "" && !cgroup.ValidRamdiskSize(flagRamdisk) {
		return common.FlagValidationError(cmd, fmt.Sprintf("invalid ramdisk size %q, expected a number with an optional k, m, or g suffix, e.g., 512m", flagRamdisk))
	}
	return nil
}

func runCmd(cmd *cobra.Command, args []string) error {
	if !common.IsElevated() {
		err := fmt.Errorf("creating control groups requires elevated privileges, try again with sudo")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		slog.Error(err.Error())
		cmd.SilenceUsage = true
		return err
	}
	// confirm the requested CPUs exist on this host
	available, err := cpus.List(cpuidle.DefaultSysfsRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		slog.Error(err.Error())
		cmd.SilenceUsage = true
		return err
	}
	if err := cgroup.ValidateCpulist(flagCpus, available); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		slog.Error(err.Error())
		cmd.SilenceUsage = true
		return err
	}
	// create the cpuset control group for the session
	manager, err := cgroup.NewCpuset(cgroup.Cpuset{Name: flagName, Cpus: flagCpus, Mems: flagMems})
	if err != nil {
		err = fmt.Errorf("failed to create cpuset control group: %w", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		slog.Error(err.Error())
		cmd.SilenceUsage = true
		return err
	}
	if !flagKeep {
		defer func() {
			if err := manager.Delete(); err != nil {
				slog.Error("failed to remove cpuset control group", slog.String("name", flagName), slog.String("error", err.Error()))
			}
		}()
	}
	// mount the scratch ramdisk
	if flagRamdisk != "" {
		if err := cgroup.MountRamdisk(flagRamdiskDir, flagRamdisk); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			slog.Error(err.Error())
			cmd.SilenceUsage = true
			return err
		}
		if !flagKeep {
			defer func() {
				if err := cgroup.UnmountRamdisk(flagRamdiskDir); err != nil {
					slog.Error("failed to unmount ramdisk", slog.String("dir", flagRamdiskDir), slog.String("error", err.Error()))
				}
			}()
		}
	}
	// start the runner
	fmt.Printf("running %s on CPUs %s in control group %s\n", args[0], flagCpus, flagName)
	runner := exec.Command(args[0], args[1:]...) // #nosec G204
	// attach stdin only when it comes from a terminal, a CI agent's pipe
	// stays with us
	if term.IsTerminal(int(os.Stdin.Fd())) {
		runner.Stdin = os.Stdin
	} else {
		slog.Debug("STDIN isn't coming from a terminal, not attaching it to the runner")
	}
	runner.Stdout = os.Stdout
	runner.Stderr = os.Stderr
	runner.Env = runnerEnviron(flagRamdisk, flagRamdiskDir)
	if err := runner.Start(); err != nil {
		err = fmt.Errorf("failed to start %s: %w", args[0], err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		slog.Error(err.Error())
		cmd.SilenceUsage = true
		return err
	}
	// move the runner into the control group before it does real work
	if err := manager.AddProc(runner.Process.Pid); err != nil {
		_ = runner.Process.Kill()
		_ = runner.Wait()
		err = fmt.Errorf("failed to move runner into control group: %w", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		slog.Error(err.Error())
		cmd.SilenceUsage = true
		return err
	}
	slog.Info("runner started", slog.String("command", strings.Join(args, " ")), slog.Int("pid", runner.Process.Pid), slog.String("cgroup", flagName))
	// forward termination signals so the runner can clean up before the
	// control group is removed
	signalChannel := make(chan os.Signal, 1)
	signal.Notify(signalChannel, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for sig := range signalChannel {
			slog.Info("forwarding signal to runner", slog.String("signal", sig.String()))
			_ = runner.Process.Signal(sig)
		}
	}()
	err = runner.Wait()
	signal.Stop(signalChannel)
	if err != nil {
		var exitError *exec.ExitError
		if errors.As(err, &exitError) {
			code := exitError.ExitCode()
			if status, ok := exitError.Sys().(syscall.WaitStatus); ok && status.Signaled() {
				code = 128 + int(status.Signal())
			}
			slog.Info("runner exited", slog.String("command", args[0]), slog.Int("exitCode", code))
			cmd.SilenceUsage = true
			return &common.ExitCodeError{Code: code, Err: fmt.Errorf("%s exited with code %d", args[0], code)}
		}
		err = fmt.Errorf("failed waiting for %s: %w", args[0], err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		slog.Error(err.Error())
		cmd.SilenceUsage = true
		return err
	}
	slog.Info("runner exited", slog.String("command", args[0]), slog.Int("exitCode", 0))
	return nil
}

// runnerEnviron returns the environment for the runner, adding the ramdisk
// location when one is mounted.
func runnerEnviron(ramdiskSize string, ramdiskDir string) []string {
	env := os.Environ()
	if ramdiskSize != "" {
		env = append(env, fmt.Sprintf("%s=%s", ramdiskEnvVar, ramdiskDir))
	}
	return env
}
