// Package report is a subcommand of the root command. It reports the host's
// power-management tuning state.
package report

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"hosttune/internal/common"
	"hosttune/internal/cpuidle"
	"hosttune/internal/msr"
	"hosttune/internal/report"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const cmdName = "report"

var examples = []string{
	fmt.Sprintf("  Report from the local host: $ %s %s", common.AppName, cmdName),
	fmt.Sprintf("  Report in all formats:      $ %s %s --format all", common.AppName, cmdName),
	fmt.Sprintf("  Idle states of cpu12:       $ %s %s --cpu 12", common.AppName, cmdName),
}

var Cmd = &cobra.Command{
	Use:   cmdName,
	Short: "Report the host's power-management tuning state",
	Long: `Reads the host's processor identity, idle-state controls, and power-control MSR and writes them as a report.

Idle states are read from one CPU since tuning applies the same settings everywhere. The power-control register is included when the msr driver is loaded and the application has the privileges to read it.`,
	Example:       strings.Join(examples, "\n"),
	RunE:          runCmd,
	PreRunE:       validateFlags,
	GroupID:       "primary",
	Args:          cobra.NoArgs,
	SilenceErrors: true,
}

// flag vars
var (
	flagFormat []string
	flagCPU    int
)

// flag names
const (
	flagFormatName = "format"
	flagCPUName    = "cpu"
)

func init() {
	Cmd.Flags().StringSliceVar(&flagFormat, flagFormatName, []string{report.FormatTxt}, "")
	Cmd.Flags().IntVar(&flagCPU, flagCPUName, 0, "")
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
			Name: flagFormatName,
			Help: fmt.Sprintf("choose output format(s) from: %s", strings.Join(append([]string{report.FormatAll}, report.FormatOptions...), ", ")),
		},
		{
			Name: flagCPUName,
			Help: "CPU whose idle states are reported",
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
	formatOptions := append([]string{report.FormatAll}, report.FormatOptions...)
	for _, format := range flagFormat {
		if !slices.Contains(formatOptions, format) {
			return common.FlagValidationError(cmd, fmt.Sprintf("format options are %s", strings.Join(formatOptions, ", ")))
		}
	}
	if flagCPU < 0 {
		return common.FlagValidationError(cmd, fmt.Sprintf("invalid cpu %d, expected 0 or greater", flagCPU))
	}
	return nil
}

func runCmd(cmd *cobra.Command, args []string) error {
	// appContext is the application context that holds common data and resources.
	appContext := cmd.Parent().Context().Value(common.AppContext{}).(common.AppContext)
	source, err := report.Collect("/proc", cpuidle.NewSysfs(cpuidle.DefaultSysfsRoot), msr.New(msr.DefaultDevRoot), flagCPU)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		slog.Error(err.Error())
		cmd.SilenceUsage = true
		return err
	}
	allTableValues := report.ProcessTables(report.DefaultTableNames, source)
	// add tableValues for the application version
	allTableValues = append(allTableValues, report.TableValues{
		TableDefinition: report.TableDefinition{
			Name: common.AppName,
		},
		Fields: []report.Field{
			{Name: "Version", Values: []string{appContext.Version}},
			{Name: "Args", Values: []string{strings.Join(os.Args, " ")}},
			{Name: "OutputDir", Values: []string{appContext.OutputDir}},
		},
	})
	// check report formats
	formats := flagFormat
	if slices.Contains(formats, report.FormatAll) {
		formats = report.FormatOptions
	}
	// we have report data so create the output directory
	if err := common.CreateOutputDir(appContext.OutputDir); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		slog.Error(err.Error())
		cmd.SilenceUsage = true
		return err
	}
	reportFilePaths, err := writeReports(appContext.OutputDir, reportName(), formats, allTableValues, source)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		slog.Error(err.Error())
		cmd.SilenceUsage = true
		return err
	}
	if len(reportFilePaths) > 0 {
		fmt.Println("Report files:")
	}
	for _, reportFilePath := range reportFilePaths {
		fmt.Printf("  %s\n", reportFilePath)
	}
	return nil
}

// reportName is the base name of the report files, the hostname when it can
// be determined.
func reportName() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return cmdName
	}
	return hostname
}

// writeReports creates a report in each requested format and writes it to
// outputDir. A single txt report is also printed to stdout.
func writeReports(outputDir string, name string, formats []string, allTableValues []report.TableValues, source report.Source) ([]string, error) {
	reportFilePaths := []string{}
	for _, format := range formats {
		reportBytes, err := report.Create(format, allTableValues, source)
		if err != nil {
			return nil, fmt.Errorf("failed to create report: %w", err)
		}
		if len(formats) == 1 && format == report.FormatTxt {
			fmt.Print(string(reportBytes))
		}
		reportFilename := fmt.Sprintf("%s.%s", name, format)
		reportPath := filepath.Join(outputDir, reportFilename)
		if err := os.WriteFile(reportPath, reportBytes, 0644); err != nil { // #nosec G306
			return nil, fmt.Errorf("failed to write report file: %w", err)
		}
		reportFilePaths = append(reportFilePaths, reportPath)
	}
	return reportFilePaths, nil
}
