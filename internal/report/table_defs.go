// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package report

import (
	"fmt"
	"strconv"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"hosttune/internal/msr"
	"hosttune/internal/util"
)

// table names
const (
	HostTableName         = "Host"
	IdleStatesTableName   = "Idle States"
	PowerControlTableName = "Power Control"
)

// DefaultTableNames lists the report tables in render order.
var DefaultTableNames = []string{
	HostTableName,
	IdleStatesTableName,
	PowerControlTableName,
}

var tableDefinitions = map[string]TableDefinition{
	HostTableName: {
		Name:       HostTableName,
		FieldsFunc: hostTableValues,
	},
	IdleStatesTableName: {
		Name:        IdleStatesTableName,
		HasRows:     true,
		NoDataFound: "No idle states found.",
		FieldsFunc:  idleStatesTableValues,
	},
	PowerControlTableName: {
		Name:        PowerControlTableName,
		HasRows:     true,
		NoDataFound: "MSR device not available. Run as root with the msr driver loaded.",
		FieldsFunc:  powerControlTableValues,
	},
}

func hostTableValues(source Source) []Field {
	return []Field{
		{Name: "Vendor", Values: []string{source.Host.Vendor}},
		{Name: "CPU Family", Values: []string{source.Host.Family}},
		{Name: "Model", Values: []string{source.Host.Model}},
		{Name: "Stepping", Values: []string{source.Host.Stepping}},
		{Name: "Microarchitecture", Values: []string{source.Host.MicroArchitecture}},
		{Name: "Model Name", Values: []string{source.Host.ModelName}},
		{Name: "CPUs", Values: []string{strconv.Itoa(source.Host.NumCPUs)}},
		{Name: "Kernel", Values: []string{source.Kernel}},
	}
}

func idleStatesTableValues(source Source) []Field {
	fields := []Field{
		{Name: "CPU"},
		{Name: "State"},
		{Name: "Name"},
		{Name: "Disabled"},
		{Name: "Latency (us)"},
		{Name: "Residency (us)"},
		{Name: "Usage"},
		{Name: "Time (us)"},
	}
	p := message.NewPrinter(language.English) // use printer to get commas at thousands, e.g., 1,234,567
	for _, state := range source.IdleStates {
		fields[0].Values = append(fields[0].Values, fmt.Sprintf("cpu%d", state.CPU))
		fields[1].Values = append(fields[1].Values, strconv.Itoa(state.State))
		fields[2].Values = append(fields[2].Values, state.Name)
		fields[3].Values = append(fields[3].Values, strconv.FormatBool(state.Disabled))
		fields[4].Values = append(fields[4].Values, strconv.FormatUint(state.LatencyUs, 10))
		fields[5].Values = append(fields[5].Values, strconv.FormatUint(state.ResidencyUs, 10))
		fields[6].Values = append(fields[6].Values, p.Sprintf("%d", state.Usage))
		fields[7].Values = append(fields[7].Values, p.Sprintf("%d", state.TimeUs))
	}
	return fields
}

func powerControlTableValues(source Source) []Field {
	if !source.PowerCtlValid {
		return []Field{}
	}
	eeDisabled, _ := util.IsUint64BitSet(source.PowerCtl, msr.EnergyEfficientTurboDisableBit)
	eeTurbo := "enabled"
	if eeDisabled {
		eeTurbo = "disabled"
	}
	return []Field{
		{Name: "CPU", Values: []string{fmt.Sprintf("cpu%d", source.CPU)}},
		{Name: "IA32_POWER_CTL", Values: []string{fmt.Sprintf("0x%016x", source.PowerCtl)}},
		{Name: "EE Turbo", Values: []string{eeTurbo}},
	}
}
