// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package report

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"hosttune/internal/msr"
	"hosttune/internal/util"
)

const promMetricPrefix = "hosttune_"

// createPromReport renders the numeric source values in the Prometheus text
// exposition format, suitable for the node-exporter textfile collector. No
// server is started, the output is written to a file like the other formats.
func createPromReport(source Source) (out []byte, err error) {
	registry := prometheus.NewRegistry()

	hostInfo := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: promMetricPrefix + "host_info",
			Help: "Host identity. Value is always 1.",
		},
		[]string{"vendor", "family", "model", "microarchitecture", "kernel"},
	)
	cpuCount := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: promMetricPrefix + "cpus",
			Help: "Number of logical CPUs.",
		},
	)
	stateLabels := []string{"cpu", "state", "name"}
	stateDisabled := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: promMetricPrefix + "idle_state_disabled",
			Help: "1 when the idle state's disable control is set.",
		},
		stateLabels,
	)
	stateLatency := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: promMetricPrefix + "idle_state_latency_microseconds",
			Help: "Exit latency of the idle state.",
		},
		stateLabels,
	)
	stateResidency := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: promMetricPrefix + "idle_state_target_residency_microseconds",
			Help: "Target residency of the idle state.",
		},
		stateLabels,
	)
	stateUsage := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: promMetricPrefix + "idle_state_usage_total",
			Help: "Number of times the idle state was entered.",
		},
		stateLabels,
	)
	stateTime := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: promMetricPrefix + "idle_state_time_microseconds_total",
			Help: "Total time spent in the idle state.",
		},
		stateLabels,
	)
	eeTurboDisabled := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: promMetricPrefix + "power_ctl_ee_turbo_disabled",
			Help: "1 when the energy-efficient turbo disable bit of IA32_POWER_CTL is set.",
		},
		[]string{"cpu"},
	)
	registry.MustRegister(hostInfo, cpuCount, stateDisabled, stateLatency, stateResidency, stateUsage, stateTime, eeTurboDisabled)

	hostInfo.WithLabelValues(source.Host.Vendor, source.Host.Family, source.Host.Model, source.Host.MicroArchitecture, source.Kernel).Set(1)
	cpuCount.Set(float64(source.Host.NumCPUs))
	for _, state := range source.IdleStates {
		labels := []string{strconv.Itoa(state.CPU), strconv.Itoa(state.State), state.Name}
		stateDisabled.WithLabelValues(labels...).Set(boolToFloat(state.Disabled))
		stateLatency.WithLabelValues(labels...).Set(float64(state.LatencyUs))
		stateResidency.WithLabelValues(labels...).Set(float64(state.ResidencyUs))
		stateUsage.WithLabelValues(labels...).Set(float64(state.Usage))
		stateTime.WithLabelValues(labels...).Set(float64(state.TimeUs))
	}
	if source.PowerCtlValid {
		eeDisabled, _ := util.IsUint64BitSet(source.PowerCtl, msr.EnergyEfficientTurboDisableBit)
		eeTurboDisabled.WithLabelValues(strconv.Itoa(source.CPU)).Set(boolToFloat(eeDisabled))
	}

	families, err := registry.Gather()
	if err != nil {
		return nil, fmt.Errorf("failed to gather report metrics: %w", err)
	}
	var buf bytes.Buffer
	encoder := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, family := range families {
		if err := encoder.Encode(family); err != nil {
			return nil, fmt.Errorf("failed to encode report metrics: %w", err)
		}
	}
	out = buf.Bytes()
	return
}

func boolToFloat(value bool) float64 {
	if value {
		return 1
	}
	return 0
}
