// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

// Package cpus enumerates the logical CPUs exposed by the host's processor
// topology interface and identifies the processor's vendor, family, model,
// and microarchitecture.
package cpus

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"strconv"

	"github.com/prometheus/procfs"
)

const IntelVendor = "GenuineIntel"
const AMDVendor = "AuthenticAMD"

// Microarchitecture constants
const (
	UarchHSX = "HSX"
	UarchBDX = "BDX"
	UarchSKX = "SKX"
	UarchCLX = "CLX"
	UarchICX = "ICX"
	UarchSPR = "SPR"
	UarchEMR = "EMR"
	UarchSRF = "SRF"
	UarchGNR = "GNR"
	// AMD CPUs
	UarchNaples = "Naples"
	UarchRome   = "Rome"
	UarchMilan  = "Milan"
	UarchGenoa  = "Genoa"
)

// cpuIdentifier identifies a microarchitecture by vendor, family, and
// model/stepping regular expressions. An empty stepping matches any stepping.
type cpuIdentifier struct {
	Vendor   string
	Family   string
	Model    string // regex match
	Stepping string // regex match, empty means 'any' stepping
}

var cpuIdentifiers = []struct {
	Identifier        cpuIdentifier
	MicroArchitecture string
}{
	{cpuIdentifier{IntelVendor, "6", "63", ""}, UarchHSX},
	{cpuIdentifier{IntelVendor, "6", "(79|86)", ""}, UarchBDX},
	{cpuIdentifier{IntelVendor, "6", "85", "[0-4]"}, UarchSKX},
	{cpuIdentifier{IntelVendor, "6", "85", "[5-7]"}, UarchCLX},
	{cpuIdentifier{IntelVendor, "6", "(106|108)", ""}, UarchICX},
	{cpuIdentifier{IntelVendor, "6", "143", ""}, UarchSPR},
	{cpuIdentifier{IntelVendor, "6", "207", ""}, UarchEMR},
	{cpuIdentifier{IntelVendor, "6", "175", ""}, UarchSRF},
	{cpuIdentifier{IntelVendor, "6", "173", ""}, UarchGNR},
	{cpuIdentifier{AMDVendor, "23", "1", ""}, UarchNaples},
	{cpuIdentifier{AMDVendor, "23", "49", ""}, UarchRome},
	{cpuIdentifier{AMDVendor, "25", "1", ""}, UarchMilan},
	{cpuIdentifier{AMDVendor, "25", "(1[6-9]|2[0-9]|3[01])", ""}, UarchGenoa},
}

// Host holds the identity of the local machine's processors as read from the
// kernel's cpuinfo interface. Family, Model, and Stepping are kept as the
// decimal strings the kernel reports.
type Host struct {
	Vendor            string
	Family            string
	Model             string
	Stepping          string
	ModelName         string
	MicroArchitecture string
	NumCPUs           int
}

// Identify reads the processor identity from the proc filesystem rooted at
// procRoot (normally "/proc"). The microarchitecture is looked up from the
// vendor/family/model tables; an unrecognized processor is not an error, it
// simply has an empty MicroArchitecture.
func Identify(procRoot string) (Host, error) {
	fs, err := procfs.NewFS(procRoot)
	if err != nil {
		return Host{}, fmt.Errorf("failed to open proc filesystem at %s: %w", procRoot, err)
	}
	info, err := fs.CPUInfo()
	if err != nil {
		return Host{}, fmt.Errorf("failed to read cpuinfo: %w", err)
	}
	if len(info) == 0 {
		return Host{}, fmt.Errorf("no processors found in cpuinfo")
	}
	first := info[0]
	host := Host{
		Vendor:    first.VendorID,
		Family:    first.CPUFamily,
		Model:     first.Model,
		Stepping:  first.Stepping,
		ModelName: first.ModelName,
		NumCPUs:   len(info),
	}
	uarch, err := MicroArchitecture(host.Vendor, host.Family, host.Model, host.Stepping)
	if err != nil {
		slog.Debug("microarchitecture not recognized", slog.String("vendor", host.Vendor), slog.String("family", host.Family), slog.String("model", host.Model))
	} else {
		host.MicroArchitecture = uarch
	}
	return host, nil
}

// MicroArchitecture looks up the microarchitecture short name for the given
// vendor, family, model, and stepping. Model and stepping definitions are
// regular expressions; an empty stepping definition matches any stepping.
func MicroArchitecture(vendor, family, model, stepping string) (string, error) {
	for _, entry := range cpuIdentifiers {
		id := entry.Identifier
		if id.Vendor != vendor || id.Family != family {
			continue
		}
		reModel, err := regexp.Compile(id.Model)
		if err != nil {
			return "", err
		}
		if reModel.FindString(model) != model {
			continue
		}
		if id.Stepping != "" {
			reStepping, err := regexp.Compile(id.Stepping)
			if err != nil {
				return "", err
			}
			if reStepping.FindString(stepping) == "" {
				continue
			}
		}
		return entry.MicroArchitecture, nil
	}
	return "", fmt.Errorf("CPU match not found for vendor %s, family %s, model %s, stepping %s", vendor, family, model, stepping)
}

// cpuEntryRe matches per-CPU topology entries, e.g., "cpu0", "cpu12". Aggregate
// entries at the same level, e.g., "cpuidle" and "cpufreq", do not match.
var cpuEntryRe = regexp.MustCompile(`^cpu(\d+)$`)

// List returns the sorted logical CPU ids found under root, normally
// /sys/devices/system/cpu. Entries that do not match the cpu<digits> pattern
// are logged at debug level and skipped.
func List(root string) ([]int, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read cpu topology directory %s: %w", root, err)
	}
	var cpuIDs []int
	for _, entry := range entries {
		match := cpuEntryRe.FindStringSubmatch(entry.Name())
		if match == nil {
			slog.Debug("skipping non-cpu topology entry", slog.String("entry", entry.Name()))
			continue
		}
		id, err := strconv.Atoi(match[1])
		if err != nil {
			// unreachable given the pattern, but never silently drop an entry
			slog.Warn("failed to parse cpu topology entry", slog.String("entry", entry.Name()), slog.String("error", err.Error()))
			continue
		}
		cpuIDs = append(cpuIDs, id)
	}
	if len(cpuIDs) == 0 {
		return nil, fmt.Errorf("no cpu entries found in %s", root)
	}
	slices.Sort(cpuIDs)
	return cpuIDs, nil
}
