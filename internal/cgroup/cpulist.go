// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package cgroup

import (
	"fmt"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"

	"hosttune/internal/util"
)

// ValidateCpulist confirms every CPU named by the kernel-format list, e.g.,
// "1-3,5", is present in available.
func ValidateCpulist(cpulist string, available []int) error {
	requested, err := util.SelectiveIntRangeToIntList(cpulist)
	if err != nil {
		return fmt.Errorf("invalid cpu list %q: %w", cpulist, err)
	}
	missing := mapset.NewSet[int](requested...).Difference(mapset.NewSet[int](available...))
	if missing.Cardinality() > 0 {
		missingList := missing.ToSlice()
		slices.Sort(missingList)
		return fmt.Errorf("cpu list %q includes CPUs not present on this host: %v", cpulist, missingList)
	}
	return nil
}
