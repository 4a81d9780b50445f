// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package report

import (
	"fmt"
	"strings"
)

// report formats
const (
	FormatTxt  = "txt"
	FormatJson = "json"
	FormatXlsx = "xlsx"
	FormatProm = "prom"
	FormatAll  = "all"
)

// NoDataFound is the default message for tables without values.
const NoDataFound = "No data found."

// FormatOptions lists the formats accepted by the report command.
var FormatOptions = []string{FormatTxt, FormatJson, FormatXlsx, FormatProm}

// Create generates a report in the specified format from the table values.
// The prom format is built from the typed source values rather than the
// rendered tables so that counts keep their numeric form. If the format is
// not supported, the function panics.
func Create(format string, allTableValues []TableValues, source Source) (out []byte, err error) {
	// make sure that all fields have the same number of values
	for _, tableValues := range allTableValues {
		numRows := -1
		for _, field := range tableValues.Fields {
			if numRows == -1 {
				numRows = len(field.Values)
				continue
			}
			if len(field.Values) != numRows {
				return nil, fmt.Errorf("expected %d value(s) for field %s, found %d", numRows, field.Name, len(field.Values))
			}
		}
	}
	switch format {
	case FormatTxt:
		return createTextReport(allTableValues)
	case FormatJson:
		return createJsonReport(allTableValues)
	case FormatXlsx:
		return createXlsxReport(allTableValues)
	case FormatProm:
		return createPromReport(source)
	}
	panic(fmt.Sprintf("expected one of %s, got %s", strings.Join(FormatOptions, ", "), format))
}
