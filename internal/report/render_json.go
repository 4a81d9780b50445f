// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package report

import "encoding/json"

func createJsonReport(allTableValues []TableValues) (out []byte, err error) {
	report := make(map[string][]map[string]string)
	for _, tableValues := range allTableValues {
		var records []map[string]string
		if len(tableValues.Fields) > 0 {
			for recordIdx := 0; recordIdx < len(tableValues.Fields[0].Values); recordIdx++ {
				record := make(map[string]string)
				for _, field := range tableValues.Fields {
					record[field.Name] = field.Values[recordIdx]
				}
				records = append(records, record)
			}
		}
		report[tableValues.Name] = records
	}
	return json.MarshalIndent(report, "", " ")
}
