// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

// Package report renders the host tuning state, identity, idle states, and
// the power-control register, as tables in txt, json, xlsx, and Prometheus
// textfile formats.
package report

import (
	"fmt"
	"log/slog"
)

// Field represents the values for a field in a table.
type Field struct {
	Name   string
	Values []string
}

// TableValues combines the table definition with the resulting fields and
// their values.
type TableValues struct {
	TableDefinition
	Fields []Field
}

// FieldsRetriever builds a table's fields from the collected source data.
type FieldsRetriever func(Source) []Field

// TableDefinition defines the structure of a table in the report.
type TableDefinition struct {
	Name        string
	HasRows     bool   // table is meant to be displayed in row form, i.e., a field may have multiple values
	NoDataFound string // message to display when no data is found
	// FieldsFunc is called to retrieve field values from the source data
	FieldsFunc FieldsRetriever
}

// GetTableByName retrieves a table definition by its name.
func GetTableByName(name string) TableDefinition {
	if table, ok := tableDefinitions[name]; ok {
		return table
	}
	panic(fmt.Sprintf("table not found: %s", name))
}

// ProcessTables collects values for each field in the named tables and
// returns a slice of TableValues.
func ProcessTables(tableNames []string, source Source) (allTableValues []TableValues) {
	for _, tableName := range tableNames {
		allTableValues = append(allTableValues, GetValuesForTable(tableName, source))
	}
	return
}

// GetValuesForTable returns the fields and their values for the table with
// the given name.
func GetValuesForTable(tableName string, source Source) TableValues {
	table := GetTableByName(tableName)
	// FieldsFunc can't be nil
	if table.FieldsFunc == nil {
		panic(fmt.Sprintf("table %s, FieldsFunc cannot be nil", table.Name))
	}
	tableValues := TableValues{
		TableDefinition: table,
		Fields:          table.FieldsFunc(source),
	}
	// sanity check
	if err := validateTableValues(tableValues); err != nil {
		slog.Error("table validation failed", slog.String("table", table.Name), slog.String("error", err.Error()))
		return TableValues{
			TableDefinition: table,
			Fields:          []Field{},
		}
	}
	return tableValues
}

func validateTableValues(tableValues TableValues) error {
	if tableValues.Name == "" {
		return fmt.Errorf("table name cannot be empty")
	}
	// no field values is a valid state
	if len(tableValues.Fields) == 0 {
		return nil
	}
	// field names cannot be empty
	for i, field := range tableValues.Fields {
		if field.Name == "" {
			return fmt.Errorf("table %s, field %d, name cannot be empty", tableValues.Name, i)
		}
	}
	// the number of entries in each field must be the same
	numEntries := len(tableValues.Fields[0].Values)
	for i, field := range tableValues.Fields {
		if len(field.Values) != numEntries {
			return fmt.Errorf("table %s, field %d, %s, number of entries must be the same for all fields, expected %d, got %d", tableValues.Name, i, field.Name, numEntries, len(field.Values))
		}
	}
	return nil
}
