/*
Package util includes utility/helper functions that may be useful to other modules.
*/
package util

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// ExpandUser expands '~' to user's home directory, if found, otherwise returns original path
func ExpandUser(path string) string {
	usr, _ := user.Current()
	if path == "~" {
		return usr.HomeDir
	} else if strings.HasPrefix(path, "~"+string(os.PathSeparator)) {
		return filepath.Join(usr.HomeDir, path[2:])
	} else {
		return path
	}
}

// AbsPath returns absolute path after expanding '~' to user's home dir
// Useful when application is started by a process that isn't a shell, e.g. a CI agent
// Use everywhere in place of filepath.Abs()
func AbsPath(path string) (string, error) {
	return filepath.Abs(ExpandUser(path))
}

// FileExists checks if a file exists at the given path.
// It returns a boolean indicating whether the file exists, and an error if the
// path refers to a non-regular file, e.g., a directory.
func FileExists(path string) (exists bool, err error) {
	var fileInfo fs.FileInfo
	fileInfo, err = os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			exists = false
			err = nil
			return
		}
		return
	}
	if !fileInfo.Mode().IsRegular() {
		err = fmt.Errorf("%s not a file", path)
		return
	}
	exists = true
	return
}

// DirectoryExists checks if the specified directory exists.
// It returns a boolean indicating whether the directory exists and an error if the
// path refers to anything other than a directory, e.g., a regular file.
func DirectoryExists(path string) (exists bool, err error) {
	var fileInfo fs.FileInfo
	fileInfo, err = os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			exists = false
			err = nil
			return
		}
		return
	}
	if !fileInfo.Mode().IsDir() {
		err = fmt.Errorf("%s not a directory", path)
		return
	}
	exists = true
	return
}

// FileOrDirectoryExists checks if a file or directory exists at the given file path.
// It returns true if the file or directory exists, and false otherwise.
func FileOrDirectoryExists(filePath string) bool {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return false
	}
	return true
}

// CreateDirectoryIfNotExists creates a directory at the specified path if it does not already exist.
// If the directory already exists, it does nothing and returns nil.
// If there is an error while creating the directory, it returns an error with a descriptive message.
func CreateDirectoryIfNotExists(dir string, perm os.FileMode) error {
	if FileOrDirectoryExists(dir) {
		return nil
	}
	if err := os.MkdirAll(dir, perm); err != nil {
		return fmt.Errorf("failed to create directory: '%s', error: '%s'", dir, err.Error())
	}
	return nil
}

// UniqueAppend appends an item to a slice if it is not already present
func UniqueAppend[T comparable](slice []T, item T) []T {
	if slices.Contains(slice, item) {
		return slice
	}
	return append(slice, item)
}

// IsValidHex checks if a string is a valid hex string
// Valid hex strings are non-empty, optionally prefixed with "0x" or "0X",
// and contain only valid hex characters (0-9, a-f, A-F).
func IsValidHex(hexStr string) bool {
	// Check if the string starts with "0x" or "0X"
	if strings.HasPrefix(hexStr, "0x") || strings.HasPrefix(hexStr, "0X") {
		hexStr = hexStr[2:]
	}
	// Check if the string can be parsed as a hex number
	_, err := strconv.ParseUint(hexStr, 16, 64)
	return err == nil
}

// IsUint64BitSet reports whether the given bit (0-63) is set in x.
// An error is returned if the bit index is out of range.
func IsUint64BitSet(x uint64, bit int) (bool, error) {
	if bit < 0 || bit > 63 {
		return false, fmt.Errorf("bit index out of range: %d", bit)
	}
	return x&(uint64(1)<<uint(bit)) != 0, nil
}

// IntRangeToIntList expands a string representing a range of integers into a slice of integers.
// The function returns a slice of integers representing the expanded range.
// For example, "1-3" will be expanded to [1, 2, 3]. And, "5" will be expanded to [5].
// If the input string is not in a valid format, it returns an error.
func IntRangeToIntList(input string) ([]int, error) {
	// check input format matches "start-end", or "start"
	re := regexp.MustCompile(`^(\d+)(?:-(\d+))?$`)
	matches := re.FindStringSubmatch(input)
	if len(matches) == 0 {
		err := fmt.Errorf("invalid input format: %s", input)
		return nil, err
	}
	start, err := strconv.Atoi(matches[1])
	if err != nil {
		return nil, fmt.Errorf("invalid start value: %s", matches[1])
	}
	// if end value is empty, return a slice with the start value
	if matches[2] == "" {
		return []int{start}, nil
	}
	// if end value is provided, parse it
	end, err := strconv.Atoi(matches[2])
	if err != nil {
		return nil, fmt.Errorf("invalid end value: %s", matches[2])
	}
	if start > end {
		return nil, fmt.Errorf("start value is greater than end value: %d > %d", start, end)
	}
	// create a slice of integers from start to end
	result := make([]int, end-start+1)
	for i := start; i <= end; i++ {
		result[i-start] = i
	}
	return result, nil
}

// SelectiveIntRangeToIntList expands a string representing a selective range of integers into a slice of integers.
// For example "1-3,7,9,11-13" will be expanded to [1, 2, 3, 7, 9, 11, 12, 13].
// An error is returned if the input string is not in a valid format.
func SelectiveIntRangeToIntList(input string) ([]int, error) {
	var result []int
	for _, r := range strings.Split(input, ",") {
		ints, err := IntRangeToIntList(r)
		if err != nil {
			return nil, err
		}
		result = append(result, ints...)
	}
	return result, nil
}

// IntSliceToStringSlice converts a slice of integers to a slice of strings.
func IntSliceToStringSlice(ints []int) []string {
	strs := make([]string, len(ints))
	for i, v := range ints {
		strs[i] = strconv.Itoa(v)
	}
	return strs
}
