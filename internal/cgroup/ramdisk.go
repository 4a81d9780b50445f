// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package cgroup

import (
	"fmt"
	"log/slog"
	"regexp"

	"golang.org/x/sys/unix"

	"hosttune/internal/util"
)

// DefaultRamdiskDir is where the ramdisk mounts when the caller does not
// choose a directory.
const DefaultRamdiskDir = "/mnt/hosttune-ramdisk"

// ramdiskSizeRe matches tmpfs size arguments, bytes with an optional k, m,
// or g suffix, e.g., "512m".
var ramdiskSizeRe = regexp.MustCompile(`^\d+[kKmMgG]?$`)

// ValidRamdiskSize reports whether size is a tmpfs size argument.
func ValidRamdiskSize(size string) bool {
	return ramdiskSizeRe.MatchString(size)
}

// MountRamdisk mounts a tmpfs of the given size at dir, creating dir if
// needed.
func MountRamdisk(dir string, size string) error {
	if !ValidRamdiskSize(size) {
		return fmt.Errorf("invalid ramdisk size %q, expected bytes with an optional k, m, or g suffix", size)
	}
	if err := util.CreateDirectoryIfNotExists(dir, 0755); err != nil {
		return err
	}
	if err := unix.Mount("tmpfs", dir, "tmpfs", 0, "size="+size); err != nil {
		return fmt.Errorf("failed to mount tmpfs at %s: %w", dir, err)
	}
	slog.Debug("mounted ramdisk", slog.String("dir", dir), slog.String("size", size))
	return nil
}

// UnmountRamdisk unmounts the tmpfs at dir.
func UnmountRamdisk(dir string) error {
	if err := unix.Unmount(dir, 0); err != nil {
		return fmt.Errorf("failed to unmount ramdisk at %s: %w", dir, err)
	}
	slog.Debug("unmounted ramdisk", slog.String("dir", dir))
	return nil
}
