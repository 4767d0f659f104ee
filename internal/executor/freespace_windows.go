// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build windows

package executor

import "golang.org/x/sys/windows"

func freeSpace(dir string) (uint64, error) {
	var free, total, totalFree uint64
	p, err := windows.UTF16PtrFromString(dir)
	if err != nil {
		return 0, err
	}
	if err := windows.GetDiskFreeSpaceEx(p, &free, &total, &totalFree); err != nil {
		return 0, err
	}
	return free, nil
}
