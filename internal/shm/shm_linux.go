//go:build linux

package shm

import (
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
)

// canCreateOnDevShm reports whether size bytes fit in the tmpfs behind path.
// Paths outside /dev/shm are not checked.
func canCreateOnDevShm(size uint64, path string) bool {
	if !strings.Contains(path, devShm) {
		return true
	}
	stat, err := disk.Usage(devShm)
	if err != nil {
		return false
	}
	return stat.Free >= size
}
