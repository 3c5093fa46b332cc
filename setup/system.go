package setup

import (
	"fmt"
	"runtime"
	"syscall"
)

// RequiredDiskSpace is the free space needed for the model plus working
// files (~6.5GB artifact with headroom).
const RequiredDiskSpace = 15_000_000_000

// SystemRequirements is the result of a host capability check.
type SystemRequirements struct {
	Platform       string `json:"platform"`
	Architecture   string `json:"architecture"`
	CPUs           int    `json:"cpus"`
	DiskFreeBytes  uint64 `json:"disk_free_bytes"`
	DiskSufficient bool   `json:"disk_sufficient"`
}

// CheckSystem inspects the host, measuring free disk space at dir.
func CheckSystem(dir string) (SystemRequirements, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(dir, &stat); err != nil {
		return SystemRequirements{}, fmt.Errorf("checking disk space at %s: %w", dir, err)
	}
	free := stat.Bavail * uint64(stat.Bsize)

	return SystemRequirements{
		Platform:       runtime.GOOS,
		Architecture:   runtime.GOARCH,
		CPUs:           runtime.NumCPU(),
		DiskFreeBytes:  free,
		DiskSufficient: free >= RequiredDiskSpace,
	}, nil
}
