package worker

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// DiskUsage reports the free and total bytes of the filesystem holding path.
// Free space is what an unprivileged writer can actually use, not the raw
// block count.
func DiskUsage(path string) (free, total int64, err error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	bsize := int64(st.Bsize)
	return int64(st.Bavail) * bsize, int64(st.Blocks) * bsize, nil
}
