//go:build linux

package supervisor

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	log "github.com/schollz/logger"
	"golang.org/x/sys/unix"
)

// Lease is the env-var marker a spawned child carries so the reaper can
// recognize and terminate stray descendants after an unclean parent exit
// (spec §4.3, "Lease reaper").
type Lease struct {
	Key   string
	Value string
}

// ReapLeaked scans /proc for processes whose environment contains
// lease.Key=lease.Value and that are not named in exclude, terminating
// each with the same two-phase kill used by Stop.
func ReapLeaked(lease Lease, exclude map[int]bool) (killed []int, err error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, err
	}

	needle := lease.Key + "=" + lease.Value

	for _, entry := range entries {
		pid, convErr := strconv.Atoi(entry.Name())
		if convErr != nil || !entry.IsDir() {
			continue
		}
		if exclude[pid] {
			continue
		}
		if !hasEnviron(pid, needle) {
			continue
		}
		if err := terminate(pid, true, func() { time.Sleep(2 * time.Second) }); err != nil {
			log.Warnf("lease reaper: failed to terminate pid %d: %v", pid, err)
			continue
		}
		killed = append(killed, pid)
	}
	return killed, nil
}

func hasEnviron(pid int, needle string) bool {
	fd, err := unix.Open(filepath.Join("/proc", strconv.Itoa(pid), "environ"), unix.O_RDONLY, 0)
	if err != nil {
		// Processes we can't open (permission, already gone) are skipped,
		// not treated as a fatal scan error.
		return false
	}
	defer unix.Close(fd)

	var buf []byte
	chunk := make([]byte, 4096)
	for {
		n, err := unix.Read(fd, chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil || n == 0 {
			break
		}
	}
	for _, kv := range strings.Split(string(buf), "\x00") {
		if kv == needle {
			return true
		}
	}
	return false
}
