package reconciler

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"time"

	"github.com/kfsoftware/asd/internal/registry"
)

// DiscoverDocker probes running Docker containers via `docker ps`, the
// way the expander's isDockerAvailable() probes the daemon socket before
// ever shelling out. A missing or unreachable docker binary yields an
// empty result, not an error — discovery is best-effort (spec §4.9 step 3).
func DiscoverDocker(ctx context.Context) ([]registry.Entry, error) {
	cmd := exec.CommandContext(ctx, "docker", "ps", "--format", "{{json .}}")
	out, err := cmd.Output()
	if err != nil {
		return nil, nil
	}

	now := time.Now()
	var entries []registry.Entry
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var c dockerPSLine
		if err := json.Unmarshal([]byte(line), &c); err != nil {
			continue
		}
		dial := firstPublishedPort(c.Ports)
		if dial == "" {
			continue
		}
		entries = append(entries, registry.Entry{
			ID:         "docker:" + c.Names,
			Dial:       dial,
			Source:     "docker",
			DetectedAt: &now,
			Labels:     map[string]string{"image": c.Image, "containerId": c.ID},
		})
	}
	return entries, nil
}

type dockerPSLine struct {
	ID    string `json:"ID"`
	Names string `json:"Names"`
	Image string `json:"Image"`
	Ports string `json:"Ports"`
}

// firstPublishedPort extracts the first host-side "host:port" mapping
// from docker ps's "Ports" column, e.g.
// "0.0.0.0:5432->5432/tcp, :::5432->5432/tcp" -> "localhost:5432".
func firstPublishedPort(ports string) string {
	for _, mapping := range strings.Split(ports, ",") {
		mapping = strings.TrimSpace(mapping)
		idx := strings.Index(mapping, "->")
		if idx <= 0 {
			continue
		}
		hostSide := mapping[:idx]
		colon := strings.LastIndex(hostSide, ":")
		if colon < 0 {
			continue
		}
		port := hostSide[colon+1:]
		if port == "" {
			continue
		}
		return fmt.Sprintf("localhost:%s", port)
	}
	return ""
}

// DefaultPortCandidates is the fixed candidate set `net discover` scans
// when the caller does not name its own: the common dev-server ports
// (Rails/Express/Next/Vite/Postgres/Redis/Mongo and a handful of
// frontend dev-server defaults).
var DefaultPortCandidates = []int{3000, 3001, 4000, 5000, 5173, 5432, 5678, 6379, 8000, 8080, 8081, 8888, 9000, 27017}

// DiscoverListeningPorts probes a fixed candidate set of loopback ports
// for an open listener, the inverse of the expander's stillBindable probe
// (spec §4.9 step 3, "listening ports on the loopback interface").
func DiscoverListeningPorts(candidates []int) []registry.Entry {
	now := time.Now()
	var entries []registry.Entry
	for _, port := range candidates {
		addr := fmt.Sprintf("127.0.0.1:%d", port)
		conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err != nil {
			continue
		}
		conn.Close()
		entries = append(entries, registry.Entry{
			ID:         fmt.Sprintf("port-scan:%d", port),
			Dial:       fmt.Sprintf("localhost:%d", port),
			Source:     "port-scan",
			DetectedAt: &now,
		})
	}
	return entries
}
