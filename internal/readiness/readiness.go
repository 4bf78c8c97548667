// Package readiness implements the three bounded polling primitives shared
// by the supervisor (post-spawn warmup), the reconciler (tunnel URL wait),
// and the proxy controller (admin API wait): HTTP, TCP, and log-regex
// readiness.
package readiness

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"regexp"
	"time"

	log "github.com/schollz/logger"
)

// Budget is the shared polling contract: total deadline and inter-poll
// sleep. Every external-wait primitive in the tree carries one of these
// explicitly (spec §5, "Cancellation and timeouts").
type Budget struct {
	Timeout      time.Duration
	PollInterval time.Duration
}

// DefaultBudget mirrors the teacher's retry intervals (5s) scaled down for
// a tighter inner poll loop.
func DefaultBudget() Budget {
	return Budget{Timeout: 30 * time.Second, PollInterval: 500 * time.Millisecond}
}

// CIMultiplied scales a budget's timeout when running under CI, where
// daemons routinely start slower (spec §4.5, "CI-multiplied").
func (b Budget) CIMultiplied() Budget {
	if os.Getenv("CI") == "" {
		return b
	}
	b.Timeout *= 3
	return b
}

// Spec is a tagged-variant readiness check: exactly one of HTTP, TCP, or
// LogRegex is non-nil.
type Spec struct {
	HTTP     *HTTPCheck
	TCP      *TCPCheck
	LogRegex *LogRegexCheck
}

type HTTPCheck struct {
	URL string
}

type TCPCheck struct {
	HostPort string
}

type LogRegexCheck struct {
	LogFile string
	Pattern *regexp.Regexp
	// OnMatch receives the full regex submatch slice on the first match
	// found in content written after polling started. Used by the tunnel
	// manager to capture the assigned public URL.
	OnMatch func(match []string)
}

// Wait polls spec until it is ready or ctx/budget expires. It returns nil
// on success, or ctx.Err()/a descriptive timeout error otherwise.
func Wait(ctx context.Context, budget Budget, spec Spec) error {
	ctx, cancel := context.WithTimeout(ctx, budget.Timeout)
	defer cancel()

	var state pollState
	if spec.LogRegex != nil {
		off, err := currentLength(spec.LogRegex.LogFile)
		if err != nil {
			log.Debugf("readiness: could not stat log file yet: %v", err)
		}
		state.logOffset = off
	}

	ticker := time.NewTicker(budget.PollInterval)
	defer ticker.Stop()

	for {
		ready, err := pollOnce(spec, &state)
		if ready {
			return nil
		}
		if err != nil {
			log.Debugf("readiness: poll error: %v", err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("readiness timed out after %s: %w", budget.Timeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

type pollState struct {
	logOffset int64
}

func pollOnce(spec Spec, state *pollState) (bool, error) {
	switch {
	case spec.HTTP != nil:
		return pollHTTP(spec.HTTP)
	case spec.TCP != nil:
		return pollTCP(spec.TCP)
	case spec.LogRegex != nil:
		return pollLogRegex(spec.LogRegex, state)
	default:
		return false, fmt.Errorf("readiness: empty spec")
	}
}

// pollHTTP treats any status in [200, 500) as ready: admin endpoints often
// return 401/404 while perfectly healthy (spec §4.2).
func pollHTTP(c *HTTPCheck) (bool, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(c.URL)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode >= 200 && resp.StatusCode < 500, nil
}

func pollTCP(c *TCPCheck) (bool, error) {
	conn, err := net.DialTimeout("tcp", c.HostPort, 3*time.Second)
	if err != nil {
		return false, err
	}
	defer conn.Close()
	return true, nil
}

func pollLogRegex(c *LogRegexCheck, state *pollState) (bool, error) {
	f, err := os.Open(c.LogFile)
	if err != nil {
		return false, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return false, err
	}
	if info.Size() <= state.logOffset {
		return false, nil
	}

	if _, err := f.Seek(state.logOffset, io.SeekStart); err != nil {
		return false, err
	}
	newContent, err := io.ReadAll(f)
	if err != nil {
		return false, err
	}
	state.logOffset += int64(len(newContent))

	match := c.Pattern.FindStringSubmatch(string(newContent))
	if match == nil {
		return false, nil
	}
	if c.OnMatch != nil {
		c.OnMatch(match)
	}
	return true, nil
}

func currentLength(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
