package tunnelmgr

import (
	"regexp"

	"github.com/kfsoftware/asd/internal/readiness"
)

// AssignedURLPattern is spec.md:171's literal wire-protocol requirement:
// "the parser captures it with a regex of the form
// https?://[^\s]+\.[^\s]+". The tunnel server writes a human-readable
// line on session start somewhere in its output containing the assigned
// public URL — the teacher's own client prints such a line
// ("Connection established, waiting for connections.." in
// cmd/client/client.go) without committing to any fixed wording around
// the URL, so the pattern makes no assumption about surrounding text
// beyond "a URL-shaped substring with a dot in the host" appearing
// somewhere on the line.
var AssignedURLPattern = regexp.MustCompile(`(https?://[^\s]+\.[^\s]+)`)

// readinessSpecFor builds a log-regex readiness spec that writes the
// first captured URL into capturedURL.
func readinessSpecFor(logFile string, capturedURL *string) readiness.Spec {
	return readiness.Spec{LogRegex: &readiness.LogRegexCheck{
		LogFile: logFile,
		Pattern: AssignedURLPattern,
		OnMatch: func(match []string) {
			if len(match) > 1 && *capturedURL == "" {
				*capturedURL = match[1]
			}
		},
	}}
}
