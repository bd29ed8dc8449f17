// Package deps checks for the external binaries the pipeline shells out to:
// ffmpeg and ffprobe for conversion, uvx for local WhisperX transcription.
package deps

import (
	"fmt"
	"os/exec"
	"strings"
)

// Requirement names an external binary.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status is the outcome of checking one Requirement.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// CheckBinaries resolves every requirement on PATH.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, len(requirements))
	for i, req := range requirements {
		status := Status{
			Name:        req.Name,
			Command:     strings.TrimSpace(req.Command),
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		status.Detail = lookup(status.Command)
		status.Available = status.Detail == ""
		results[i] = status
	}
	return results
}

// lookup returns an empty string when command resolves, otherwise why not.
func lookup(command string) string {
	if command == "" {
		return "command not configured"
	}
	if _, err := exec.LookPath(command); err != nil {
		return fmt.Sprintf("binary %q not found", command)
	}
	return ""
}
