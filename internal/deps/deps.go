// Package deps reports whether the external executables the pipeline shells
// out to are installed.
package deps

import (
	"fmt"
	"os/exec"
	"slices"
	"strings"

	"atlas/internal/config"
)

// Requirement defines an external executable Atlas relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// ForConfig lists the executables the configured pipeline will invoke.
// Transcription tooling is only required when the audio signal or discovery
// fallback can reach it; otherwise it is reported as optional.
func ForConfig(cfg *config.Config) []Requirement {
	reqs := []Requirement{
		{Name: "FFprobe", Command: cfg.FFprobeBinary(), Description: "Required for audio duration probing"},
		{Name: "FFmpeg", Command: cfg.FFmpegBinary(), Description: "Required for cutting advertisements"},
	}
	needsWhisper := slices.Contains(cfg.AdDetection.Signals, config.SignalAudio)
	reqs = append(reqs, Requirement{
		Name:        "uvx",
		Command:     "uvx",
		Description: "Runs WhisperX when no transcript can be discovered",
		Optional:    !needsWhisper,
	})
	return reqs
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		switch {
		case cmd == "":
			status.Detail = "command not configured"
		default:
			if resolved, err := exec.LookPath(cmd); err != nil {
				status.Detail = fmt.Sprintf("binary %q not found", cmd)
			} else {
				status.Available = true
				status.Command = resolved
			}
		}
		results = append(results, status)
	}
	return results
}

// MissingRequired filters statuses down to unavailable, non-optional entries.
func MissingRequired(statuses []Status) []Status {
	var missing []Status
	for _, s := range statuses {
		if !s.Available && !s.Optional {
			missing = append(missing, s)
		}
	}
	return missing
}
