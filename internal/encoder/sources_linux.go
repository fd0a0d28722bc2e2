//go:build linux

package encoder

import (
	"context"
	"os"
	"os/exec"
)

// ListSources enumerates capturable screens and windows via xrandr and
// wmctrl. A missing display is a capture-unavailable condition; missing
// helper tools degrade to the desktop-only fallback.
func ListSources(ctx context.Context) ([]CaptureSource, error) {
	if os.Getenv("DISPLAY") == "" {
		return nil, ErrNoSources
	}

	var sources []CaptureSource
	if out, err := exec.CommandContext(ctx, "xrandr", "--listmonitors").Output(); err == nil {
		sources = append(sources, parseMonitors(string(out))...)
	}
	if len(sources) == 0 {
		sources = fallbackSources()
	}

	if out, err := exec.CommandContext(ctx, "wmctrl", "-lG").Output(); err == nil {
		sources = append(sources, parseWindows(string(out))...)
	}
	return sources, nil
}
