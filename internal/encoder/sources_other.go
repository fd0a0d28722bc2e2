//go:build !linux && !windows

package encoder

import "context"

// ListSources on platforms without an enumeration backend offers the
// desktop-only fallback.
func ListSources(_ context.Context) ([]CaptureSource, error) {
	return fallbackSources(), nil
}
