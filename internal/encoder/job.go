// Package encoder drives an external ffmpeg process that captures a screen
// or window and pushes it to a WHIP ingest endpoint.
package encoder

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyStreaming = errors.New("a stream is already active")
	ErrNoSources        = errors.New("no capture sources available")
)

// SpawnError reports a failed encoder launch, distinguishing a missing
// binary from a launch failure.
type SpawnError struct {
	Bin      string
	NotFound bool
	Err      error
}

func (e *SpawnError) Error() string {
	if e.NotFound {
		return fmt.Sprintf("encoder binary %q not found", e.Bin)
	}
	return fmt.Sprintf("failed to launch %q: %v", e.Bin, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Kind selects the codec argument block. Unknown kinds fall back to the
// software x264 path, which is always available.
type Kind string

const (
	KindNVENC Kind = "nvenc"
	KindQSV   Kind = "qsv"
	KindAMF   Kind = "amf"
	KindMF    Kind = "mf"
	KindX264  Kind = "x264"
)

// Backend selects the sidecar that runs the job. The ffmpeg path owns its
// codec selection through Kind; the gstreamer path delegates encoding to
// whipclientsink, which picks a hardware encoder itself, and is the one
// that supports TURN relays.
type Backend string

const (
	BackendFFmpeg    Backend = "ffmpeg"
	BackendGStreamer Backend = "gstreamer"
)

// Job describes one encode-and-publish run. At most one Job is active at a
// time.
type Job struct {
	SourceID     string  `json:"sourceId"`
	IngestURL    string  `json:"ingestUrl"`
	Width        int     `json:"width"`
	Height       int     `json:"height"`
	FPS          int     `json:"fps"`
	BitrateKbps  int     `json:"bitrateKbps"`
	Encoder      Kind    `json:"encoderKind"`
	Preset       string  `json:"presetId"`
	AudioEnabled bool    `json:"audioEnabled"`
	AuthToken    string  `json:"authToken,omitempty"`
	Backend      Backend `json:"backend,omitempty"`
	TURNServer   string  `json:"turnServer,omitempty"`
}

// Status is computed from the guarded job slot; duration is wall-clock
// since start.
type Status struct {
	Active          bool   `json:"active"`
	SourceID        string `json:"sourceId,omitempty"`
	IngestURL       string `json:"ingestUrl,omitempty"`
	DurationSeconds int64  `json:"durationSeconds"`
	LastError       string `json:"lastError,omitempty"`
}
