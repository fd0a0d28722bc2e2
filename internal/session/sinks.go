package session

import (
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// AudioSink is a rendering target for one remote audio track (an output
// element in the presentation layer). Mute and gain are local playback
// controls; they never affect what the remote sends.
type AudioSink interface {
	WriteRTP(pkt *rtp.Packet) error
	SetMuted(muted bool)
	SetGain(gain float64)
	Close() error
}

// VideoSurface is a rendering target for one remote video track.
type VideoSurface interface {
	WriteRTP(pkt *rtp.Packet) error
	Close() error
}

// AudioSinkFactory creates a sink for a participant's audio. screenShare
// distinguishes screen-share companion audio from microphone audio so the
// presentation layer can show/hide it together with the share surface.
type AudioSinkFactory func(identity string, screenShare bool) AudioSink

// VideoSurfaceFactory creates a surface for a remote video track.
type VideoSurfaceFactory func(identity string) VideoSurface

// CaptureOptions carries the audio constraints applied to the local
// microphone on acquisition.
type CaptureOptions struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
	MaxBitrateKbps   int
}

// Microphone is the local capture source published into the room.
type Microphone interface {
	Track() webrtc.TrackLocal
	SetEnabled(enabled bool)
	Enabled() bool
	Close() error
}

// MicrophoneOpener acquires a microphone. Acquisition failure is not fatal
// to Connect; the session continues receive-only.
type MicrophoneOpener func(opts CaptureOptions) (Microphone, error)

// staticMicrophone publishes a static RTP opus track. Platform capture
// feeds it externally; the enabled flag gates publishing.
type staticMicrophone struct {
	track   *webrtc.TrackLocalStaticRTP
	enabled atomic.Bool
}

func OpenStaticMicrophone(opts CaptureOptions) (Microphone, error) {
	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "microphone",
	)
	if err != nil {
		return nil, err
	}
	m := &staticMicrophone{track: track}
	m.enabled.Store(true)
	return m, nil
}

func (m *staticMicrophone) Track() webrtc.TrackLocal { return m.track }
func (m *staticMicrophone) SetEnabled(enabled bool)  { m.enabled.Store(enabled) }
func (m *staticMicrophone) Enabled() bool            { return m.enabled.Load() }
func (m *staticMicrophone) Close() error             { return nil }

// discardSink drops packets. Used when no presentation layer registered a
// sink factory; keeps track pumps running so unsubscribe events still fire.
type discardSink struct {
	mu    sync.Mutex
	muted bool
	gain  float64
}

func newDiscardSink() *discardSink { return &discardSink{gain: 1.0} }

func (s *discardSink) WriteRTP(*rtp.Packet) error { return nil }

func (s *discardSink) SetMuted(muted bool) {
	s.mu.Lock()
	s.muted = muted
	s.mu.Unlock()
}

func (s *discardSink) SetGain(gain float64) {
	s.mu.Lock()
	s.gain = gain
	s.mu.Unlock()
}

func (s *discardSink) Close() error { return nil }

type discardSurface struct{}

func (discardSurface) WriteRTP(*rtp.Packet) error { return nil }
func (discardSurface) Close() error               { return nil }
