package session

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// screenStreamSuffix marks a screen-share publication. The SFU publishes
// screen tracks under "<identity>#screen".
const screenStreamSuffix = "#screen"

// trackBinding associates one remote track with its rendering sink. Its
// lifetime is bounded by subscribe/unsubscribe; it never outlives the
// owning participant's membership.
type trackBinding struct {
	trackID     string
	identity    string
	kind        webrtc.RTPCodecType
	screenShare bool

	sink    AudioSink
	surface VideoSurface
	cancel  context.CancelFunc
}

// detach closes the rendering side of the binding. Close failures are
// logged by the caller, never propagated: teardown must always complete.
func (b *trackBinding) detach() error {
	if b.cancel != nil {
		b.cancel()
	}
	if b.sink != nil {
		return b.sink.Close()
	}
	if b.surface != nil {
		return b.surface.Close()
	}
	return nil
}

// splitStreamID extracts the publishing identity and the screen-share
// marker from a remote track's stream id.
func splitStreamID(streamID string) (identity string, screenShare bool) {
	if id, ok := strings.CutSuffix(streamID, screenStreamSuffix); ok {
		return id, true
	}
	return streamID, false
}

// handleTrack runs on pion's OnTrack callback. It builds the binding,
// registers it, and pumps RTP until the track ends.
func (m *Manager) handleTrack(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	identity, screenShare := splitStreamID(track.StreamID())
	logger := m.logger.With().
		Str("track_id", track.ID()).
		Str("identity", identity).
		Str("kind", track.Kind().String()).
		Bool("screen", screenShare).
		Logger()
	logger.Info().Msg("track subscribed")

	trackCtx, cancel := context.WithCancel(ctx)
	binding := &trackBinding{
		trackID:     track.ID(),
		identity:    identity,
		kind:        track.Kind(),
		screenShare: screenShare,
		cancel:      cancel,
	}

	switch track.Kind() {
	case webrtc.RTPCodecTypeAudio:
		binding.sink = m.newAudioSink(identity, screenShare)
		m.registerAudioBinding(binding)
	case webrtc.RTPCodecTypeVideo:
		if !screenShare {
			// Camera video is out of scope for this client; drain and drop.
			binding.surface = discardSurface{}
		} else {
			binding.surface = m.newVideoSurface(identity)
			m.registerScreenShare(binding)
			m.requestKeyframe(track.SSRC())
		}
	}

	m.pumpTrack(trackCtx, track, binding, logger)
}

// pumpTrack forwards RTP packets from the remote track into the binding's
// sink until the track ends or the binding is cancelled.
func (m *Manager) pumpTrack(ctx context.Context, track *webrtc.TrackRemote, b *trackBinding, logger zerolog.Logger) {
	defer m.unbindTrack(b, logger)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				logger.Error().Err(err).Msg("track read error, unsubscribing")
			}
			return
		}
		if b.sink != nil {
			if err := b.sink.WriteRTP(pkt); err != nil {
				logger.Error().Err(err).Msg("sink write error, unsubscribing")
				return
			}
		} else if b.surface != nil {
			if err := b.surface.WriteRTP(pkt); err != nil {
				logger.Error().Err(err).Msg("surface write error, unsubscribing")
				return
			}
		}
	}
}

// requestKeyframe sends a PLI for the given SSRC so a freshly subscribed
// screen-share surface gets a decodable frame promptly.
func (m *Manager) requestKeyframe(ssrc webrtc.SSRC) {
	m.mu.RLock()
	pc := m.pc
	m.mu.RUnlock()
	if pc == nil {
		return
	}
	err := pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(ssrc)}})
	if err != nil {
		m.logger.Error().Err(err).Msg("keyframe request failed")
	}
}

func (m *Manager) newAudioSink(identity string, screenShare bool) AudioSink {
	if m.opts.Sinks != nil {
		return m.opts.Sinks(identity, screenShare)
	}
	return newDiscardSink()
}

func (m *Manager) newVideoSurface(identity string) VideoSurface {
	if m.opts.Video != nil {
		return m.opts.Video(identity)
	}
	return discardSurface{}
}

// registerAudioBinding indexes the binding and applies current deafen and
// volume state to the new sink.
func (m *Manager) registerAudioBinding(b *trackBinding) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bindings[b.trackID] = b
	if m.sess != nil && m.sess.LocalDeafened {
		b.sink.SetMuted(true)
	}
	if v, ok := m.volumes[b.identity]; ok {
		b.sink.SetGain(v)
	}
}

// registerScreenShare installs the binding into the single active
// screen-share slot. Policy for concurrent remote shares: last subscribed
// wins; the previous binding is dropped.
func (m *Manager) registerScreenShare(b *trackBinding) {
	m.mu.Lock()
	prev := m.screenShare
	m.screenShare = b
	m.bindings[b.trackID] = b
	if p, ok := m.roster[b.identity]; ok {
		p.IsScreenSharing = true
	}
	m.mu.Unlock()

	if prev != nil && prev.trackID != b.trackID {
		m.logger.Info().
			Str("replaced", prev.identity).
			Str("by", b.identity).
			Msg("second screen share subscribed, dropping previous")
		m.dropBinding(prev)
	}
}

// unbindTrack is the unsubscribe path: detach the sink, clear indexes.
// Safe against duplicate invocation.
func (m *Manager) unbindTrack(b *trackBinding, logger zerolog.Logger) {
	m.mu.Lock()
	if _, ok := m.bindings[b.trackID]; !ok {
		m.mu.Unlock()
		return
	}
	delete(m.bindings, b.trackID)
	if m.screenShare != nil && m.screenShare.trackID == b.trackID {
		m.screenShare = nil
		if p, ok := m.roster[b.identity]; ok {
			p.IsScreenSharing = false
		}
	}
	m.mu.Unlock()

	if err := b.detach(); err != nil {
		logger.Error().Err(err).Msg("sink close error during unsubscribe")
	}
	logger.Info().Msg("track unsubscribed")
}

func (m *Manager) dropBinding(b *trackBinding) {
	m.unbindTrack(b, m.logger)
}
