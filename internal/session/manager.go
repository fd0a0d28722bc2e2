package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const joinTimeout = 10 * time.Second

// Options wires the Manager's collaborators. Zero-value fields fall back
// to working defaults; tests inject fakes.
type Options struct {
	TokenEndpoint  string
	SignalURL      string
	DiagnosticsURL string
	DiagInterval   time.Duration
	AudioMaxKbps   int

	Tokens     *TokenClient
	DialSignal SignalDialer
	OpenMic    MicrophoneOpener
	Sinks      AudioSinkFactory
	Video      VideoSurfaceFactory
	Processor  AudioProcessor
}

// Manager owns the WebRTC room connection: join/leave, the participant
// roster, per-track routing, quality sampling, and the optional noise
// suppression processor. Connect is not additive; an existing session is
// torn down first.
type Manager struct {
	opts   Options
	tokens *TokenClient
	logger zerolog.Logger

	mu          sync.RWMutex
	sess        *Session
	pc          *webrtc.PeerConnection
	sig         *signalConn
	mic         Microphone
	local       Participant
	roster      map[string]*Participant
	bindings    map[string]*trackBinding
	screenShare *trackBinding
	volumes     map[string]float64
	quality     ConnectionQuality
	cancelLoops context.CancelFunc

	suppressing bool
	procPending bool
}

func New(opts Options) *Manager {
	if opts.DialSignal == nil {
		opts.DialSignal = defaultSignalDialer
	}
	if opts.OpenMic == nil {
		opts.OpenMic = OpenStaticMicrophone
	}
	if opts.AudioMaxKbps <= 0 {
		opts.AudioMaxKbps = 64
	}
	tokens := opts.Tokens
	if tokens == nil {
		tokens = NewTokenClient(opts.TokenEndpoint)
	}
	return &Manager{
		opts:     opts,
		tokens:   tokens,
		logger:   log.With().Str("module", "session").Logger(),
		roster:   make(map[string]*Participant),
		bindings: make(map[string]*trackBinding),
		volumes:  make(map[string]float64),
		quality:  ConnectionQuality{Class: QualityUnknown},
	}
}

// Connect joins the room. On success the local microphone is enabled
// (best-effort) and the diagnostics loop starts.
func (m *Manager) Connect(ctx context.Context, roomName, displayName string) (*Session, error) {
	m.mu.RLock()
	active := m.sess != nil
	m.mu.RUnlock()
	if active {
		m.logger.Info().Str("room", roomName).Msg("connect while active, tearing down previous session")
		m.Disconnect()
	}

	grant, err := m.tokens.JoinToken(ctx, roomName, displayName)
	if err != nil {
		return nil, err
	}

	sig, err := m.dialSignal(ctx, grant.Token)
	if err != nil {
		return nil, err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	go m.writePump(loopCtx, sig)
	go m.readPump(loopCtx, sig)

	m.sendSignal(sig, map[string]string{"type": "join", "room": roomName, "name": displayName})

	var ack joinAck
	select {
	case ack = <-sig.joined:
	case <-ctx.Done():
		cancel()
		sig.close()
		return nil, &TransportError{Op: "join", Err: ctx.Err()}
	case <-time.After(joinTimeout):
		cancel()
		sig.close()
		return nil, &TransportError{Op: "join", Err: fmt.Errorf("no join_ok within %s", joinTimeout)}
	}

	pc, err := m.newPeerConnection(grant.ICEServers)
	if err != nil {
		cancel()
		sig.close()
		return nil, &TransportError{Op: "peer connection", Err: err}
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		go m.handleTrack(loopCtx, track, receiver)
	})
	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		ci := cand.ToJSON()
		payload := map[string]any{"type": "candidate", "candidate": ci.Candidate}
		if ci.SDPMid != nil {
			payload["sdpMid"] = *ci.SDPMid
		}
		if ci.SDPMLineIndex != nil {
			payload["sdpMLineIndex"] = *ci.SDPMLineIndex
		}
		m.sendSignal(sig, payload)
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		m.logger.Info().Str("peer_connection_state", s.String()).Msg("peer state")
		if s == webrtc.PeerConnectionStateFailed {
			m.Disconnect()
		}
	})

	// Microphone acquisition is best-effort: failure leaves the session
	// receive-only.
	var mic Microphone
	mic, err = m.opts.OpenMic(CaptureOptions{
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  false,
		MaxBitrateKbps:   m.opts.AudioMaxKbps,
	})
	if err != nil {
		m.logger.Error().Err(err).Msg("microphone unavailable, continuing without capture")
		mic = nil
	} else if _, err := pc.AddTrack(mic.Track()); err != nil {
		m.logger.Error().Err(err).Msg("mic publish failed, continuing without capture")
		_ = mic.Close()
		mic = nil
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		cancel()
		sig.close()
		_ = pc.Close()
		return nil, &TransportError{Op: "offer", Err: err}
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		cancel()
		sig.close()
		_ = pc.Close()
		return nil, &TransportError{Op: "offer", Err: err}
	}
	m.sendSignal(sig, map[string]string{"type": "offer", "sdp": offer.SDP})

	sess := &Session{
		Connected: true,
		RoomID:    roomName,
		StartedAt: time.Now(),
	}

	m.mu.Lock()
	m.sess = sess
	m.pc = pc
	m.sig = sig
	m.mic = mic
	m.cancelLoops = cancel
	m.local = Participant{
		Identity:    ack.Identity,
		DisplayName: displayName,
		IsLocal:     true,
		Volume:      1.0,
	}
	m.rebuildRosterLocked(ack.Participants)
	m.mu.Unlock()

	go m.diagnosticsLoop(loopCtx)

	m.logger.Info().Str("room", roomName).Str("identity", ack.Identity).Msg("session connected")
	out := *sess
	return &out, nil
}

// newPeerConnection builds the pion peer connection: opus with in-band FEC
// and a capped average bitrate on the capture path, H264 baseline for
// receiving screen-share video.
func (m *Manager) newPeerConnection(ice []webrtc.ICEServer) (*webrtc.PeerConnection, error) {
	me := &webrtc.MediaEngine{}
	opusFmtp := fmt.Sprintf("minptime=10;useinbandfec=1;maxaveragebitrate=%d", m.opts.AudioMaxKbps*1000)
	if err := me.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2, SDPFmtpLine: opusFmtp,
		},
		PayloadType: 111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, err
	}
	if err := me.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType: webrtc.MimeTypeH264, ClockRate: 90000,
			SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
		},
		PayloadType: 102,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, err
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(me))
	return api.NewPeerConnection(webrtc.Configuration{ICEServers: ice})
}

// Disconnect is idempotent. Sinks are detached before the peer connection
// closes so no renderer reference dangles; release failures are logged,
// never returned.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.sess == nil {
		m.mu.Unlock()
		return
	}
	cancel := m.cancelLoops
	sig := m.sig
	pc := m.pc
	mic := m.mic
	bindings := make([]*trackBinding, 0, len(m.bindings))
	for _, b := range m.bindings {
		bindings = append(bindings, b)
	}
	m.sess = nil
	m.sig = nil
	m.pc = nil
	m.mic = nil
	m.cancelLoops = nil
	m.roster = make(map[string]*Participant)
	m.bindings = make(map[string]*trackBinding)
	m.screenShare = nil
	m.quality = ConnectionQuality{Class: QualityUnknown}
	m.suppressing = false
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, b := range bindings {
		if err := b.detach(); err != nil {
			m.logger.Error().Err(err).Str("identity", b.identity).Msg("sink close error on disconnect")
		}
	}
	if sig != nil {
		m.sendSignal(sig, map[string]string{"type": "leave"})
		sig.close()
	}
	if mic != nil {
		if err := mic.Close(); err != nil {
			m.logger.Error().Err(err).Msg("mic close error on disconnect")
		}
	}
	if pc != nil {
		if err := pc.Close(); err != nil {
			m.logger.Error().Err(err).Msg("peer connection close error on disconnect")
		}
	}
	m.logger.Info().Msg("session disconnected")
}

// applyMicLocked derives the mic enabled flag: capture is live only while
// neither muted nor deafened. Caller holds m.mu.
func (m *Manager) applyMicLocked() {
	if m.mic == nil || m.sess == nil {
		return
	}
	m.mic.SetEnabled(!m.sess.LocalMuted && !m.sess.LocalDeafened)
}

// ToggleMute flips the local mute flag and republishes the roster. Returns
// the new muted state.
func (m *Manager) ToggleMute() bool {
	m.mu.Lock()
	if m.sess == nil {
		m.mu.Unlock()
		return false
	}
	m.sess.LocalMuted = !m.sess.LocalMuted
	muted := m.sess.LocalMuted
	m.local.IsMuted = muted
	if p, ok := m.roster[m.local.Identity]; ok {
		p.IsMuted = muted
	}
	m.applyMicLocked()
	sig := m.sig
	m.mu.Unlock()

	if sig != nil {
		m.sendSignal(sig, map[string]any{"type": "mute", "muted": muted})
	}
	return muted
}

// ToggleDeafen mutes or unmutes every remote audio sink locally. Deafening
// while unmuted also disables the microphone; undeafening restores capture
// from the mute flag alone, it never unmutes.
func (m *Manager) ToggleDeafen() bool {
	m.mu.Lock()
	if m.sess == nil {
		m.mu.Unlock()
		return false
	}
	m.sess.LocalDeafened = !m.sess.LocalDeafened
	deafened := m.sess.LocalDeafened
	var sinks []AudioSink
	for _, b := range m.bindings {
		if b.sink != nil {
			sinks = append(sinks, b.sink)
		}
	}
	m.applyMicLocked()
	m.mu.Unlock()

	for _, s := range sinks {
		s.SetMuted(deafened)
	}
	return deafened
}

// Snapshot is the poll surface for the presentation layer.
type Snapshot struct {
	Session          *Session          `json:"session"`
	Participants     []Participant     `json:"participants"`
	Quality          ConnectionQuality `json:"quality"`
	NoiseSuppression bool              `json:"noiseSuppression"`
}

func (m *Manager) Status() Snapshot {
	m.mu.RLock()
	var sess *Session
	if m.sess != nil {
		s := *m.sess
		sess = &s
	}
	quality := m.quality
	suppressing := m.suppressing
	m.mu.RUnlock()

	return Snapshot{
		Session:          sess,
		Participants:     m.Participants(),
		Quality:          quality,
		NoiseSuppression: suppressing,
	}
}
