package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

type fakeMic struct {
	mu      sync.Mutex
	enabled bool
	closed  bool
}

func (m *fakeMic) Track() webrtc.TrackLocal { return nil }

func (m *fakeMic) SetEnabled(enabled bool) {
	m.mu.Lock()
	m.enabled = enabled
	m.mu.Unlock()
}

func (m *fakeMic) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

func (m *fakeMic) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

type fakeSink struct {
	mu     sync.Mutex
	muted  bool
	gain   float64
	closed bool
}

func newFakeSink() *fakeSink { return &fakeSink{gain: 1.0} }

func (s *fakeSink) WriteRTP(*rtp.Packet) error { return nil }

func (s *fakeSink) SetMuted(muted bool) {
	s.mu.Lock()
	s.muted = muted
	s.mu.Unlock()
}

func (s *fakeSink) SetGain(gain float64) {
	s.mu.Lock()
	s.gain = gain
	s.mu.Unlock()
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSink) snapshot() (muted bool, gain float64, closed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted, s.gain, s.closed
}

type fakeSurface struct {
	mu     sync.Mutex
	closed bool
}

func (s *fakeSurface) WriteRTP(*rtp.Packet) error { return nil }

func (s *fakeSurface) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSurface) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeProcessor struct {
	mu          sync.Mutex
	attachCalls int
	detachCalls int
	err         error
}

func (p *fakeProcessor) Attach(_ context.Context, _ webrtc.TrackLocal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attachCalls++
	return p.err
}

func (p *fakeProcessor) Detach(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.detachCalls++
	return p.err
}

// connectedManager builds a Manager in the connected state without any
// network, so tests exercise roster and control paths directly.
func connectedManager(opts Options) (*Manager, *fakeMic) {
	m := New(opts)
	mic := &fakeMic{enabled: true}
	m.mu.Lock()
	m.sess = &Session{Connected: true, RoomID: "lobby"}
	m.mic = mic
	m.local = Participant{Identity: "me", DisplayName: "Me", IsLocal: true, Volume: 1.0}
	m.rebuildRosterLocked(nil)
	m.mu.Unlock()
	return m, mic
}

func addAudioBinding(m *Manager, trackID, identity string, sink AudioSink) *trackBinding {
	b := &trackBinding{
		trackID:  trackID,
		identity: identity,
		kind:     webrtc.RTPCodecTypeAudio,
		sink:     sink,
	}
	m.mu.Lock()
	m.bindings[trackID] = b
	m.mu.Unlock()
	return b
}

func TestToggleMute(t *testing.T) {
	m, mic := connectedManager(Options{})

	if !m.ToggleMute() {
		t.Fatal("first toggle should mute")
	}
	if mic.Enabled() {
		t.Error("mic still enabled while muted")
	}
	ps := m.Participants()
	if len(ps) != 1 || !ps[0].IsMuted {
		t.Errorf("roster = %+v, want local muted", ps)
	}

	if m.ToggleMute() {
		t.Fatal("second toggle should unmute")
	}
	if !mic.Enabled() {
		t.Error("mic not restored after unmute")
	}
}

func TestToggleMuteNotConnected(t *testing.T) {
	m := New(Options{})
	if m.ToggleMute() {
		t.Error("toggle on idle manager reported muted")
	}
}

func TestDeafenDoesNotChangeMuteFlag(t *testing.T) {
	m, mic := connectedManager(Options{})
	sink := newFakeSink()
	addAudioBinding(m, "t1", "bob", sink)

	if !m.ToggleDeafen() {
		t.Fatal("first toggle should deafen")
	}
	if muted, _, _ := sink.snapshot(); !muted {
		t.Error("remote sink not muted while deafened")
	}
	if mic.Enabled() {
		t.Error("deafening must disable capture")
	}

	if m.ToggleDeafen() {
		t.Fatal("second toggle should undeafen")
	}
	if muted, _, _ := sink.snapshot(); muted {
		t.Error("remote sink still muted after undeafen")
	}
	if !mic.Enabled() {
		t.Error("capture not restored after undeafen")
	}
	for _, p := range m.Participants() {
		if p.IsMuted {
			t.Errorf("deafen cycle flipped mute flag: %+v", p)
		}
	}
}

func TestUndeafenNeverUnmutes(t *testing.T) {
	m, mic := connectedManager(Options{})

	m.ToggleMute()
	m.ToggleDeafen()
	m.ToggleDeafen()

	if mic.Enabled() {
		t.Error("capture enabled after undeafen despite mute")
	}
	if ps := m.Participants(); !ps[0].IsMuted {
		t.Error("mute flag lost across deafen cycle")
	}
}

func TestSetParticipantVolume(t *testing.T) {
	m, _ := connectedManager(Options{})
	sink := newFakeSink()
	addAudioBinding(m, "t1", "bob", sink)
	m.upsertRemote(remoteParticipant{Identity: "bob", Name: "Bob"})

	m.SetParticipantVolume("bob", 3.5)

	if _, gain, _ := sink.snapshot(); gain != 2.0 {
		t.Errorf("gain = %v, want clamped 2.0", gain)
	}
	for _, p := range m.Participants() {
		if p.Identity == "bob" && p.Volume != 2.0 {
			t.Errorf("roster volume = %v, want 2.0", p.Volume)
		}
	}
}

func TestVolumeSurvivesRejoin(t *testing.T) {
	m, _ := connectedManager(Options{})
	m.SetParticipantVolume("bob", 0.3)

	m.upsertRemote(remoteParticipant{Identity: "bob", Name: "Bob"})
	for _, p := range m.Participants() {
		if p.Identity == "bob" && p.Volume != 0.3 {
			t.Errorf("stored volume not applied on join: %v", p.Volume)
		}
	}
}

func TestVolumeSkipsScreenShareAudio(t *testing.T) {
	m, _ := connectedManager(Options{})
	shareSink := newFakeSink()
	b := addAudioBinding(m, "t1", "bob", shareSink)
	b.screenShare = true

	m.SetParticipantVolume("bob", 0.5)
	if _, gain, _ := shareSink.snapshot(); gain != 1.0 {
		t.Errorf("screen-share audio gain changed to %v", gain)
	}
}

func TestRosterLocalWinsCollision(t *testing.T) {
	m, _ := connectedManager(Options{})
	m.mu.Lock()
	m.rebuildRosterLocked([]remoteParticipant{
		{Identity: "me", Name: "Impostor"},
		{Identity: "bob", Name: "Bob"},
	})
	m.mu.Unlock()

	ps := m.Participants()
	if len(ps) != 2 {
		t.Fatalf("roster size = %d, want 2: %+v", len(ps), ps)
	}
	for _, p := range ps {
		if p.Identity == "me" && (p.DisplayName != "Me" || !p.IsLocal) {
			t.Errorf("local entry lost collision: %+v", p)
		}
	}
}

func TestParticipantsSorted(t *testing.T) {
	m, _ := connectedManager(Options{})
	m.upsertRemote(remoteParticipant{Identity: "zoe", Name: "Zoe"})
	m.upsertRemote(remoteParticipant{Identity: "alice", Name: "Alice"})

	ps := m.Participants()
	for i := 1; i < len(ps); i++ {
		if ps[i-1].Identity > ps[i].Identity {
			t.Fatalf("roster not sorted: %+v", ps)
		}
	}
}

func TestRemoveRemoteDropsBindings(t *testing.T) {
	m, _ := connectedManager(Options{})
	sink := newFakeSink()
	addAudioBinding(m, "t1", "bob", sink)
	m.upsertRemote(remoteParticipant{Identity: "bob", Name: "Bob"})

	m.removeRemote("bob")

	if _, _, closed := sink.snapshot(); !closed {
		t.Error("orphaned binding not detached on leave")
	}
	for _, p := range m.Participants() {
		if p.Identity == "bob" {
			t.Error("bob still in roster after leave")
		}
	}
}

func TestScreenShareLastWins(t *testing.T) {
	m, _ := connectedManager(Options{})
	m.upsertRemote(remoteParticipant{Identity: "alice"})
	m.upsertRemote(remoteParticipant{Identity: "bob"})

	s1 := &fakeSurface{}
	b1 := &trackBinding{trackID: "v1", identity: "alice", kind: webrtc.RTPCodecTypeVideo, screenShare: true, surface: s1}
	m.registerScreenShare(b1)

	s2 := &fakeSurface{}
	b2 := &trackBinding{trackID: "v2", identity: "bob", kind: webrtc.RTPCodecTypeVideo, screenShare: true, surface: s2}
	m.registerScreenShare(b2)

	m.mu.RLock()
	current := m.screenShare
	m.mu.RUnlock()
	if current != b2 {
		t.Error("second share did not take the slot")
	}
	if !s1.isClosed() {
		t.Error("first share surface not released")
	}
	if s2.isClosed() {
		t.Error("active share surface released")
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	m := New(Options{})
	m.Disconnect() // idle, must not panic

	m, mic := connectedManager(Options{})
	sink := newFakeSink()
	addAudioBinding(m, "t1", "bob", sink)

	m.Disconnect()
	m.Disconnect()

	if st := m.Status(); st.Session != nil {
		t.Errorf("session survives disconnect: %+v", st.Session)
	}
	if _, _, closed := sink.snapshot(); !closed {
		t.Error("sink not detached on disconnect")
	}
	mic.mu.Lock()
	closed := mic.closed
	mic.mu.Unlock()
	if !closed {
		t.Error("mic not closed on disconnect")
	}
	if len(m.Participants()) != 0 {
		t.Error("roster not cleared")
	}
}

func TestSetNoiseSuppression(t *testing.T) {
	proc := &fakeProcessor{}
	m, _ := connectedManager(Options{Processor: proc})
	ctx := context.Background()

	if err := m.SetNoiseSuppression(ctx, true); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if !m.NoiseSuppressionEnabled() {
		t.Error("not reported enabled")
	}
	if err := m.SetNoiseSuppression(ctx, true); err != nil {
		t.Fatalf("repeat enable: %v", err)
	}
	proc.mu.Lock()
	attaches := proc.attachCalls
	proc.mu.Unlock()
	if attaches != 1 {
		t.Errorf("attach called %d times, want 1", attaches)
	}

	if err := m.SetNoiseSuppression(ctx, false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if m.NoiseSuppressionEnabled() {
		t.Error("still reported enabled")
	}
}

func TestSetNoiseSuppressionBusy(t *testing.T) {
	m, _ := connectedManager(Options{Processor: &fakeProcessor{}})
	m.mu.Lock()
	m.procPending = true
	m.mu.Unlock()

	err := m.SetNoiseSuppression(context.Background(), true)
	if !errors.Is(err, ErrProcessorBusy) {
		t.Errorf("err = %v, want ErrProcessorBusy", err)
	}
}

func TestSetNoiseSuppressionNotConnected(t *testing.T) {
	m := New(Options{Processor: &fakeProcessor{}})
	err := m.SetNoiseSuppression(context.Background(), true)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
}

func TestSetNoiseSuppressionAttachFailure(t *testing.T) {
	proc := &fakeProcessor{err: errors.New("dsp unavailable")}
	m, _ := connectedManager(Options{Processor: proc})

	if err := m.SetNoiseSuppression(context.Background(), true); err == nil {
		t.Fatal("expected attach error")
	}
	if m.NoiseSuppressionEnabled() {
		t.Error("failed attach left suppression enabled")
	}
}

func TestQualityStartsUnknown(t *testing.T) {
	m := New(Options{})
	if q := m.Quality(); q.Class != QualityUnknown {
		t.Errorf("initial quality = %v, want unknown", q.Class)
	}
}
