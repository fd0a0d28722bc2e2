package session

import (
	"sort"

	"github.com/pion/webrtc/v4"
)

// The roster is owned exclusively by the Manager and rebuilt by merging the
// local participant with all remotes on every relevant room event. Identity
// uniqueness is the invariant; the local entry always wins a collision.

// rebuildRoster replaces the remote side of the roster wholesale. Caller
// holds m.mu.
func (m *Manager) rebuildRosterLocked(remotes []remoteParticipant) {
	roster := make(map[string]*Participant, len(remotes)+1)
	local := m.local
	roster[local.Identity] = &local

	for _, r := range remotes {
		if r.Identity == "" || r.Identity == local.Identity {
			continue
		}
		vol := 1.0
		if v, ok := m.volumes[r.Identity]; ok {
			vol = v
		}
		roster[r.Identity] = &Participant{
			Identity:        r.Identity,
			DisplayName:     r.Name,
			IsMuted:         r.Muted,
			IsSpeaking:      r.Speaking,
			IsScreenSharing: r.ScreenSharing,
			Volume:          vol,
		}
	}
	m.roster = roster
}

func (m *Manager) upsertRemote(r remoteParticipant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil || r.Identity == "" || r.Identity == m.local.Identity {
		return
	}
	vol := 1.0
	if v, ok := m.volumes[r.Identity]; ok {
		vol = v
	}
	m.roster[r.Identity] = &Participant{
		Identity:        r.Identity,
		DisplayName:     r.Name,
		IsMuted:         r.Muted,
		IsSpeaking:      r.Speaking,
		IsScreenSharing: r.ScreenSharing,
		Volume:          vol,
	}
}

func (m *Manager) removeRemote(identity string) {
	m.mu.Lock()
	if m.sess == nil || identity == m.local.Identity {
		m.mu.Unlock()
		return
	}
	delete(m.roster, identity)

	// Bindings never outlive their participant.
	var orphaned []*trackBinding
	for _, b := range m.bindings {
		if b.identity == identity {
			orphaned = append(orphaned, b)
		}
	}
	m.mu.Unlock()

	for _, b := range orphaned {
		m.dropBinding(b)
	}
}

func (m *Manager) updateRemote(identity string, fn func(*Participant)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.roster[identity]; ok && !p.IsLocal {
		fn(p)
	}
}

// Participants returns a snapshot of the roster sorted by identity.
func (m *Manager) Participants() []Participant {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Participant, 0, len(m.roster))
	for _, p := range m.roster {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

// SetParticipantVolume clamps to [0,2] and applies the gain to the
// participant's microphone-audio sink when one is bound.
func (m *Manager) SetParticipantVolume(identity string, volume float64) {
	v := clampVolume(volume)

	m.mu.Lock()
	m.volumes[identity] = v
	if p, ok := m.roster[identity]; ok {
		p.Volume = v
	}
	var sink AudioSink
	for _, b := range m.bindings {
		if b.identity == identity && b.kind == webrtc.RTPCodecTypeAudio && !b.screenShare {
			sink = b.sink
			break
		}
	}
	m.mu.Unlock()

	if sink != nil {
		sink.SetGain(v)
	}
}
