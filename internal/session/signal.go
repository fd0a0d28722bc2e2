package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
)

// SignalDialer opens the websocket to the SFU signaling endpoint. Injected
// in tests.
type SignalDialer func(ctx context.Context, rawURL string) (*websocket.Conn, error)

func defaultSignalDialer(ctx context.Context, rawURL string) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
	return conn, err
}

type joinAck struct {
	Identity     string
	Participants []remoteParticipant
}

type remoteParticipant struct {
	Identity      string `json:"identity"`
	Name          string `json:"name"`
	Muted         bool   `json:"muted"`
	Speaking      bool   `json:"speaking"`
	ScreenSharing bool   `json:"screenSharing"`
}

// signalConn is the persistent signaling connection for one session. The
// send channel is never closed; writePump exits via its context or a write
// error, and sends after close are rejected, so teardown can race an
// outgoing message safely.
type signalConn struct {
	conn   *websocket.Conn
	send   chan []byte
	joined chan joinAck

	mu     sync.Mutex
	closed bool
}

func newSignalConn(conn *websocket.Conn) *signalConn {
	return &signalConn{
		conn:   conn,
		send:   make(chan []byte, 32),
		joined: make(chan joinAck, 1),
	}
}

func (c *signalConn) trySend(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("signal connection closed")
	}
	select {
	case c.send <- data:
		return nil
	default:
		return fmt.Errorf("signal send buffer full")
	}
}

func (c *signalConn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	_ = c.conn.Close()
}

// dialSignal connects to the signaling endpoint with the join token
// attached as a query parameter.
func (m *Manager) dialSignal(ctx context.Context, token string) (*signalConn, error) {
	u, err := url.Parse(m.opts.SignalURL)
	if err != nil {
		return nil, &TransportError{Op: "signal url", Err: err}
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	conn, err := m.opts.DialSignal(ctx, u.String())
	if err != nil {
		return nil, &TransportError{Op: "signal dial", Err: err}
	}
	return newSignalConn(conn), nil
}

func (m *Manager) sendSignal(c *signalConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		m.logger.Error().Err(err).Msg("signal marshal error")
		return
	}
	if err := c.trySend(b); err != nil {
		m.logger.Error().Err(err).Msg("signal send dropped")
	}
}

func (m *Manager) writePump(ctx context.Context, c *signalConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				m.logger.Error().Err(err).Msg("signal write error")
				return
			}
		}
	}
}

func (m *Manager) readPump(ctx context.Context, c *signalConn) {
	defer func() {
		c.close()
		m.onSignalClosed(c)
	}()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				m.logger.Error().Err(err).Msg("signal read error")
			}
			return
		}
		m.handleSignal(c, data)
	}
}

func (m *Manager) handleSignal(c *signalConn, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		m.logger.Error().Err(err).Msg("bad signal json")
		return
	}

	switch env.Type {
	case "join_ok":
		m.handleJoinOK(c, data)
	case "participant_joined":
		m.handleParticipantJoined(data)
	case "participant_left":
		m.handleParticipantLeft(data)
	case "speaking":
		m.handleSpeaking(data)
	case "mute":
		m.handleRemoteMute(data)
	case "answer":
		m.handleAnswer(data)
	case "candidate":
		m.handleCandidate(data)
	case "error":
		m.logger.Error().RawJSON("payload", data).Msg("signal error message")
	default:
		m.logger.Info().Str("type", env.Type).Msg("unknown signal, ignored")
	}
}

func (m *Manager) handleJoinOK(c *signalConn, data []byte) {
	var p struct {
		Type         string              `json:"type"`
		Identity     string              `json:"identity"`
		Participants []remoteParticipant `json:"participants"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		m.logger.Error().Err(err).Msg("bad join_ok payload")
		return
	}
	select {
	case c.joined <- joinAck{Identity: p.Identity, Participants: p.Participants}:
	default:
		// Duplicate join_ok; the first one won.
	}
}

func (m *Manager) handleParticipantJoined(data []byte) {
	var p remoteParticipant
	if err := json.Unmarshal(data, &p); err != nil {
		m.logger.Error().Err(err).Msg("bad participant_joined payload")
		return
	}
	m.upsertRemote(p)
}

func (m *Manager) handleParticipantLeft(data []byte) {
	var p struct {
		Identity string `json:"identity"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		m.logger.Error().Err(err).Msg("bad participant_left payload")
		return
	}
	m.removeRemote(p.Identity)
}

func (m *Manager) handleSpeaking(data []byte) {
	var p struct {
		Identity string `json:"identity"`
		Speaking bool   `json:"speaking"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	m.updateRemote(p.Identity, func(r *Participant) { r.IsSpeaking = p.Speaking })
}

func (m *Manager) handleRemoteMute(data []byte) {
	var p struct {
		Identity string `json:"identity"`
		Muted    bool   `json:"muted"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	m.updateRemote(p.Identity, func(r *Participant) { r.IsMuted = p.Muted })
}

func (m *Manager) handleAnswer(data []byte) {
	var p struct {
		SDP string `json:"sdp"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		m.logger.Error().Err(err).Msg("bad answer payload")
		return
	}
	m.mu.RLock()
	pc := m.pc
	m.mu.RUnlock()
	if pc == nil {
		return
	}
	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: p.SDP}
	if err := pc.SetRemoteDescription(desc); err != nil {
		m.logger.Error().Err(err).Msg("set remote answer failed")
	}
}

func (m *Manager) handleCandidate(data []byte) {
	var p struct {
		Candidate     string `json:"candidate"`
		SDPMid        string `json:"sdpMid"`
		SDPMLineIndex uint16 `json:"sdpMLineIndex"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		m.logger.Error().Err(err).Msg("bad candidate payload")
		return
	}
	m.mu.RLock()
	pc := m.pc
	m.mu.RUnlock()
	if pc == nil {
		return
	}
	cand := webrtc.ICECandidateInit{Candidate: p.Candidate}
	if p.SDPMid != "" {
		cand.SDPMid = &p.SDPMid
	}
	cand.SDPMLineIndex = &p.SDPMLineIndex
	if err := pc.AddICECandidate(cand); err != nil {
		m.logger.Error().Err(err).Msg("add ice candidate failed")
	}
}

// onSignalClosed tears the session down when the control connection dies
// underneath us. A close caused by Disconnect is a no-op here.
func (m *Manager) onSignalClosed(c *signalConn) {
	m.mu.RLock()
	current := m.sig
	m.mu.RUnlock()
	if current != c {
		return
	}
	m.logger.Info().Msg("signal connection lost, disconnecting session")
	m.Disconnect()
}
