package session

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotConnected  = errors.New("session not connected")
	ErrProcessorBusy = errors.New("audio processor toggle already in flight")
)

// AuthError reports a rejected credential from the token service.
type AuthError struct {
	Status int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("token service rejected credentials (status %d)", e.Status)
}

// TransportError covers room/ICE/signaling failures. The caller may retry
// by calling Connect again.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Session describes the live room connection. Owned by the Manager.
type Session struct {
	Connected     bool      `json:"connected"`
	RoomID        string    `json:"roomId"`
	LocalMuted    bool      `json:"localMuted"`
	LocalDeafened bool      `json:"localDeafened"`
	StartedAt     time.Time `json:"startedAt"`
}

// Participant is one roster entry, keyed by Identity.
type Participant struct {
	Identity        string  `json:"identity"`
	DisplayName     string  `json:"displayName"`
	IsLocal         bool    `json:"isLocal"`
	IsSpeaking      bool    `json:"isSpeaking"`
	IsMuted         bool    `json:"isMuted"`
	IsScreenSharing bool    `json:"isScreenSharing"`
	Volume          float64 `json:"volume"`
}

type QualityClass string

const (
	QualityExcellent QualityClass = "excellent"
	QualityGood      QualityClass = "good"
	QualityPoor      QualityClass = "poor"
	QualityBad       QualityClass = "bad"
	QualityUnknown   QualityClass = "unknown"
)

// ConnectionQuality is recomputed on every diagnostics tick; never persisted.
type ConnectionQuality struct {
	RTTMs         float64      `json:"rttMs"`
	JitterMs      float64      `json:"jitterMs"`
	PacketLossPct float64      `json:"packetLossPct"`
	BitrateBps    int64        `json:"bitrateBps"`
	Class         QualityClass `json:"class"`
}

// classifyQuality is a pure function of the outbound audio RTT and jitter,
// both in milliseconds.
func classifyQuality(rttMs, jitterMs float64) QualityClass {
	switch {
	case rttMs < 50 && jitterMs < 10:
		return QualityExcellent
	case rttMs < 100 && jitterMs < 20:
		return QualityGood
	case rttMs < 200 && jitterMs < 50:
		return QualityPoor
	default:
		return QualityBad
	}
}

// clampVolume keeps per-participant volume in [0, 2]; values above 1.0 are
// gain boost.
func clampVolume(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 2 {
		return 2
	}
	return v
}
