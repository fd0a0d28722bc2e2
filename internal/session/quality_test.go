package session

import (
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
)

func TestSampleQuality(t *testing.T) {
	report := webrtc.StatsReport{
		"out-audio": webrtc.OutboundRTPStreamStats{
			Kind:      "audio",
			BytesSent: 48000,
		},
		"remote-in-audio": webrtc.RemoteInboundRTPStreamStats{
			Kind:          "audio",
			RoundTripTime: 0.040, // seconds
			Jitter:        0.005,
			FractionLost:  0.01,
		},
		"remote-in-video": webrtc.RemoteInboundRTPStreamStats{
			Kind:          "video",
			RoundTripTime: 0.900,
		},
	}

	q, bytesSent := sampleQuality(report, 0, time.Time{})
	if bytesSent != 48000 {
		t.Errorf("bytesSent = %d, want 48000", bytesSent)
	}
	if q.RTTMs != 40 {
		t.Errorf("RTTMs = %v, want 40", q.RTTMs)
	}
	if q.JitterMs != 5 {
		t.Errorf("JitterMs = %v, want 5", q.JitterMs)
	}
	if q.PacketLossPct != 1 {
		t.Errorf("PacketLossPct = %v, want 1", q.PacketLossPct)
	}
	if q.Class != QualityExcellent {
		t.Errorf("Class = %v, want excellent", q.Class)
	}
	if q.BitrateBps != 0 {
		t.Errorf("first sample computed a bitrate: %d", q.BitrateBps)
	}
}

func TestSampleQualityBitrate(t *testing.T) {
	report := webrtc.StatsReport{
		"out-audio": webrtc.OutboundRTPStreamStats{Kind: "audio", BytesSent: 20000},
		"remote-in-audio": webrtc.RemoteInboundRTPStreamStats{
			Kind: "audio", RoundTripTime: 0.030, Jitter: 0.004,
		},
	}

	q, _ := sampleQuality(report, 10000, time.Now().Add(-1*time.Second))
	// 10000 bytes over ~1s is ~80kbps.
	if q.BitrateBps < 70000 || q.BitrateBps > 90000 {
		t.Errorf("BitrateBps = %d, want ~80000", q.BitrateBps)
	}
}

func TestSampleQualityNoRemoteStats(t *testing.T) {
	report := webrtc.StatsReport{
		"out-audio": webrtc.OutboundRTPStreamStats{Kind: "audio", BytesSent: 1000},
	}

	q, _ := sampleQuality(report, 0, time.Time{})
	if q.Class != QualityUnknown {
		t.Errorf("Class = %v, want unknown without remote stats", q.Class)
	}
}
