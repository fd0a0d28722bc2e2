package session

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pion/webrtc/v4"
)

// diagnosticsLoop samples transport statistics on a fixed period while the
// session is connected. A tick firing after teardown observes the cleared
// state and skips work.
func (m *Manager) diagnosticsLoop(ctx context.Context) {
	interval := m.opts.DiagInterval
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastBytes uint64
	var lastSample time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.RLock()
			pc := m.pc
			connected := m.sess != nil && m.sess.Connected
			m.mu.RUnlock()
			if !connected || pc == nil {
				continue
			}

			q, bytesSent := sampleQuality(pc.GetStats(), lastBytes, lastSample)
			lastBytes = bytesSent
			lastSample = time.Now()

			m.mu.Lock()
			m.quality = q
			m.mu.Unlock()

			m.reportQuality(ctx, q)
		}
	}
}

// sampleQuality extracts RTT/jitter/loss for the outbound audio stream from
// a pion stats report and classifies it. Returns the cumulative bytes-sent
// counter so the caller can derive bitrate on the next tick.
func sampleQuality(report webrtc.StatsReport, lastBytes uint64, lastSample time.Time) (ConnectionQuality, uint64) {
	q := ConnectionQuality{Class: QualityUnknown}
	var bytesSent uint64
	var haveRemote bool

	for _, s := range report {
		switch st := s.(type) {
		case webrtc.OutboundRTPStreamStats:
			if st.Kind == "audio" {
				bytesSent += st.BytesSent
			}
		case webrtc.RemoteInboundRTPStreamStats:
			if st.Kind != "audio" {
				continue
			}
			haveRemote = true
			q.RTTMs = st.RoundTripTime * 1000
			q.JitterMs = st.Jitter * 1000
			q.PacketLossPct = st.FractionLost * 100
		}
	}

	if !haveRemote {
		return q, bytesSent
	}
	if !lastSample.IsZero() && bytesSent >= lastBytes {
		elapsed := time.Since(lastSample).Seconds()
		if elapsed > 0 {
			q.BitrateBps = int64(float64(bytesSent-lastBytes) * 8 / elapsed)
		}
	}
	q.Class = classifyQuality(q.RTTMs, q.JitterMs)
	return q, bytesSent
}

// reportQuality pushes the sample to the external diagnostics sink.
// Best-effort: failures are swallowed.
func (m *Manager) reportQuality(ctx context.Context, q ConnectionQuality) {
	if m.opts.DiagnosticsURL == "" {
		return
	}
	body, err := json.Marshal(q)
	if err != nil {
		return
	}
	reqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, m.opts.DiagnosticsURL, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return
	}
	_ = resp.Body.Close()
}

// Quality returns the latest diagnostics sample.
func (m *Manager) Quality() ConnectionQuality {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.quality
}
