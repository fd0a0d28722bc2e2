package session

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// AudioProcessor is a noise-suppression unit that can be spliced into the
// local microphone path on demand. Attach and Detach are asynchronous on
// the processor side; the Manager serializes toggles so the unit is never
// attached twice.
type AudioProcessor interface {
	Attach(ctx context.Context, track webrtc.TrackLocal) error
	Detach(ctx context.Context) error
}

// SetNoiseSuppression attaches or detaches the audio processor. A toggle
// arriving while a previous one is still in flight is rejected with
// ErrProcessorBusy rather than queued; callers retry once the pending
// toggle settles.
func (m *Manager) SetNoiseSuppression(ctx context.Context, enabled bool) error {
	m.mu.Lock()
	if m.sess == nil || m.mic == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	if m.opts.Processor == nil {
		m.mu.Unlock()
		return nil
	}
	if m.procPending {
		m.mu.Unlock()
		return ErrProcessorBusy
	}
	if m.suppressing == enabled {
		m.mu.Unlock()
		return nil
	}
	m.procPending = true
	track := m.mic.Track()
	m.mu.Unlock()

	var err error
	if enabled {
		err = m.opts.Processor.Attach(ctx, track)
	} else {
		err = m.opts.Processor.Detach(ctx)
	}

	m.mu.Lock()
	m.procPending = false
	if err == nil {
		m.suppressing = enabled
	}
	m.mu.Unlock()

	if err != nil {
		m.logger.Error().Err(err).Bool("enabled", enabled).Msg("audio processor toggle failed")
	}
	return err
}

// NoiseSuppressionEnabled reports whether the processor is currently
// attached.
func (m *Manager) NoiseSuppressionEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.suppressing
}
