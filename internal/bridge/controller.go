package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotConnected    = errors.New("broadcast software not connected")
	ErrReconnectFailed = errors.New("failed to reconnect to broadcast software")
)

const (
	defaultBaseDelay    = 1 * time.Second
	defaultMaxDelay     = 30 * time.Second
	defaultMaxAttempts  = 5
	defaultPollInterval = 1 * time.Second
	handshakeTimeout    = 10 * time.Second
	requestTimeout      = 10 * time.Second
)

// StreamSettings is the ingest-service configuration pushed to the
// broadcast software.
type StreamSettings struct {
	Server string `json:"server"`
	Key    string `json:"key"`
}

// State is the bridge snapshot handed to subscribers. Always copied out,
// never shared by reference.
type State struct {
	Connected       bool            `json:"connected"`
	Streaming       bool            `json:"streaming"`
	LastError       string          `json:"lastError,omitempty"`
	ActiveConfig    *StreamSettings `json:"activeConfig,omitempty"`
	DurationSeconds float64         `json:"durationSeconds"`
	BitrateKbps     int             `json:"bitrateKbps"`
	DroppedFrames   int             `json:"droppedFrames"`
}

// VideoSettings is the broadcast software's canvas/output resolution.
type VideoSettings struct {
	BaseWidth    int     `json:"baseWidth"`
	BaseHeight   int     `json:"baseHeight"`
	OutputWidth  int     `json:"outputWidth"`
	OutputHeight int     `json:"outputHeight"`
	FPS          float64 `json:"fps"`
}

// DialFunc opens the control websocket. Injected in tests.
type DialFunc func(ctx context.Context, rawURL string) (*websocket.Conn, error)

func defaultDial(ctx context.Context, rawURL string) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
	return conn, err
}

// Options tune the controller; zero values mean the production defaults.
type Options struct {
	Dial         DialFunc
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
	PollInterval time.Duration
}

// Controller owns the control connection and BridgeState. State mutates
// only in response to connection events and timer ticks; subscribers get
// immutable snapshots.
type Controller struct {
	logger       zerolog.Logger
	dial         DialFunc
	baseDelay    time.Duration
	maxDelay     time.Duration
	maxAttempts  int
	pollInterval time.Duration

	writeMu sync.Mutex // serializes writes on the shared conn

	mu            sync.Mutex
	state         State
	subs          map[int]func(State)
	nextSub       int
	conn          *websocket.Conn
	gen           int
	pending       map[string]chan responseData
	host          string
	port          int
	password      string
	reconnectStop chan struct{}
	pollStop      chan struct{}
}

func NewController(opts Options) *Controller {
	if opts.Dial == nil {
		opts.Dial = defaultDial
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = defaultBaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = defaultMaxDelay
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	return &Controller{
		logger:       log.With().Str("module", "bridge").Logger(),
		dial:         opts.Dial,
		baseDelay:    opts.BaseDelay,
		maxDelay:     opts.MaxDelay,
		maxAttempts:  opts.MaxAttempts,
		pollInterval: opts.PollInterval,
		subs:         make(map[int]func(State)),
		pending:      make(map[string]chan responseData),
	}
}

// backoffDelay is the reconnect schedule: baseDelay doubled per attempt,
// capped at maxDelay.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	d := base << (attempt - 1)
	if d > max || d <= 0 {
		return max
	}
	return d
}

// Connect opens the control connection and performs the identify
// handshake. An explicit Connect resets any reconnect machinery.
func (c *Controller) Connect(ctx context.Context, host string, port int, password string) error {
	c.mu.Lock()
	c.host, c.port, c.password = host, port, password
	stop := c.reconnectStop
	c.reconnectStop = nil
	c.mu.Unlock()
	if stop != nil {
		close(stop)
	}

	if err := c.establish(ctx); err != nil {
		return fmt.Errorf("bridge connect: %w", err)
	}
	return nil
}

// establish dials, handshakes, installs the new connection, and starts
// its read pump.
func (c *Controller) establish(ctx context.Context) error {
	c.mu.Lock()
	rawURL := fmt.Sprintf("ws://%s:%d", c.host, c.port)
	password := c.password
	c.mu.Unlock()

	conn, err := c.dial(ctx, rawURL)
	if err != nil {
		return err
	}

	if err := c.handshake(conn, password); err != nil {
		_ = conn.Close()
		return err
	}

	c.mu.Lock()
	old := c.conn
	c.gen++
	gen := c.gen
	c.conn = conn
	c.pending = make(map[string]chan responseData)
	c.state.Connected = true
	c.state.LastError = ""
	c.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	c.notify()

	go c.readPump(gen, conn)
	go c.refreshStatus()

	c.logger.Info().Str("url", rawURL).Msg("bridge connected")
	return nil
}

func (c *Controller) handshake(conn *websocket.Conn, password string) error {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})

	var env envelope
	if err := conn.ReadJSON(&env); err != nil {
		return fmt.Errorf("hello read: %w", err)
	}
	if env.Op != opHello {
		return fmt.Errorf("expected hello, got op %d", env.Op)
	}
	var hello helloData
	if err := json.Unmarshal(env.D, &hello); err != nil {
		return fmt.Errorf("hello decode: %w", err)
	}

	ident := identifyData{RPCVersion: 1}
	if hello.Authentication != nil {
		ident.Authentication = authResponse(password, hello.Authentication.Salt, hello.Authentication.Challenge)
	}
	payload, err := marshalEnvelope(opIdentify, ident)
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("identify write: %w", err)
	}

	if err := conn.ReadJSON(&env); err != nil {
		return fmt.Errorf("identified read: %w", err)
	}
	if env.Op != opIdentified {
		return fmt.Errorf("identify rejected (op %d)", env.Op)
	}
	return nil
}

func (c *Controller) readPump(gen int, conn *websocket.Conn) {
	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			c.onConnLost(gen, err)
			return
		}
		switch env.Op {
		case opEvent:
			c.handleEvent(gen, env.D)
		case opRequestResponse:
			c.routeResponse(gen, env.D)
		}
	}
}

// onConnLost handles a structural disconnect. A second loss event for an
// already-replaced connection is a no-op.
func (c *Controller) onConnLost(gen int, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state.Connected = false
	c.state.Streaming = false
	c.state.DurationSeconds = 0
	c.state.BitrateKbps = 0
	c.state.DroppedFrames = 0
	c.state.LastError = err.Error()
	c.failPendingLocked()
	stop := make(chan struct{})
	c.reconnectStop = stop
	pollStop := c.pollStop
	c.pollStop = nil
	c.mu.Unlock()

	if pollStop != nil {
		close(pollStop)
	}
	c.notify()
	c.logger.Error().Err(err).Msg("control connection lost, scheduling reconnect")
	go c.reconnectLoop(stop)
}

// reconnectLoop retries with exponential backoff. A successful reconnect
// exits the loop, so the next outage starts from attempt one again.
func (c *Controller) reconnectLoop(stop chan struct{}) {
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		delay := backoffDelay(attempt, c.baseDelay, c.maxDelay)
		select {
		case <-stop:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
		err := c.establish(ctx)
		cancel()
		if err == nil {
			return
		}
		c.logger.Error().Err(err).Int("attempt", attempt).Msg("reconnect failed")
	}

	c.mu.Lock()
	c.state.LastError = ErrReconnectFailed.Error()
	c.reconnectStop = nil
	c.mu.Unlock()
	c.notify()
	c.logger.Error().Int("attempts", c.maxAttempts).Msg("reconnect abandoned")
}

// Disconnect is an immediate state reset: no reconnect is scheduled after
// an explicit disconnect. Close failures are logged, never surfaced.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	stop := c.reconnectStop
	c.reconnectStop = nil
	pollStop := c.pollStop
	c.pollStop = nil
	conn := c.conn
	c.conn = nil
	c.gen++
	c.state = State{}
	c.failPendingLocked()
	c.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if pollStop != nil {
		close(pollStop)
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			c.logger.Error().Err(err).Msg("control connection close error")
		}
	}
	c.notify()
}

// failPendingLocked aborts in-flight requests; their results are
// discarded. Caller holds c.mu.
func (c *Controller) failPendingLocked() {
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *Controller) routeResponse(gen int, raw json.RawMessage) {
	var resp responseData
	if err := json.Unmarshal(raw, &resp); err != nil {
		c.logger.Error().Err(err).Msg("bad response payload")
		return
	}
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	ch, ok := c.pending[resp.RequestID]
	if ok {
		delete(c.pending, resp.RequestID)
	}
	c.mu.Unlock()
	if ok {
		ch <- resp
	}
}

func (c *Controller) handleEvent(gen int, raw json.RawMessage) {
	var ev eventData
	if err := json.Unmarshal(raw, &ev); err != nil {
		return
	}
	switch ev.EventType {
	case "StreamStateChanged":
		var p struct {
			OutputActive bool `json:"outputActive"`
		}
		if err := json.Unmarshal(ev.EventData, &p); err != nil {
			return
		}
		c.setStreaming(gen, p.OutputActive)
	}
}

func (c *Controller) setStreaming(gen int, streaming bool) {
	c.mu.Lock()
	if gen != c.gen || c.state.Streaming == streaming {
		c.mu.Unlock()
		return
	}
	c.state.Streaming = streaming
	var pollStop chan struct{}
	if streaming {
		if c.pollStop == nil {
			c.pollStop = make(chan struct{})
			go c.pollLoop(c.pollStop)
		}
	} else {
		pollStop = c.pollStop
		c.pollStop = nil
		c.state.DurationSeconds = 0
		c.state.BitrateKbps = 0
	}
	c.mu.Unlock()

	if pollStop != nil {
		close(pollStop)
	}
	c.notify()
}

// sendRequest writes one request and waits for its correlated response.
func (c *Controller) sendRequest(ctx context.Context, reqType string, data any) (json.RawMessage, error) {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	id := uuid.NewString()
	ch := make(chan responseData, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	payload, err := marshalEnvelope(opRequest, requestData{
		RequestType: reqType,
		RequestID:   id,
		RequestData: data,
	})
	if err != nil {
		c.dropPending(id)
		return nil, err
	}

	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	err = conn.WriteMessage(websocket.TextMessage, payload)
	c.writeMu.Unlock()
	if err != nil {
		c.dropPending(id)
		return nil, fmt.Errorf("%s write: %w", reqType, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrNotConnected
		}
		if !resp.RequestStatus.Result {
			return nil, fmt.Errorf("%s rejected: %s (code %d)", reqType, resp.RequestStatus.Comment, resp.RequestStatus.Code)
		}
		return resp.ResponseData, nil
	case <-ctx.Done():
		c.dropPending(id)
		return nil, ctx.Err()
	case <-time.After(requestTimeout):
		c.dropPending(id)
		return nil, fmt.Errorf("%s timed out", reqType)
	}
}

func (c *Controller) dropPending(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

type streamStatus struct {
	OutputActive        bool    `json:"outputActive"`
	OutputDuration      float64 `json:"outputDuration"` // milliseconds
	OutputBytes         float64 `json:"outputBytes"`
	OutputSkippedFrames int     `json:"outputSkippedFrames"`
}

// refreshStatus seeds streaming state right after a (re)connect.
func (c *Controller) refreshStatus() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	raw, err := c.sendRequest(ctx, "GetStreamStatus", nil)
	if err != nil {
		return
	}
	var st streamStatus
	if err := json.Unmarshal(raw, &st); err != nil {
		return
	}
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()
	c.setStreaming(gen, st.OutputActive)
}

// pollLoop refreshes duration/bitrate/drop counters once a second while
// streaming. A tick after teardown sees the stopped channel and exits.
func (c *Controller) pollLoop(stop chan struct{}) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	var lastBytes float64
	var lastAt time.Time

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		raw, err := c.sendRequest(ctx, "GetStreamStatus", nil)
		cancel()
		if err != nil {
			continue
		}
		var st streamStatus
		if err := json.Unmarshal(raw, &st); err != nil {
			continue
		}

		c.mu.Lock()
		if !c.state.Streaming {
			c.mu.Unlock()
			continue
		}
		c.state.DurationSeconds = st.OutputDuration / 1000
		c.state.DroppedFrames = st.OutputSkippedFrames
		if !lastAt.IsZero() && st.OutputBytes >= lastBytes {
			elapsed := time.Since(lastAt).Seconds()
			if elapsed > 0 {
				c.state.BitrateKbps = int((st.OutputBytes - lastBytes) * 8 / 1000 / elapsed)
			}
		}
		lastBytes = st.OutputBytes
		lastAt = time.Now()
		c.mu.Unlock()
		c.notify()
	}
}

// ConfigureStream pushes ingest settings to the broadcast software.
func (c *Controller) ConfigureStream(ctx context.Context, cfg StreamSettings) error {
	c.mu.Lock()
	connected := c.conn != nil
	c.mu.Unlock()
	if !connected {
		return fmt.Errorf("cannot configure stream: %w", ErrNotConnected)
	}

	_, err := c.sendRequest(ctx, "SetStreamServiceSettings", map[string]any{
		"streamServiceType": "whip_custom",
		"streamServiceSettings": map[string]string{
			"server":       cfg.Server,
			"bearer_token": cfg.Key,
		},
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	cp := cfg
	c.state.ActiveConfig = &cp
	c.mu.Unlock()
	c.notify()
	return nil
}

// StartStreaming is idempotent: starting while already streaming is a
// no-op success.
func (c *Controller) StartStreaming(ctx context.Context) error {
	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if c.state.Streaming {
		c.mu.Unlock()
		return nil
	}
	gen := c.gen
	c.mu.Unlock()

	if _, err := c.sendRequest(ctx, "StartStream", nil); err != nil {
		return err
	}
	c.setStreaming(gen, true)
	return nil
}

// StopStreaming is idempotent: stopping while not streaming is a no-op
// success.
func (c *Controller) StopStreaming(ctx context.Context) error {
	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if !c.state.Streaming {
		c.mu.Unlock()
		return nil
	}
	gen := c.gen
	c.mu.Unlock()

	if _, err := c.sendRequest(ctx, "StopStream", nil); err != nil {
		return err
	}
	c.setStreaming(gen, false)
	return nil
}

// ListScenes returns the scene names known to the broadcast software.
func (c *Controller) ListScenes(ctx context.Context) ([]string, error) {
	raw, err := c.sendRequest(ctx, "GetSceneList", nil)
	if err != nil {
		return nil, err
	}
	var p struct {
		Scenes []struct {
			SceneName string `json:"sceneName"`
		} `json:"scenes"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(p.Scenes))
	for _, s := range p.Scenes {
		names = append(names, s.SceneName)
	}
	return names, nil
}

func (c *Controller) SetScene(ctx context.Context, name string) error {
	_, err := c.sendRequest(ctx, "SetCurrentProgramScene", map[string]string{"sceneName": name})
	return err
}

func (c *Controller) GetVideoSettings(ctx context.Context) (*VideoSettings, error) {
	raw, err := c.sendRequest(ctx, "GetVideoSettings", nil)
	if err != nil {
		return nil, err
	}
	var p struct {
		BaseWidth      int     `json:"baseWidth"`
		BaseHeight     int     `json:"baseHeight"`
		OutputWidth    int     `json:"outputWidth"`
		OutputHeight   int     `json:"outputHeight"`
		FPSNumerator   float64 `json:"fpsNumerator"`
		FPSDenominator float64 `json:"fpsDenominator"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	vs := &VideoSettings{
		BaseWidth:    p.BaseWidth,
		BaseHeight:   p.BaseHeight,
		OutputWidth:  p.OutputWidth,
		OutputHeight: p.OutputHeight,
	}
	if p.FPSDenominator > 0 {
		vs.FPS = p.FPSNumerator / p.FPSDenominator
	}
	return vs, nil
}

// Subscribe registers a listener; it immediately receives the current
// snapshot and every subsequent change. The returned func unsubscribes.
func (c *Controller) Subscribe(cb func(State)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = cb
	snap := c.snapshotLocked()
	c.mu.Unlock()

	cb(snap)
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// Status returns a snapshot copy of the bridge state.
func (c *Controller) Status() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() State {
	st := c.state
	if st.ActiveConfig != nil {
		cp := *st.ActiveConfig
		st.ActiveConfig = &cp
	}
	return st
}

func (c *Controller) notify() {
	c.mu.Lock()
	snap := c.snapshotLocked()
	cbs := make([]func(State), 0, len(c.subs))
	for _, cb := range c.subs {
		cbs = append(cbs, cb)
	}
	c.mu.Unlock()
	for _, cb := range cbs {
		cb(snap)
	}
}
