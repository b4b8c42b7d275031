// Package client is a Go connection manager for the voxbridge gateway. It
// keeps one WebSocket session alive with exponential backoff, encodes
// microphone frames for the selected provider, schedules provider audio for
// gapless playback and merges streaming transcriptions into a message log.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satriahrh/voxbridge/domain/entities"
	gateway "github.com/satriahrh/voxbridge/internal/websocket"
)

const writeWait = 10 * time.Second

// ErrReconnectFailed is reported once automatic reconnection gives up
var ErrReconnectFailed = errors.New("failed to reconnect")

// State is the connection state of a Manager
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

// ServerError is an error message sent by the gateway
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Callbacks are invoked on the manager goroutine. They must not call back
// into the Manager synchronously.
type Callbacks struct {
	OnTranscription func(t entities.Transcription)
	OnError         func(err error)
	OnConnect       func(sessionID string)
	OnDisconnect    func()
	OnStateChange   func(state State)
}

type options struct {
	reconnect bool
	backoff   Backoff
	callbacks Callbacks
	clock     Clock
	sink      Sink
	dialer    *websocket.Dialer
	logger    *zap.Logger
}

// Option configures a Manager
type Option func(*options)

// WithReconnect enables or disables automatic reconnection
func WithReconnect(enabled bool) Option {
	return func(o *options) { o.reconnect = enabled }
}

// WithReconnectInterval sets the base backoff interval
func WithReconnectInterval(d time.Duration) Option {
	return func(o *options) { o.backoff.Base = d }
}

// WithMaxReconnectAttempts caps consecutive reconnect attempts
func WithMaxReconnectAttempts(n int) Option {
	return func(o *options) { o.backoff.MaxAttempts = n }
}

func WithCallbacks(cb Callbacks) Option {
	return func(o *options) { o.callbacks = cb }
}

// WithPlayback routes provider audio to sink, timed by clock
func WithPlayback(clock Clock, sink Sink) Option {
	return func(o *options) {
		o.clock = clock
		o.sink = sink
	}
}

func WithDialer(d *websocket.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

type frame struct {
	gen     int
	msgType int
	payload []byte
	err     error
}

type dialResult struct {
	gen  int
	conn *websocket.Conn
	err  error
}

// Manager owns one gateway connection. All state lives on the goroutine
// started by Run; public methods post work to it.
type Manager struct {
	url    string
	opts   options
	calls  chan func()
	frames chan frame
	dials  chan dialResult
	done   chan struct{}

	// Owned by the Run goroutine
	ctx         context.Context
	conn        *websocket.Conn
	gen         int
	state       State
	intentional bool
	attempts    int
	retry       *time.Timer
	retryC      <-chan time.Time
	sessionID   string
	sampleRate  int
	providers   []entities.ProviderInfo
	providerID  string
	voiceID     string
	recording   bool
	level       float64
	transcript  Transcript
	player      *Player
}

// New creates a manager for the gateway at serverURL. The token is passed
// as the token query parameter.
func New(serverURL, token string, opts ...Option) (*Manager, error) {
	u, err := buildURL(serverURL, token)
	if err != nil {
		return nil, err
	}

	o := options{
		reconnect: true,
		backoff:   Backoff{Base: time.Second, MaxAttempts: 5},
		dialer:    websocket.DefaultDialer,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Manager{
		url:    u,
		opts:   o,
		calls:  make(chan func(), 64),
		frames: make(chan frame, 64),
		dials:  make(chan dialResult, 1),
		done:   make(chan struct{}),
		state:  StateDisconnected,
		player: NewPlayer(o.clock, o.sink),
	}, nil
}

func buildURL(serverURL, token string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Run processes events until ctx is cancelled, then closes the connection
func (m *Manager) Run(ctx context.Context) {
	m.ctx = ctx
	defer close(m.done)
	defer m.closeConn()

	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-m.calls:
			fn()
		case f := <-m.frames:
			m.handleFrame(f)
		case d := <-m.dials:
			m.handleDial(d)
		case <-m.retryC:
			m.retryC = nil
			m.dial()
		}
	}
}

// do runs fn on the manager goroutine
func (m *Manager) do(fn func()) {
	select {
	case m.calls <- fn:
	case <-m.done:
	}
}

// query runs fn on the manager goroutine and waits for it
func (m *Manager) query(fn func()) {
	finished := make(chan struct{})
	m.do(func() {
		fn()
		close(finished)
	})
	select {
	case <-finished:
	case <-m.done:
	}
}

// Connect opens the connection and resets the reconnect counter
func (m *Manager) Connect() {
	m.do(func() {
		m.intentional = false
		m.attempts = 0
		m.stopRetry()
		if m.conn == nil {
			m.dial()
		}
	})
}

// Disconnect closes the connection without reconnecting
func (m *Manager) Disconnect() {
	m.do(func() {
		m.intentional = true
		m.stopRetry()
		m.recording = false
		m.player.Interrupt()
		wasOpen := m.conn != nil
		m.closeConn()
		if wasOpen {
			m.notifyDisconnect()
		}
		m.setState(StateDisconnected)
	})
}

// SelectProvider switches the session to providerID. An empty voice uses
// the provider default.
func (m *Manager) SelectProvider(providerID, voiceID string) {
	m.do(func() {
		m.providerID = providerID
		m.voiceID = voiceID
		m.sendSelect()
	})
}

// SelectVoice reselects the current provider with another voice
func (m *Manager) SelectVoice(voiceID string) {
	m.do(func() {
		m.voiceID = voiceID
		if m.providerID != "" {
			m.sendSelect()
		}
	})
}

func (m *Manager) SendText(content string) {
	m.do(func() {
		m.sendJSON(gateway.ClientMessage{Type: gateway.MessageTypeText, Content: content})
	})
}

// Interrupt asks the provider to stop and drops queued playback
func (m *Manager) Interrupt() {
	m.do(func() {
		m.player.Interrupt()
		m.sendJSON(gateway.ClientMessage{Type: gateway.MessageTypeInterrupt})
	})
}

// StartRecording enables sending captured audio
func (m *Manager) StartRecording() {
	m.do(func() { m.recording = true })
}

func (m *Manager) StopRecording() {
	m.do(func() {
		m.recording = false
		m.level = 0
	})
}

// PushCapture submits one microphone frame sampled at DeviceRate. It is
// dropped unless recording and a provider rate is known.
func (m *Manager) PushCapture(samples []float32) {
	m.do(func() {
		if !m.recording || m.sampleRate == 0 || m.conn == nil {
			return
		}
		pcm, level := EncodeCapture(samples, m.sampleRate)
		m.level = level
		m.write(websocket.BinaryMessage, pcm)
	})
}

func (m *Manager) ClearTranscription() {
	m.do(m.transcript.Clear)
}

// Transcript returns a snapshot of the message log
func (m *Manager) Transcript() []entities.Transcription {
	var out []entities.Transcription
	m.query(func() { out = m.transcript.Messages() })
	return out
}

// AudioLevel is the RMS level of the last captured frame
func (m *Manager) AudioLevel() float64 {
	var level float64
	m.query(func() { level = m.level })
	return level
}

func (m *Manager) State() State {
	state := StateDisconnected
	m.query(func() { state = m.state })
	return state
}

// Providers returns the providers offered in the last handshake
func (m *Manager) Providers() []entities.ProviderInfo {
	var out []entities.ProviderInfo
	m.query(func() { out = append(out, m.providers...) })
	return out
}

// SessionID is the id from the last session_ready
func (m *Manager) SessionID() string {
	var id string
	m.query(func() { id = m.sessionID })
	return id
}

func (m *Manager) dial() {
	m.gen++
	gen := m.gen
	m.setState(StateConnecting)

	ctx := m.ctx
	go func() {
		conn, _, err := m.opts.dialer.DialContext(ctx, m.url, nil)
		select {
		case m.dials <- dialResult{gen: gen, conn: conn, err: err}:
		case <-m.done:
			if conn != nil {
				conn.Close()
			}
		}
	}()
}

func (m *Manager) handleDial(d dialResult) {
	if d.gen != m.gen {
		if d.conn != nil {
			d.conn.Close()
		}
		return
	}
	if d.err != nil {
		m.opts.logger.Warn("Failed to connect to gateway", zap.Error(d.err))
		m.handleLoss()
		return
	}

	m.conn = d.conn
	m.attempts = 0
	go m.readPump(d.gen, d.conn)
}

func (m *Manager) readPump(gen int, conn *websocket.Conn) {
	for {
		msgType, payload, err := conn.ReadMessage()
		select {
		case m.frames <- frame{gen: gen, msgType: msgType, payload: payload, err: err}:
		case <-m.done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (m *Manager) handleFrame(f frame) {
	if f.gen != m.gen || m.conn == nil {
		return
	}
	if f.err != nil {
		m.opts.logger.Info("Gateway connection closed", zap.Error(f.err))
		m.closeConn()
		m.notifyDisconnect()
		m.handleLoss()
		return
	}

	if f.msgType == websocket.BinaryMessage {
		m.player.Enqueue(f.payload)
		return
	}

	msg, err := gateway.ParseServerMessage(f.payload)
	if err != nil {
		m.opts.logger.Warn("Ignoring malformed gateway message", zap.Error(err))
		return
	}
	m.handleMessage(msg)
}

func (m *Manager) handleMessage(msg gateway.ServerMessage) {
	switch msg.Type {
	case gateway.MessageTypeHandshake:
		m.providers = msg.Providers
		if m.sessionID != "" {
			m.sendJSON(gateway.ClientMessage{Type: gateway.MessageTypeReconnect, SessionID: m.sessionID})
		}
		if m.providerID == "" {
			if len(msg.Providers) == 1 {
				m.providerID = msg.Providers[0].ID
			} else {
				m.providerID = msg.DefaultProvider
			}
		}
		if m.providerID != "" {
			m.sendSelect()
		}

	case gateway.MessageTypeSessionReady:
		m.sessionID = msg.SessionID
		m.sampleRate = msg.SampleRate
		m.setState(StateConnected)
		if cb := m.opts.callbacks.OnConnect; cb != nil {
			cb(msg.SessionID)
		}

	case gateway.MessageTypeHistory:
		m.transcript.Replace(msg.Messages)

	case gateway.MessageTypeTranscription:
		t := msg.Transcription()
		m.transcript.Merge(t)
		if cb := m.opts.callbacks.OnTranscription; cb != nil {
			cb(t)
		}

	case gateway.MessageTypeInterrupted:
		m.player.Interrupt()

	case gateway.MessageTypeTurnComplete:
		// Playback drains on its own

	case gateway.MessageTypeError:
		m.reportError(&ServerError{Code: msg.Code, Message: msg.Message})

	default:
		m.opts.logger.Debug("Ignoring gateway message", zap.String("type", string(msg.Type)))
	}
}

// handleLoss schedules a reconnect or settles in a final state
func (m *Manager) handleLoss() {
	m.sampleRate = 0
	if m.intentional || !m.opts.reconnect {
		m.setState(StateDisconnected)
		return
	}

	m.attempts++
	delay, ok := m.opts.backoff.Delay(m.attempts)
	if !ok {
		m.setState(StateError)
		m.reportError(fmt.Errorf("%w after %d attempts", ErrReconnectFailed, m.opts.backoff.MaxAttempts))
		return
	}

	m.opts.logger.Info("Reconnecting to gateway",
		zap.Int("attempt", m.attempts),
		zap.Duration("delay", delay))
	m.setState(StateDisconnected)
	m.retry = time.NewTimer(delay)
	m.retryC = m.retry.C
}

func (m *Manager) stopRetry() {
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
	m.retryC = nil
}

func (m *Manager) closeConn() {
	// Stale reads and dials are discarded by generation
	m.gen++
	if m.conn == nil {
		return
	}
	m.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	m.conn.Close()
	m.conn = nil
}

func (m *Manager) sendSelect() {
	m.sendJSON(gateway.ClientMessage{
		Type:       gateway.MessageTypeSelectProvider,
		ProviderID: m.providerID,
		VoiceID:    m.voiceID,
	})
}

func (m *Manager) sendJSON(msg gateway.ClientMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		m.opts.logger.Error("Failed to marshal message", zap.Error(err))
		return
	}
	m.write(websocket.TextMessage, payload)
}

// write sends a frame if connected. Failures surface through the read pump.
func (m *Manager) write(msgType int, payload []byte) {
	if m.conn == nil {
		return
	}
	m.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := m.conn.WriteMessage(msgType, payload); err != nil {
		m.opts.logger.Warn("Failed to write to gateway", zap.Error(err))
	}
}

func (m *Manager) setState(state State) {
	if m.state == state {
		return
	}
	m.state = state
	if cb := m.opts.callbacks.OnStateChange; cb != nil {
		cb(state)
	}
}

func (m *Manager) notifyDisconnect() {
	if cb := m.opts.callbacks.OnDisconnect; cb != nil {
		cb()
	}
}

func (m *Manager) reportError(err error) {
	if cb := m.opts.callbacks.OnError; cb != nil {
		cb(err)
	}
}
