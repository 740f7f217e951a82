// Package upstream owns the duplex session against the conversational AI
// provider for the lifetime of one interview session: connect handshake,
// audio/text sends, and a receive loop that decodes provider frames into a
// closed event union and assembles transcript turns.
package upstream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talentwire/voicebridge/pkg/core"
	"github.com/talentwire/voicebridge/pkg/core/interview"
	"github.com/talentwire/voicebridge/pkg/gateway/live/transcript"
)

const (
	defaultQueueSize        = 256
	defaultHandshakeTimeout = 15 * time.Second
	defaultInputSampleRate  = 16000

	closeWriteTimeout = 2 * time.Second
)

// Config carries everything the manager needs to reach the provider. The
// credential is injected here; there is no process-wide provider client.
type Config struct {
	URL   string
	Key   string
	Model string

	Kind        interview.Kind
	SeedContext json.RawMessage

	// QueueSize bounds the event channel between the receive loop and the
	// relay's outbound forwarder; a slow client write backpressures here.
	QueueSize        int
	HandshakeTimeout time.Duration
	InputSampleRate  int

	Logger *slog.Logger

	// Dialer overrides the websocket dialer, for tests.
	Dialer *websocket.Dialer
}

// Manager is the upstream connection manager for one session. SendAudio and
// SendText are safe to call from the relay's inbound task while the receive
// loop runs; Close is idempotent and safe after a failed Connect.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	asm    *transcript.Assembler
	events chan Event

	// closeCh unblocks an emit stuck on a full event channel; done closes
	// when the receive loop exits.
	closeCh chan struct{}
	done    chan struct{}

	writeMu sync.Mutex
	conn    *websocket.Conn

	closeOnce   sync.Once
	closed      atomic.Bool
	loopStarted atomic.Bool

	turnsMu sync.Mutex
	turns   []interview.Turn

	resumeMu     sync.Mutex
	resumeHandle string

	reconnects atomic.Int64
}

// New validates the config and applies defaults. It does not touch the
// network; call Connect for that.
func New(cfg Config) (*Manager, error) {
	if cfg.URL == "" {
		return nil, core.NewInvalidRequestErrorWithParam("upstream url is required", "url")
	}
	if cfg.Model == "" {
		return nil, core.NewInvalidRequestErrorWithParam("upstream model is required", "model")
	}
	if !cfg.Kind.Valid() {
		return nil, core.NewInvalidRequestErrorWithParam(fmt.Sprintf("unknown session kind %q", cfg.Kind), "kind")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.InputSampleRate <= 0 {
		cfg.InputSampleRate = defaultInputSampleRate
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "upstream"),
		asm:     transcript.NewAssembler(),
		events:  make(chan Event, cfg.QueueSize),
		closeCh: make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Connect dials the provider, submits the kind's setup frame, and waits for
// the acknowledgment under the handshake deadline. On success the receive
// loop starts. A failure is returned as an upstream_error and never hangs.
func (m *Manager) Connect(ctx context.Context) error {
	if m.closed.Load() {
		return core.NewUpstreamError("manager is closed", nil)
	}
	if m.loopStarted.Load() {
		return core.NewUpstreamError("already connected", nil)
	}

	conn, err := m.dial(ctx)
	if err != nil {
		return err
	}
	if m.closed.Load() {
		_ = conn.Close()
		return core.NewUpstreamError("manager is closed", nil)
	}

	m.writeMu.Lock()
	m.conn = conn
	m.writeMu.Unlock()

	m.loopStarted.Store(true)
	go m.readLoop()
	return nil
}

// dial establishes one socket and runs the setup handshake. Used by Connect
// and by the read-side redial after a benign provider reset.
func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := m.cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: m.cfg.HandshakeTimeout}
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.HandshakeTimeout)
	defer cancel()

	header := make(http.Header)
	if m.cfg.Key != "" {
		header.Set("x-goog-api-key", m.cfg.Key)
	}

	conn, resp, err := dialer.DialContext(dialCtx, m.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return nil, core.NewUpstreamError(fmt.Sprintf("provider dial failed (status %d)", resp.StatusCode), err)
		}
		return nil, core.NewUpstreamError("provider unreachable", err)
	}

	// The context only guards the socket dial; the setup exchange below
	// needs its own escape hatch so cancellation cuts a hung ack read.
	ackDone := make(chan struct{})
	defer close(ackDone)
	go func() {
		select {
		case <-dialCtx.Done():
			_ = conn.Close()
		case <-ackDone:
		}
	}()

	if err := conn.WriteJSON(m.buildSetup()); err != nil {
		_ = conn.Close()
		return nil, core.NewUpstreamError("send setup", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(m.cfg.HandshakeTimeout))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, core.NewUpstreamError("provider rejected setup", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	events, err := decodeServerFrame(payload)
	if err != nil {
		_ = conn.Close()
		return nil, core.NewUpstreamError("decode setup ack", err)
	}
	for _, ev := range events {
		if _, ok := ev.(setupCompleteEvent); ok {
			return conn, nil
		}
	}
	_ = conn.Close()
	return nil, core.NewUpstreamError("provider did not acknowledge setup", nil)
}

func (m *Manager) buildSetup() setupMessage {
	empty := struct{}{}
	payload := setupPayload{
		Model: m.cfg.Model,
		SystemInstruction: &contentPayload{
			Parts: []partPayload{{Text: systemInstruction(m.cfg.Kind, m.cfg.SeedContext)}},
		},
		GenerationConfig:         &generationConfig{ResponseModalities: []string{"AUDIO"}},
		InputAudioTranscription:  &empty,
		OutputAudioTranscription: &empty,
	}
	m.resumeMu.Lock()
	if m.resumeHandle != "" {
		payload.SessionResumption = &sessionResumption{Handle: m.resumeHandle}
	}
	m.resumeMu.Unlock()
	return setupMessage{Setup: payload}
}

// Events yields the manager's output queue: audio, transcription, and
// turn_complete events in production order. The channel closes when the
// provider connection is gone for good.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// SendAudio forwards one chunk of caller PCM to the provider. A send after
// close is a logged no-op; audio arriving just after teardown is expected.
func (m *Manager) SendAudio(pcm []byte) {
	if m.closed.Load() {
		m.logger.Debug("dropping audio frame after close", "bytes", len(pcm))
		return
	}
	msg := realtimeInputMessage{
		RealtimeInput: realtimeInputPayload{
			Audio: &inlineData{
				MimeType: fmt.Sprintf("audio/pcm;rate=%d", m.cfg.InputSampleRate),
				Data:     base64.StdEncoding.EncodeToString(pcm),
			},
		},
	}
	if err := m.writeJSON(msg); err != nil {
		m.logger.Warn("audio send failed", "error", err)
	}
}

// SendText submits a synthetic user utterance and signals end-of-turn. Used
// for the kind-specific opening line and for text-driven automation.
func (m *Manager) SendText(text string) error {
	if m.closed.Load() {
		return core.NewUpstreamError("manager is closed", nil)
	}
	msg := clientContentMessage{
		ClientContent: clientContentPayload{
			Turns: []contentPayload{{
				Role:  "user",
				Parts: []partPayload{{Text: text}},
			}},
			TurnComplete: true,
		},
	}
	if err := m.writeJSON(msg); err != nil {
		return core.NewUpstreamError("text send failed", err)
	}
	return nil
}

func (m *Manager) writeJSON(v any) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if m.conn == nil {
		return fmt.Errorf("not connected")
	}
	return m.conn.WriteJSON(v)
}

func (m *Manager) currentConn() *websocket.Conn {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return m.conn
}

// readLoop consumes provider frames until the connection is gone. Faults on
// individual frames are logged and skipped; the loop itself ending is the
// signal that the provider closed.
func (m *Manager) readLoop() {
	defer close(m.done)
	defer close(m.events)

	// One redial per drop; a successful read restores the budget.
	redialBudget := 1

	for {
		conn := m.currentConn()
		if conn == nil {
			return
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			if m.closed.Load() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				m.logger.Info("provider closed the stream")
				return
			}
			if redialBudget > 0 && m.redial(err) {
				redialBudget--
				continue
			}
			m.logger.Warn("provider stream lost", "error", err)
			return
		}
		redialBudget = 1

		events, err := decodeServerFrame(data)
		if err != nil {
			m.logger.Warn("skipping provider event", "error", err)
			continue
		}
		for _, ev := range events {
			m.handleEvent(ev)
		}
	}
}

func (m *Manager) handleEvent(ev Event) {
	switch e := ev.(type) {
	case AudioEvent:
		m.emit(e)
	case InputFragmentEvent:
		m.asm.AppendInput(e.Text)
	case OutputFragmentEvent:
		m.asm.AppendOutput(e.Text)
	case TurnCompleteEvent:
		turns := m.asm.OnTurnComplete()
		m.turnsMu.Lock()
		m.turns = append(m.turns, turns...)
		m.turnsMu.Unlock()
		for _, turn := range turns {
			m.emit(TranscriptionEvent{Turn: turn})
		}
		m.emit(TurnCompleteEvent{})
	case resumptionEvent:
		if e.Resumable && e.Handle != "" {
			m.resumeMu.Lock()
			m.resumeHandle = e.Handle
			m.resumeMu.Unlock()
		}
	case goAwayEvent:
		m.logger.Info("provider announced stream reset", "time_left", e.TimeLeft)
	case setupCompleteEvent:
		// Late ack after a redial; nothing to do.
	}
}

// emit blocks until the relay drains the queue, giving backpressure against a
// slow client socket. Close unblocks it.
func (m *Manager) emit(ev Event) {
	select {
	case m.events <- ev:
	case <-m.closeCh:
	}
}

// redial re-establishes only the read side after a benign provider reset,
// reusing the resumption handle so the conversation continues. The session
// itself is untouched.
func (m *Manager) redial(cause error) bool {
	if m.closed.Load() {
		return false
	}
	m.logger.Warn("provider stream reset, redialing", "error", cause)

	// Close must be able to cut a redial short; closeCh cancels the dial.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-m.closeCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	conn, err := m.dial(ctx)
	if err != nil {
		m.logger.Warn("redial failed", "error", err)
		return false
	}
	if m.closed.Load() {
		_ = conn.Close()
		return false
	}

	m.writeMu.Lock()
	old := m.conn
	m.conn = conn
	m.writeMu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	m.reconnects.Add(1)
	return true
}

// Reconnects reports how many times the provider stream was re-established.
func (m *Manager) Reconnects() int64 {
	return m.reconnects.Load()
}

// Close cancels the receive loop, closes the provider stream, and flushes any
// unterminated transcript buffers. Idempotent; safe to call multiple times or
// after a failed Connect.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		close(m.closeCh)

		m.writeMu.Lock()
		if m.conn != nil {
			_ = m.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(closeWriteTimeout))
			_ = m.conn.Close()
		}
		m.writeMu.Unlock()

		if m.loopStarted.Load() {
			<-m.done
		}

		// The receive loop has exited; the assembler is ours now.
		flushed := m.asm.FlushRemaining()
		if len(flushed) > 0 {
			m.turnsMu.Lock()
			m.turns = append(m.turns, flushed...)
			m.turnsMu.Unlock()
		}
	})
}

// Transcript returns the ordered turns closed so far. After Close it includes
// the teardown flush, so no spoken content is lost.
func (m *Manager) Transcript() []interview.Turn {
	m.turnsMu.Lock()
	defer m.turnsMu.Unlock()
	out := make([]interview.Turn, len(m.turns))
	copy(out, m.turns)
	return out
}
