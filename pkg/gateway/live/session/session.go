// Package session runs the relay loop for one attached interview session:
// two concurrent tasks bridging the client-facing WebSocket and the upstream
// provider connection, plus a dedicated socket writer.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talentwire/voicebridge/pkg/gateway/live/protocol"
	"github.com/talentwire/voicebridge/pkg/gateway/live/upstream"
)

// Reason is the explicit outcome of a relay run. The lifecycle controller
// decides the transcript-dispatch branch from it; nothing is inferred from
// exception shapes.
type Reason string

const (
	ReasonCancelled      Reason = "cancelled"
	ReasonStopped        Reason = "stopped"
	ReasonDisconnected   Reason = "disconnected"
	ReasonUpstreamClosed Reason = "upstream_closed"
	ReasonError          Reason = "error"
)

// NormalEnd reports whether the reason is a normal termination for the
// transcript-dispatch decision. Only an explicit cancel withholds dispatch.
func (r Reason) NormalEnd() bool {
	return r != ReasonCancelled
}

// Termination is the relay's exit value.
type Termination struct {
	Reason Reason
	Err    error
}

// Upstream is the slice of the connection manager the relay uses. SendAudio
// and SendText are called from the inbound task while the manager's receive
// loop populates Events concurrently.
type Upstream interface {
	Events() <-chan upstream.Event
	SendAudio(pcm []byte)
	SendText(text string) error
}

type Config struct {
	PingInterval time.Duration
	WriteTimeout time.Duration

	// MaxSessionDuration ends an in-progress session as a normal stop after
	// a warning. Zero disables the cap.
	MaxSessionDuration time.Duration

	OutboundQueueSize int

	// LogFrameEvery controls the advisory audio-frame counters' debug
	// logging period. Not part of the relay contract.
	LogFrameEvery int
}

type Dependencies struct {
	Conn      *websocket.Conn
	Upstream  Upstream
	Logger    *slog.Logger
	SessionID string
	Config    Config
}

// Relay owns the inbound reader and outbound forwarder for one session.
type Relay struct {
	conn      *websocket.Conn
	up        Upstream
	logger    *slog.Logger
	sessionID string
	cfg       Config

	ctx    context.Context
	cancel context.CancelFunc

	outboundPriority chan []byte // control envelopes
	outboundNormal   chan outboundFrame

	// writerFault holds the writer's exit error, stored before the writer
	// cancels r.ctx. It distinguishes a dead-client teardown from an
	// explicit Cancel when the main loop unblocks on ctx.Done.
	writerFault atomic.Value // error

	inboundAudioFrames  atomic.Int64
	outboundAudioFrames atomic.Int64
}

// errRelayClosed marks an enqueue that was cut short by relay teardown
// rather than by a frame-level failure.
var errRelayClosed = errors.New("relay closed")

type inboundFrame struct {
	messageType int
	data        []byte
	err         error
}

func New(deps Dependencies) (*Relay, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if deps.Upstream == nil {
		return nil, fmt.Errorf("upstream manager is required")
	}
	cfg := deps.Config
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 20 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.OutboundQueueSize <= 0 {
		cfg.OutboundQueueSize = 128
	}
	if cfg.LogFrameEvery <= 0 {
		cfg.LogFrameEvery = 500
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Relay{
		conn:             deps.Conn,
		up:               deps.Upstream,
		logger:           logger.With("component", "relay", "session_id", deps.SessionID),
		sessionID:        deps.SessionID,
		cfg:              cfg,
		ctx:              ctx,
		cancel:           cancel,
		outboundPriority: make(chan []byte, 16),
		outboundNormal:   make(chan outboundFrame, cfg.OutboundQueueSize),
	}, nil
}

// Cancel hard-stops the relay; Run returns ReasonCancelled. Used by the
// session tracker during forced shutdown.
func (r *Relay) Cancel() {
	r.cancel()
}

// Warn pushes a status envelope ahead of queued audio. Used for drain
// notices and the max-duration warning.
func (r *Relay) Warn(message string) error {
	payload, err := protocol.EncodeControl(protocol.EnvelopeStatus, message)
	if err != nil {
		return err
	}
	select {
	case r.outboundPriority <- payload:
		return nil
	case <-r.ctx.Done():
		return r.ctx.Err()
	default:
		return errors.New("priority queue full")
	}
}

// FrameCounts reports the audio frames relayed in each direction. Stable
// once Run has returned.
func (r *Relay) FrameCounts() (inbound, outbound int64) {
	return r.inboundAudioFrames.Load(), r.outboundAudioFrames.Load()
}

// Run drives the relay until a terminal event: a client command, a client
// disconnect, the provider closing, cancellation, or a write failure. Either
// direction ending tears down the other before Run returns.
func (r *Relay) Run(ctx context.Context) Termination {
	defer r.cancel()

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	inbound := make(chan inboundFrame, 64)
	go r.readLoop(inbound)

	writerErr := make(chan error, 1)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		w := &outboundWriter{
			ws:       r.conn,
			ctx:      r.ctx,
			cfg:      r.cfg,
			priority: r.outboundPriority,
			normal:   r.outboundNormal,
		}
		err := w.Run()
		if err != nil {
			// A failed writer must tear down the whole relay even while
			// the main loop is blocked queueing outbound frames.
			r.writerFault.Store(err)
			r.cancel()
		}
		writerErr <- err
	}()

	var durationWarn, durationStop <-chan time.Time
	if r.cfg.MaxSessionDuration > 0 {
		warnLead := 30 * time.Second
		if warnLead >= r.cfg.MaxSessionDuration {
			warnLead = r.cfg.MaxSessionDuration / 2
		}
		warnTimer := time.NewTimer(r.cfg.MaxSessionDuration - warnLead)
		stopTimer := time.NewTimer(r.cfg.MaxSessionDuration)
		defer warnTimer.Stop()
		defer stopTimer.Stop()
		durationWarn = warnTimer.C
		durationStop = stopTimer.C
	}

	term := r.loop(runCtx, inbound, writerErr, durationWarn, durationStop)

	// Tear down the writer and unblock the reader, then give the writer a
	// moment to flush priority frames and send the close frame.
	r.cancel()
	select {
	case <-writerDone:
	case <-time.After(r.cfg.WriteTimeout):
	}
	_ = r.conn.Close()

	r.logger.Info("relay ended",
		"reason", string(term.Reason),
		"inbound_audio_frames", r.inboundAudioFrames.Load(),
		"outbound_audio_frames", r.outboundAudioFrames.Load(),
	)
	return term
}

func (r *Relay) loop(ctx context.Context, inbound <-chan inboundFrame, writerErr <-chan error, durationWarn, durationStop <-chan time.Time) Termination {
	for {
		select {
		case <-ctx.Done():
			return Termination{Reason: ReasonCancelled}

		case <-r.ctx.Done():
			return r.teardownTermination()

		case err := <-writerErr:
			if err != nil {
				r.logger.Warn("client socket write failed", "error", err)
				return Termination{Reason: ReasonDisconnected, Err: err}
			}
			return Termination{Reason: ReasonDisconnected}

		case <-durationWarn:
			if err := r.Warn("session_time_limit_approaching"); err != nil {
				r.logger.Debug("duration warning not delivered", "error", err)
			}

		case <-durationStop:
			r.logger.Info("max session duration reached")
			return Termination{Reason: ReasonStopped}

		case frame := <-inbound:
			if frame.err != nil {
				return Termination{Reason: ReasonDisconnected}
			}
			if term, ok := r.handleInbound(frame); ok {
				return term
			}

		case ev, ok := <-r.up.Events():
			if !ok {
				return Termination{Reason: ReasonUpstreamClosed}
			}
			if err := r.forward(ev); err != nil {
				if errors.Is(err, errRelayClosed) {
					return r.teardownTermination()
				}
				return Termination{Reason: ReasonError, Err: err}
			}
		}
	}
}

// teardownTermination resolves an r.ctx teardown to its cause: a writer
// failure is a client disconnect, everything else is an explicit cancel.
func (r *Relay) teardownTermination() Termination {
	if err, ok := r.writerFault.Load().(error); ok {
		return Termination{Reason: ReasonDisconnected, Err: err}
	}
	return Termination{Reason: ReasonCancelled}
}

// handleInbound dispatches one client frame. Returns a termination and true
// when the frame ends the session.
func (r *Relay) handleInbound(frame inboundFrame) (Termination, bool) {
	decoded, err := protocol.DecodeIncoming(frame.messageType == websocket.BinaryMessage, frame.data)
	if err != nil {
		// Malformed frames are logged and dropped, never fatal.
		r.logger.Warn("dropping malformed client frame", "error", err)
		return Termination{}, false
	}

	switch msg := decoded.(type) {
	case protocol.AudioFrame:
		r.up.SendAudio(msg.PCM)
		if n := r.inboundAudioFrames.Add(1); n%int64(r.cfg.LogFrameEvery) == 0 {
			r.logger.Debug("inbound audio progress", "frames", n)
		}
	case protocol.ClientCommand:
		switch msg.Command {
		case protocol.CommandStopSession:
			return Termination{Reason: ReasonStopped}, true
		case protocol.CommandCancelSession:
			return Termination{Reason: ReasonCancelled}, true
		case protocol.CommandSendText:
			if err := r.up.SendText(msg.Text); err != nil {
				r.logger.Warn("text forward failed", "error", err)
			}
		default:
			r.logger.Debug("ignoring unknown command", "command", msg.Command)
		}
	}
	return Termination{}, false
}

// forward translates one upstream event into a client frame and queues it in
// production order.
func (r *Relay) forward(ev upstream.Event) error {
	switch e := ev.(type) {
	case upstream.AudioEvent:
		frame := protocol.EncodeAudioFrame(protocol.DirectionServerToClient, e.PCM)
		if err := r.enqueueNormal(outboundFrame{binaryPayload: frame}); err != nil {
			return err
		}
		if n := r.outboundAudioFrames.Add(1); n%int64(r.cfg.LogFrameEvery) == 0 {
			r.logger.Debug("outbound audio progress", "frames", n)
		}
	case upstream.TranscriptionEvent:
		payload, err := protocol.EncodeControl(string(e.Turn.Role), e.Turn.Text)
		if err != nil {
			return err
		}
		if err := r.enqueueNormal(outboundFrame{textPayload: payload}); err != nil {
			return err
		}
	case upstream.TurnCompleteEvent:
		payload, err := protocol.EncodeControl(protocol.EnvelopeStatus, "turn_complete")
		if err != nil {
			return err
		}
		if err := r.enqueueNormal(outboundFrame{textPayload: payload}); err != nil {
			return err
		}
	default:
		r.logger.Debug("ignoring upstream event", "event", fmt.Sprintf("%T", ev))
	}
	return nil
}

// enqueueNormal blocks until the writer drains, keeping event order and
// letting the manager's bounded channel provide end-to-end backpressure.
// Cancellation unblocks it promptly.
func (r *Relay) enqueueNormal(frame outboundFrame) error {
	select {
	case r.outboundNormal <- frame:
		return nil
	case <-r.ctx.Done():
		return errRelayClosed
	}
}

// readLoop feeds client frames to the main loop in arrival order. A read
// error (disconnect included) is delivered as the final frame.
func (r *Relay) readLoop(out chan<- inboundFrame) {
	for {
		messageType, data, err := r.conn.ReadMessage()
		if err != nil {
			select {
			case out <- inboundFrame{err: err}:
			case <-r.ctx.Done():
			}
			return
		}
		select {
		case out <- inboundFrame{messageType: messageType, data: data}:
		case <-r.ctx.Done():
			return
		}
	}
}
