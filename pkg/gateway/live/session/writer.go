package session

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

type wsWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
}

type outboundFrame struct {
	textPayload   []byte
	binaryPayload []byte
}

// outboundWriter is the single goroutine allowed to write to the client
// socket. Control envelopes on the priority channel preempt queued audio;
// a ping ticker keeps the connection alive through silence.
type outboundWriter struct {
	ws       wsWriter
	ctx      context.Context
	cfg      Config
	priority <-chan []byte
	normal   <-chan outboundFrame
}

func (w *outboundWriter) Run() error {
	pingTicker := time.NewTicker(w.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			w.flushPriorityOnShutdown()
			_ = w.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(w.cfg.WriteTimeout))
			return nil
		default:
		}

		// Hard priority: drain control envelopes before touching audio.
		select {
		case payload := <-w.priority:
			if err := w.writeText(payload); err != nil {
				return err
			}
			continue
		default:
		}

		select {
		case <-w.ctx.Done():
			continue
		case <-pingTicker.C:
			if err := w.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(w.cfg.WriteTimeout)); err != nil {
				return err
			}
		case payload := <-w.priority:
			if err := w.writeText(payload); err != nil {
				return err
			}
		case frame := <-w.normal:
			if err := w.writeFrame(frame); err != nil {
				return err
			}
		}
	}
}

// flushPriorityOnShutdown gives queued warnings a short window to reach the
// client before the close frame.
func (w *outboundWriter) flushPriorityOnShutdown() {
	deadline := time.Now().Add(100 * time.Millisecond)
	for i := 0; i < 8 && time.Now().Before(deadline); i++ {
		select {
		case payload := <-w.priority:
			_ = w.writeText(payload)
		default:
			return
		}
	}
}

func (w *outboundWriter) writeText(payload []byte) error {
	if err := w.ws.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout)); err != nil {
		return err
	}
	return w.ws.WriteMessage(websocket.TextMessage, payload)
}

func (w *outboundWriter) writeFrame(frame outboundFrame) error {
	if len(frame.textPayload) > 0 {
		return w.writeText(frame.textPayload)
	}
	if len(frame.binaryPayload) > 0 {
		if err := w.ws.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout)); err != nil {
			return err
		}
		return w.ws.WriteMessage(websocket.BinaryMessage, frame.binaryPayload)
	}
	return nil
}
