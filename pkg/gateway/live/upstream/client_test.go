package upstream

import (
	"bytes"
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talentwire/voicebridge/pkg/core"
	"github.com/talentwire/voicebridge/pkg/core/interview"
)

// newProvider runs a scripted in-process provider. onSession is invoked per
// accepted connection with a 1-based connection counter; the connection is
// closed when it returns.
func newProvider(t *testing.T, onSession func(n int, conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	var (
		mu       sync.Mutex
		accepted int
	)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		mu.Lock()
		accepted++
		n := accepted
		mu.Unlock()
		onSession(n, conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// ackSetup consumes the client's setup frame and acknowledges it.
func ackSetup(t *testing.T, conn *websocket.Conn) setupMessage {
	t.Helper()
	var setup setupMessage
	if err := conn.ReadJSON(&setup); err != nil {
		t.Errorf("read setup: %v", err)
		return setup
	}
	if err := conn.WriteJSON(map[string]any{"setupComplete": map[string]any{}}); err != nil {
		t.Errorf("write setup ack: %v", err)
	}
	return setup
}

// closeNormal performs an orderly websocket shutdown from the provider side.
func closeNormal(conn *websocket.Conn) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, _ = conn.ReadMessage()
}

func newTestManager(t *testing.T, srv *httptest.Server) *Manager {
	t.Helper()
	m, err := New(Config{
		URL:   wsURL(srv),
		Key:   "test-key",
		Model: "models/gemini-2.0-flash-live-001",
		Kind:  interview.KindScreening,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return m
}

func nextEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatalf("event channel closed early")
		}
		return ev
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return nil
}

func TestConnect_HandshakeAndTranscription(t *testing.T) {
	srv := newProvider(t, func(_ int, conn *websocket.Conn) {
		setup := ackSetup(t, conn)
		if setup.Setup.Model != "models/gemini-2.0-flash-live-001" {
			t.Errorf("setup model = %q", setup.Setup.Model)
		}
		if setup.Setup.SystemInstruction == nil || len(setup.Setup.SystemInstruction.Parts) == 0 {
			t.Errorf("setup carried no system instruction")
		}
		if setup.Setup.InputAudioTranscription == nil || setup.Setup.OutputAudioTranscription == nil {
			t.Errorf("setup did not enable transcription")
		}
		_ = conn.WriteJSON(map[string]any{"serverContent": map[string]any{
			"inputTranscription": map[string]any{"text": "I led the data migration."},
		}})
		_ = conn.WriteJSON(map[string]any{"serverContent": map[string]any{
			"outputTranscription": map[string]any{"text": "What was the hardest part?"},
		}})
		_ = conn.WriteJSON(map[string]any{"serverContent": map[string]any{"turnComplete": true}})
		closeNormal(conn)
	})

	m := newTestManager(t, srv)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer m.Close()

	ev := nextEvent(t, m.Events())
	tr, ok := ev.(TranscriptionEvent)
	if !ok {
		t.Fatalf("first event = %#v, want transcription", ev)
	}
	if tr.Turn.Role != interview.RoleUser || tr.Turn.Text != "I led the data migration." {
		t.Fatalf("first turn = %+v", tr.Turn)
	}

	ev = nextEvent(t, m.Events())
	tr, ok = ev.(TranscriptionEvent)
	if !ok {
		t.Fatalf("second event = %#v, want transcription", ev)
	}
	if tr.Turn.Role != interview.RoleAssistant || tr.Turn.Text != "What was the hardest part?" {
		t.Fatalf("second turn = %+v", tr.Turn)
	}

	ev = nextEvent(t, m.Events())
	if _, ok := ev.(TurnCompleteEvent); !ok {
		t.Fatalf("third event = %#v, want turn complete", ev)
	}

	select {
	case _, open := <-m.Events():
		if open {
			t.Fatalf("expected event channel to close after provider shutdown")
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("event channel did not close after provider shutdown")
	}

	m.Close()
	turns := m.Transcript()
	if len(turns) != 2 {
		t.Fatalf("transcript turns = %d, want 2", len(turns))
	}
	if turns[0].Role != interview.RoleUser || turns[1].Role != interview.RoleAssistant {
		t.Fatalf("transcript roles = %q, %q", turns[0].Role, turns[1].Role)
	}
}

func TestConnect_ProviderUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	m := newTestManager(t, srv)
	err := m.Connect(context.Background())
	if err == nil {
		t.Fatalf("Connect() expected error")
	}
	if !core.IsType(err, core.ErrUpstream) {
		t.Fatalf("error type = %v, want upstream_error", err)
	}

	// Close after a failed connect must not hang on the receive loop.
	done := make(chan struct{})
	go func() {
		m.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Close() hung after failed Connect()")
	}
}

func TestConnect_SetupRejected(t *testing.T) {
	srv := newProvider(t, func(_ int, conn *websocket.Conn) {
		// Drop without acknowledging setup.
		var setup setupMessage
		_ = conn.ReadJSON(&setup)
	})

	m := newTestManager(t, srv)
	err := m.Connect(context.Background())
	if err == nil {
		t.Fatalf("Connect() expected error")
	}
	if !core.IsType(err, core.ErrUpstream) {
		t.Fatalf("error type = %v, want upstream_error", err)
	}
}

func TestSendAudio_OrderPreserved(t *testing.T) {
	received := make(chan []byte, 16)
	srv := newProvider(t, func(_ int, conn *websocket.Conn) {
		ackSetup(t, conn)
		for {
			var msg realtimeInputMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.RealtimeInput.Audio == nil {
				continue
			}
			pcm, err := base64.StdEncoding.DecodeString(msg.RealtimeInput.Audio.Data)
			if err != nil {
				t.Errorf("decode audio payload: %v", err)
				return
			}
			if !strings.HasPrefix(msg.RealtimeInput.Audio.MimeType, "audio/pcm;rate=") {
				t.Errorf("audio mime type = %q", msg.RealtimeInput.Audio.MimeType)
			}
			received <- pcm
		}
	})

	m := newTestManager(t, srv)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer m.Close()

	frames := [][]byte{{0x01}, {0x02, 0x02}, {0x03, 0x03, 0x03}, {0x04}}
	for _, f := range frames {
		m.SendAudio(f)
	}
	for i, want := range frames {
		select {
		case got := <-received:
			if !bytes.Equal(got, want) {
				t.Fatalf("frame %d = %v, want %v", i, got, want)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for frame %d", i)
		}
	}
}

func TestSendText_SignalsTurnComplete(t *testing.T) {
	texts := make(chan clientContentMessage, 1)
	srv := newProvider(t, func(_ int, conn *websocket.Conn) {
		ackSetup(t, conn)
		var msg clientContentMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Errorf("read client content: %v", err)
			return
		}
		texts <- msg
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, _ = conn.ReadMessage()
	})

	m := newTestManager(t, srv)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer m.Close()

	if err := m.SendText("Hello, I am ready to begin."); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}

	select {
	case msg := <-texts:
		if !msg.ClientContent.TurnComplete {
			t.Fatalf("client content did not signal turn complete")
		}
		if len(msg.ClientContent.Turns) != 1 || msg.ClientContent.Turns[0].Role != "user" {
			t.Fatalf("client content turns = %+v", msg.ClientContent.Turns)
		}
		if msg.ClientContent.Turns[0].Parts[0].Text != "Hello, I am ready to begin." {
			t.Fatalf("client content text = %q", msg.ClientContent.Turns[0].Parts[0].Text)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("provider never received client content")
	}
}

func TestRedial_ResumesWithHandle(t *testing.T) {
	srv := newProvider(t, func(n int, conn *websocket.Conn) {
		switch n {
		case 1:
			ackSetup(t, conn)
			_ = conn.WriteJSON(map[string]any{"sessionResumptionUpdate": map[string]any{
				"newHandle": "h-resume-1",
				"resumable": true,
			}})
			// Drop the socket without a close frame to trigger the redial.
			time.Sleep(100 * time.Millisecond)
		case 2:
			setup := ackSetup(t, conn)
			if setup.Setup.SessionResumption == nil || setup.Setup.SessionResumption.Handle != "h-resume-1" {
				t.Errorf("redial setup resumption = %+v, want handle h-resume-1", setup.Setup.SessionResumption)
			}
			_ = conn.WriteJSON(map[string]any{"serverContent": map[string]any{"turnComplete": true}})
			closeNormal(conn)
		default:
			t.Errorf("unexpected connection %d", n)
		}
	})

	m := newTestManager(t, srv)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer m.Close()

	ev := nextEvent(t, m.Events())
	if _, ok := ev.(TurnCompleteEvent); !ok {
		t.Fatalf("event after redial = %#v, want turn complete", ev)
	}
}

func TestClose_CutsRedialShort(t *testing.T) {
	redialStarted := make(chan struct{})
	srv := newProvider(t, func(n int, conn *websocket.Conn) {
		switch n {
		case 1:
			ackSetup(t, conn)
			// Drop the socket without a close frame to trigger the redial.
		case 2:
			// Hang the redial handshake: take the setup, never ack it.
			var setup setupMessage
			_ = conn.ReadJSON(&setup)
			close(redialStarted)
			_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
			_, _, _ = conn.ReadMessage()
		default:
			t.Errorf("unexpected connection %d", n)
		}
	})

	m := newTestManager(t, srv)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	select {
	case <-redialStarted:
	case <-time.After(3 * time.Second):
		t.Fatal("redial never reached the provider")
	}

	start := time.Now()
	m.Close()
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Close() blocked %v on an in-flight redial", elapsed)
	}
}

func TestClose_Idempotent(t *testing.T) {
	srv := newProvider(t, func(_ int, conn *websocket.Conn) {
		ackSetup(t, conn)
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, _ = conn.ReadMessage()
	})

	m := newTestManager(t, srv)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	m.Close()
	m.Close()

	// Sends after close must not panic or write.
	m.SendAudio([]byte{0x01})
	if err := m.SendText("late"); err == nil {
		t.Fatalf("SendText() after close expected error")
	}
}

func TestClose_FlushesOpenTurn(t *testing.T) {
	audio := base64.StdEncoding.EncodeToString([]byte{0xAA})
	srv := newProvider(t, func(_ int, conn *websocket.Conn) {
		ackSetup(t, conn)
		// A fragment with no turn boundary, then audio as a read barrier.
		_ = conn.WriteJSON(map[string]any{"serverContent": map[string]any{
			"inputTranscription": map[string]any{"text": "one last thing"},
		}})
		_ = conn.WriteJSON(map[string]any{"serverContent": map[string]any{
			"modelTurn": map[string]any{"parts": []map[string]any{
				{"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": audio}},
			}},
		}})
		_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		_, _, _ = conn.ReadMessage()
	})

	m := newTestManager(t, srv)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	ev := nextEvent(t, m.Events())
	if _, ok := ev.(AudioEvent); !ok {
		t.Fatalf("event = %#v, want audio", ev)
	}

	m.Close()
	turns := m.Transcript()
	if len(turns) != 1 {
		t.Fatalf("transcript turns = %d, want 1", len(turns))
	}
	if turns[0].Role != interview.RoleUser || turns[0].Text != "one last thing" {
		t.Fatalf("flushed turn = %+v", turns[0])
	}
}
