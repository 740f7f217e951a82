// voicebridge-probe creates an interview session against a running gateway,
// attaches to the live socket, streams audio or text, and prints what comes
// back. It exists for manual end-to-end checks against a real provider.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talentwire/voicebridge/internal/dotenv"
	"github.com/talentwire/voicebridge/pkg/core/interview"
	"github.com/talentwire/voicebridge/pkg/gateway/auth"
	"github.com/talentwire/voicebridge/pkg/gateway/handlers"
	"github.com/talentwire/voicebridge/pkg/gateway/live/protocol"
)

// 20ms of 16kHz mono pcm_s16le.
const pcmChunkBytes = 16000 * 2 / 50

type options struct {
	gateway     string
	userToken   string
	mintSecret  string
	email       string
	name        string
	role        string
	kind        string
	companyID   string
	seedFile    string
	pcmFile     string
	say         string
	listenFor   time.Duration
	cancelAtEnd bool
}

func main() {
	os.Exit(run())
}

func run() int {
	_ = dotenv.LoadFile(".env")

	var opt options
	flag.StringVar(&opt.gateway, "gateway", "http://localhost:8080", "Gateway base URL")
	flag.StringVar(&opt.userToken, "user-token", strings.TrimSpace(os.Getenv("PROBE_USER_TOKEN")), "User bearer token (also PROBE_USER_TOKEN)")
	flag.StringVar(&opt.mintSecret, "mint-secret", strings.TrimSpace(os.Getenv("USER_TOKEN_SECRET")), "Mint a user token locally from this secret when no -user-token is given")
	flag.StringVar(&opt.email, "email", "probe@example.com", "Interviewer email for minted tokens and the create request")
	flag.StringVar(&opt.name, "name", "Probe Runner", "Interviewer name")
	flag.StringVar(&opt.role, "role", "", "Interviewer role")
	flag.StringVar(&opt.kind, "kind", "screening", "Interview kind")
	flag.StringVar(&opt.companyID, "company", "", "Company ID (required for candidate-assessment)")
	flag.StringVar(&opt.seedFile, "seed", "", "Path to a JSON file used as seed context")
	flag.StringVar(&opt.pcmFile, "pcm", "", "Path to raw pcm_s16le 16kHz mono audio to stream")
	flag.StringVar(&opt.say, "say", "", "Text line to send instead of audio")
	flag.DurationVar(&opt.listenFor, "listen", 30*time.Second, "How long to keep the socket open after sending")
	flag.BoolVar(&opt.cancelAtEnd, "cancel", false, "Send cancel_session instead of stop_session at the end")
	flag.Parse()

	if err := probe(opt); err != nil {
		fmt.Fprintln(os.Stderr, "voicebridge-probe:", err)
		return 1
	}
	return 0
}

func probe(opt options) error {
	token := opt.userToken
	if token == "" {
		if opt.mintSecret == "" {
			return fmt.Errorf("either -user-token or -mint-secret is required")
		}
		issuer, err := auth.NewTokenIssuer([]byte(opt.mintSecret), []byte(opt.mintSecret), 15*time.Minute)
		if err != nil {
			return err
		}
		token, err = issuer.MintUser(auth.Principal{
			UserID: "probe",
			Email:  opt.email,
			Name:   opt.name,
			Role:   opt.role,
		}, time.Hour)
		if err != nil {
			return err
		}
	}

	result, err := createSession(opt, token)
	if err != nil {
		return err
	}
	fmt.Printf("session %s created, attaching to %s\n", result.SessionID, result.SocketURL)

	socketURL := result.SocketURL + "&token=" + result.ScopedToken
	conn, resp, err := websocket.DefaultDialer.Dial(socketURL, nil)
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("dial: %w (status %d: %s)", err, resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		printEnvelopes(conn)
	}()

	if opt.say != "" {
		cmd, _ := json.Marshal(protocol.ClientCommand{Command: protocol.CommandSendText, Text: opt.say})
		if err := conn.WriteMessage(websocket.TextMessage, cmd); err != nil {
			return fmt.Errorf("send text: %w", err)
		}
	}
	if opt.pcmFile != "" {
		if err := streamPCM(ctx, conn, opt.pcmFile); err != nil {
			return err
		}
	}

	select {
	case <-ctx.Done():
		fmt.Println("interrupted")
	case <-readerDone:
		fmt.Println("server closed the socket")
		return nil
	case <-time.After(opt.listenFor):
	}

	command := protocol.CommandStopSession
	if opt.cancelAtEnd {
		command = protocol.CommandCancelSession
	}
	cmd, _ := json.Marshal(protocol.ClientCommand{Command: command})
	if err := conn.WriteMessage(websocket.TextMessage, cmd); err != nil {
		return fmt.Errorf("send %s: %w", command, err)
	}

	select {
	case <-readerDone:
	case <-time.After(5 * time.Second):
		fmt.Println("no close frame within 5s, giving up")
	}
	return nil
}

func createSession(opt options, token string) (handlers.CreateResult, error) {
	req := handlers.CreateRequest{
		Kind:             interview.Kind(opt.kind),
		CompanyID:        opt.companyID,
		InterviewerName:  opt.name,
		InterviewerEmail: opt.email,
		InterviewerRole:  opt.role,
	}
	if opt.seedFile != "" {
		seed, err := os.ReadFile(opt.seedFile)
		if err != nil {
			return handlers.CreateResult{}, fmt.Errorf("read seed: %w", err)
		}
		req.SeedContext = json.RawMessage(seed)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return handlers.CreateResult{}, err
	}

	url := strings.TrimRight(opt.gateway, "/") + "/v1/interviews"
	httpReq, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return handlers.CreateResult{}, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return handlers.CreateResult{}, fmt.Errorf("create session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(resp.Body)
		return handlers.CreateResult{}, fmt.Errorf("create session: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var result handlers.CreateResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return handlers.CreateResult{}, fmt.Errorf("decode create response: %w", err)
	}
	return result, nil
}

func streamPCM(ctx context.Context, conn *websocket.Conn, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open pcm: %w", err)
	}
	defer f.Close()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	buf := make([]byte, pcmChunkBytes)
	sent := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		n, err := f.Read(buf)
		if n > 0 {
			frame := protocol.EncodeAudioFrame(protocol.DirectionClientToServer, buf[:n])
			if werr := conn.WriteMessage(websocket.BinaryMessage, frame); werr != nil {
				return fmt.Errorf("send audio: %w", werr)
			}
			sent += n
		}
		if err == io.EOF {
			fmt.Printf("streamed %d bytes of audio\n", sent)
			return nil
		}
		if err != nil {
			return fmt.Errorf("read pcm: %w", err)
		}
	}
}

func printEnvelopes(conn *websocket.Conn) {
	assistantBytes := 0
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if assistantBytes > 0 {
				fmt.Printf("received %d bytes of assistant audio\n", assistantBytes)
			}
			if closeErr, ok := err.(*websocket.CloseError); ok {
				fmt.Printf("closed: code=%d reason=%q\n", closeErr.Code, closeErr.Text)
			} else {
				fmt.Printf("read: %v\n", err)
			}
			return
		}
		if msgType == websocket.BinaryMessage {
			frame, err := protocol.DecodeAudioFrame(data)
			if err != nil {
				fmt.Printf("bad audio frame: %v\n", err)
				continue
			}
			assistantBytes += len(frame.PCM)
			continue
		}
		var env protocol.ServerEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			fmt.Printf("bad envelope: %s\n", data)
			continue
		}
		fmt.Printf("[%s] %s: %s\n",
			time.UnixMilli(env.Timestamp).Format("15:04:05.000"), env.Type, env.Content)
	}
}
