package transcriber

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// Audio is streamed to the engine in fixed-size frames.
const sendChunkSize = 3200

// WSEngine is a client for a WebSocket speech recognition engine. The engine
// accepts binary audio frames, emits JSON result messages and closes the
// stream after receiving {"eof": 1}.
type WSEngine struct {
	serverURL  string
	token      string
	sampleRate int
	locale     string

	mu         sync.Mutex
	authorized bool
}

type engineResult struct {
	Text    string `json:"text"`
	Partial string `json:"partial"`
	Error   string `json:"error"`
}

type engineStatus struct {
	Status string `json:"status"`
}

// NewWSEngine configures a client for the engine at serverURL. Authorization
// must be obtained through Authorize before transcribing.
func NewWSEngine(serverURL, token string, sampleRate int, locale string) *WSEngine {
	return &WSEngine{
		serverURL:  strings.TrimRight(serverURL, "/"),
		token:      token,
		sampleRate: sampleRate,
		locale:     locale,
	}
}

func (e *WSEngine) endpoint() string {
	return fmt.Sprintf("%s/ws?sample_rate=%d&lang=%s", e.serverURL, e.sampleRate, e.locale)
}

func (e *WSEngine) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if e.token != "" {
		header.Add("Authorization", "Bearer "+e.token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, e.endpoint(), header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("engine rejected token: %w", ErrUnauthorized)
		}
		return nil, fmt.Errorf("connect to recognition engine: %w", err)
	}
	return conn, nil
}

// Authorize performs the one-shot authorization handshake. It is called once
// at process start; the engine answers the first connect with a status
// message confirming or denying access.
func (e *WSEngine) Authorize(ctx context.Context) error {
	conn, err := e.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	var status engineStatus
	if err := conn.ReadJSON(&status); err != nil {
		return fmt.Errorf("read engine status: %w", err)
	}
	if status.Status != "ready" {
		return fmt.Errorf("engine status %q: %w", status.Status, ErrUnauthorized)
	}

	e.mu.Lock()
	e.authorized = true
	e.mu.Unlock()
	return nil
}

// Authorized reports whether the handshake has succeeded.
func (e *WSEngine) Authorized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.authorized
}

// Transcribe streams the recording to the engine and returns the final
// transcript. Partial results are discarded; final segments are joined in
// arrival order. An empty transcript is returned as a success.
func (e *WSEngine) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if !e.Authorized() {
		return "", ErrUnauthorized
	}

	conn, err := e.dial(ctx)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	var status engineStatus
	if err := conn.ReadJSON(&status); err != nil {
		return "", fmt.Errorf("read engine status: %w", err)
	}
	if status.Status != "ready" {
		return "", fmt.Errorf("engine status %q: %w", status.Status, ErrUnauthorized)
	}

	for off := 0; off < len(audio); off += sendChunkSize {
		end := off + sendChunkSize
		if end > len(audio) {
			end = len(audio)
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, audio[off:end]); err != nil {
			return "", fmt.Errorf("%w: send audio: %v", ErrRecognition, err)
		}
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"eof": 1}`)); err != nil {
		return "", fmt.Errorf("%w: send eof: %v", ErrRecognition, err)
	}

	var full strings.Builder
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			// Only a genuine close frame marks the end of recognition. Any
			// other read failure (reset, timeout) means the result stream
			// was cut short and the finals collected so far are not the
			// complete transcript.
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return full.String(), nil
			}
			return "", fmt.Errorf("%w: %v", ErrRecognition, err)
		}

		var result engineResult
		if err := json.Unmarshal(message, &result); err != nil {
			return "", fmt.Errorf("%w: parse result: %v", ErrRecognition, err)
		}
		if result.Error != "" {
			return "", fmt.Errorf("%w: %s", ErrRecognition, result.Error)
		}
		if result.Partial != "" {
			// Intermediate result, ignored.
			continue
		}
		if result.Text != "" {
			if full.Len() > 0 {
				full.WriteString(" ")
			}
			full.WriteString(result.Text)
		}
	}
}
