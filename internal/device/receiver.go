package device

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Handler consumes one arrival event: audio bytes plus the suggested
// filename. It returns the FileID assigned to the stored recording.
type Handler func(data []byte, suggestedName string) (string, error)

// transferHeader announces the next binary frame on the wire.
type transferHeader struct {
	Filename string `json:"filename"`
}

type transferAck struct {
	FileID string `json:"file_id,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Receiver accepts recordings from a paired device over WebSocket. Each
// transfer is a text frame naming the file followed by one binary frame with
// the audio bytes; the receiver answers every transfer with an ack.
type Receiver struct {
	addr     string
	handler  Handler
	upgrader websocket.Upgrader

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func NewReceiver(addr string, handler Handler) *Receiver {
	return &Receiver{addr: addr, handler: handler}
}

// Start listens for device connections until Stop is called.
func (r *Receiver) Start() error {
	listener, err := net.Listen("tcp", r.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", r.addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/transfer", r)
	server := &http.Server{Handler: mux}

	r.mu.Lock()
	r.listener = listener
	r.server = server
	r.mu.Unlock()

	log.Printf("Device receiver listening on %s", listener.Addr())
	if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("device receiver: %w", err)
	}
	return nil
}

// Stop closes the listener and refuses further transfers.
func (r *Receiver) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.server != nil {
		r.server.Close()
	}
}

func (r *Receiver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Printf("Device upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("Device connected: %s", conn.RemoteAddr())
	r.handleTransfers(conn)
}

func (r *Receiver) handleTransfers(conn *websocket.Conn) {
	for {
		msgType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("Device connection error: %v", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			r.ack(conn, transferAck{Error: "expected transfer header"})
			continue
		}

		var header transferHeader
		if err := json.Unmarshal(message, &header); err != nil {
			r.ack(conn, transferAck{Error: "malformed transfer header"})
			continue
		}

		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage {
			r.ack(conn, transferAck{Error: "expected audio frame"})
			continue
		}

		id, err := r.handler(data, header.Filename)
		if err != nil {
			log.Printf("Failed to ingest %s: %v", header.Filename, err)
			r.ack(conn, transferAck{Error: err.Error()})
			continue
		}

		log.Printf("Received %s (%d bytes) as %s", header.Filename, len(data), id)
		r.ack(conn, transferAck{FileID: id})
	}
}

func (r *Receiver) ack(conn *websocket.Conn, ack transferAck) {
	if err := conn.WriteJSON(ack); err != nil {
		log.Printf("Failed to send transfer ack: %v", err)
	}
}
