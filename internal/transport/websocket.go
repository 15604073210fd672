// SPDX-License-Identifier: MIT
package transport

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"

	applog "github.com/HSKCTA/Resonance/internal/log"

	"github.com/gorilla/websocket"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("transport closed")

// CommandHandler is invoked for every command a client sends, e.g. "reset".
type CommandHandler func(command string)

// clientCommand is the JSON a client sends to control the node.
type clientCommand struct {
	Command string `json:"command"`
}

// StatusServer pushes status snapshots and alarm events to WebSocket
// clients at /ws and serves the latest snapshot at /status. Clients may send
// {"command":"reset"} to request a safety gate reset.
type StatusServer struct {
	addr      string
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	clientsMu sync.Mutex
	broadcast chan any
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	server   *http.Server
	listener net.Listener

	lastMu     sync.RWMutex
	lastStatus []byte

	onCommand CommandHandler
}

// NewStatusServer creates a server for addr (e.g. ":8080"). onCommand may be
// nil. Call Start to begin listening.
func NewStatusServer(addr string, onCommand CommandHandler) *StatusServer {
	return &StatusServer{
		addr: addr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Dashboards are served from other origins.
			},
		},
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan any, 256),
		done:      make(chan struct{}),
		onCommand: onCommand,
	}
}

// Start binds the listener and begins serving in the background.
func (s *StatusServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/status", s.handleStatus)
	s.server = &http.Server{Handler: mux}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		applog.Infof("StatusServer: Starting WebSocket server on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			applog.Errorf("StatusServer: Server error: %v", err)
		}
	}()
	go func() {
		defer s.wg.Done()
		s.handleBroadcasts()
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *StatusServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// handleWebSocket upgrades HTTP connections to WebSocket
func (s *StatusServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		applog.Warnf("StatusServer: Upgrade error: %v", err)
		return
	}

	s.clientsMu.Lock()
	select {
	case <-s.done:
		s.clientsMu.Unlock()
		conn.Close()
		return
	default:
	}
	s.clients[conn] = true
	total := len(s.clients)
	s.wg.Add(1)
	s.clientsMu.Unlock()
	applog.Infof("StatusServer: Client connected, total: %d", total)

	go func() {
		defer s.wg.Done()
		s.readCommands(conn)
	}()
}

// readCommands handles client messages until the connection fails.
func (s *StatusServer) readCommands(conn *websocket.Conn) {
	defer s.removeClient(conn)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd clientCommand
		if err := json.Unmarshal(data, &cmd); err != nil || cmd.Command == "" {
			applog.Debugf("StatusServer: Ignoring malformed client message: %q", data)
			continue
		}
		applog.Infof("StatusServer: Client command %q", cmd.Command)
		if s.onCommand != nil {
			s.onCommand(strings.ToLower(cmd.Command))
		}
	}
}

func (s *StatusServer) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	_, ok := s.clients[conn]
	delete(s.clients, conn)
	total := len(s.clients)
	s.clientsMu.Unlock()
	conn.Close()
	if ok {
		applog.Infof("StatusServer: Client disconnected, total: %d", total)
	}
}

func (s *StatusServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.lastMu.RLock()
	body := s.lastStatus
	s.lastMu.RUnlock()
	if body == nil {
		http.Error(w, "no status yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

// handleBroadcasts sends messages to all connected clients
func (s *StatusServer) handleBroadcasts() {
	for {
		select {
		case <-s.done:
			return
		case data := <-s.broadcast:
			if st, ok := data.(Status); ok {
				if body, err := json.Marshal(st); err == nil {
					s.lastMu.Lock()
					s.lastStatus = body
					s.lastMu.Unlock()
				}
			}

			s.clientsMu.Lock()
			for client := range s.clients {
				if err := client.WriteJSON(data); err != nil {
					applog.Warnf("StatusServer: Error sending to client: %v", err)
					client.Close()
					delete(s.clients, client)
				}
			}
			s.clientsMu.Unlock()
		}
	}
}

// Send queues data for every client. When the queue is full the data is
// dropped; Send never blocks.
func (s *StatusServer) Send(data any) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	select {
	case s.broadcast <- data:
	default:
		// Channel full, drop message
	}
	return nil
}

// Close shuts down the server and disconnects every client.
func (s *StatusServer) Close() error {
	var err error
	s.closeOnce.Do(func() {
		applog.Infof("StatusServer: Closing server")
		close(s.done)

		if s.server != nil {
			err = s.server.Close()
		}

		s.clientsMu.Lock()
		for client := range s.clients {
			client.Close()
		}
		s.clientsMu.Unlock()

		s.wg.Wait()
	})
	return err
}

// Ensure StatusServer satisfies the interface
var _ Transport = (*StatusServer)(nil)
