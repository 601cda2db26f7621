// ABOUTME: WebSocket server for the producer side of remote streams
// ABOUTME: Accepts sessions, runs a handler per session and frames deliveries
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Resonate-Protocol/tidepool/pkg/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// SessionHandler produces a stream for one session. It returns when ctx is
// cancelled, which happens when the client leaves or the server stops.
type SessionHandler func(ctx context.Context, s *Session) error

// AcceptFunc builds the server/hello reply for a client, or rejects it
type AcceptFunc func(hello protocol.ClientHello) (protocol.ServerHello, error)

// ServerConfig configures a transport server
type ServerConfig struct {
	// Addr to listen on (default ":8937")
	Addr string

	Accept  AcceptFunc
	Handler SessionHandler
}

// Server accepts WebSocket sessions
type Server struct {
	config   ServerConfig
	serverID string
	upgrader websocket.Upgrader
	mux      *http.ServeMux

	httpServer *http.Server
	listener   net.Listener

	sessions   map[string]*Session
	sessionsMu sync.RWMutex

	ctx        context.Context
	cancel     context.CancelFunc
	shutdownMu sync.RWMutex
	isShutdown bool
	wg         sync.WaitGroup
}

// NewServer creates a server
func NewServer(config ServerConfig) (*Server, error) {
	if config.Addr == "" {
		config.Addr = ":8937"
	}
	if config.Handler == nil {
		return nil, fmt.Errorf("session handler is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:   config,
		serverID: uuid.New().String(),
		mux:      http.NewServeMux(),
		upgrader: websocket.Upgrader{
			// Local network deployments accept all origins
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		sessions: make(map[string]*Session),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.mux.HandleFunc(Path, s.handleWebSocket)

	return s, nil
}

// ID returns the server's session-independent identifier
func (s *Server) ID() string {
	return s.serverID
}

// Handler exposes the HTTP handler, for embedding or tests
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Listen binds the listen address. Start calls it if needed.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Addr, err)
	}
	s.listener = ln
	return nil
}

// Addr returns the bound address once listening
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start serves until Stop is called
func (s *Server) Start() error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	log.Printf("WebSocket server listening on %s", s.listener.Addr())
	s.httpServer = &http.Server{Handler: s.mux}

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(s.listener); !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-s.ctx.Done():
		log.Printf("Server shutting down...")
	case err := <-errChan:
		log.Printf("HTTP server error: %v", err)
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	s.wg.Wait()
	log.Printf("Server stopped cleanly")
	return nil
}

// Stop ends all sessions and stops the server
func (s *Server) Stop() {
	s.shutdownMu.Lock()
	s.isShutdown = true
	s.shutdownMu.Unlock()

	s.sessionsMu.RLock()
	for _, sess := range s.sessions {
		sess.sendStop("shutdown")
	}
	s.sessionsMu.RUnlock()

	s.cancel()
}

// Sessions returns information about connected sessions
func (s *Server) Sessions() []SessionInfo {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()

	infos := make([]SessionInfo, 0, len(s.sessions))
	for _, sess := range s.sessions {
		infos = append(infos, sess.Info())
	}
	return infos
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	log.Printf("New WebSocket connection from %s", r.RemoteAddr)
	s.wg.Add(1)
	defer s.wg.Done()
	s.handleConnection(conn)
}

func (s *Server) handleConnection(conn *websocket.Conn) {
	defer conn.Close()

	s.shutdownMu.RLock()
	shutdown := s.isShutdown
	s.shutdownMu.RUnlock()
	if shutdown {
		log.Printf("Rejecting connection during shutdown")
		return
	}

	hello, err := readClientHello(conn)
	if err != nil {
		log.Printf("Handshake failed: %v", err)
		return
	}

	reply := protocol.ServerHello{ServerID: s.serverID, Version: 1}
	if s.config.Accept != nil {
		reply, err = s.config.Accept(hello)
		if err != nil {
			log.Printf("Rejecting %s: %v", hello.Name, err)
			conn.WriteJSON(protocol.Message{Type: protocol.TypeStop, Payload: protocol.Stop{Reason: err.Error()}})
			return
		}
		reply.ServerID = s.serverID
	}

	sess := newSession(s.ctx, conn, hello)

	s.sessionsMu.Lock()
	if _, exists := s.sessions[hello.ClientID]; exists {
		s.sessionsMu.Unlock()
		log.Printf("Client ID %s already connected, rejecting duplicate", hello.ClientID)
		conn.WriteJSON(protocol.Message{Type: protocol.TypeStop, Payload: protocol.Stop{Reason: "duplicate client"}})
		sess.cancel()
		return
	}
	s.sessions[hello.ClientID] = sess
	s.sessionsMu.Unlock()

	defer func() {
		s.sessionsMu.Lock()
		delete(s.sessions, hello.ClientID)
		s.sessionsMu.Unlock()
		log.Printf("Client disconnected: %s", hello.Name)
	}()

	if err := sess.writeJSON(protocol.Message{Type: protocol.TypeServerHello, Payload: reply}); err != nil {
		log.Printf("Error sending server hello: %v", err)
		sess.cancel()
		return
	}

	sess.run(s.config.Handler)
}

func readClientHello(conn *websocket.Conn) (protocol.ClientHello, error) {
	var hello protocol.ClientHello

	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	var msg protocol.Message
	if err := conn.ReadJSON(&msg); err != nil {
		return hello, fmt.Errorf("error reading hello: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	if msg.Type != protocol.TypeClientHello {
		return hello, fmt.Errorf("expected client/hello, got %s", msg.Type)
	}
	if err := protocol.DecodePayload(msg, &hello); err != nil {
		return hello, err
	}
	if hello.ClientID == "" || hello.Name == "" {
		return hello, fmt.Errorf("client hello missing required fields")
	}

	log.Printf("Client hello: %s (ID: %s)", hello.Name, hello.ClientID)
	return hello, nil
}

// SessionInfo describes a connected session
type SessionInfo struct {
	ClientID  string
	Name      string
	Requests  int64
	Delivered int64
}

// Session is the producer's end of one remote stream
type Session struct {
	hello protocol.ClientHello
	conn  *websocket.Conn

	requests   chan protocol.Request
	deliveries chan protocol.Delivery

	writeMu sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc

	mu        sync.Mutex
	nRequests int64
	delivered int64
}

func newSession(parent context.Context, conn *websocket.Conn, hello protocol.ClientHello) *Session {
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		hello:      hello,
		conn:       conn,
		requests:   make(chan protocol.Request, DefaultRequestBuffer),
		deliveries: make(chan protocol.Delivery, DefaultRequestBuffer),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Hello returns the client's handshake
func (s *Session) Hello() protocol.ClientHello {
	return s.hello
}

// Requests yields refill requests from the client. It is closed when the
// client leaves.
func (s *Session) Requests() <-chan protocol.Request {
	return s.requests
}

// Deliveries accepts deliveries bound for the client
func (s *Session) Deliveries() chan<- protocol.Delivery {
	return s.deliveries
}

// Info returns session counters
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		ClientID:  s.hello.ClientID,
		Name:      s.hello.Name,
		Requests:  s.nRequests,
		Delivered: s.delivered,
	}
}

// run drives the session until the client leaves or the server stops
func (s *Session) run(handler SessionHandler) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		s.writeDeliveries()
	}()

	go func() {
		defer wg.Done()
		if err := handler(s.ctx, s); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Session %s handler error: %v", s.hello.Name, err)
		}
		s.cancel()
	}()

	s.readMessages()
	s.cancel()
	wg.Wait()
}

func (s *Session) readMessages() {
	defer close(s.requests)

	go func() {
		<-s.ctx.Done()
		// Unblock ReadMessage
		s.conn.SetReadDeadline(time.Now())
	}()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) && s.ctx.Err() == nil {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}

		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("Error unmarshaling message: %v", err)
			continue
		}

		switch msg.Type {
		case protocol.TypeRequest:
			var req protocol.Request
			if err := protocol.DecodePayload(msg, &req); err != nil {
				log.Printf("Bad request from %s: %v", s.hello.Name, err)
				continue
			}
			s.mu.Lock()
			s.nRequests++
			s.mu.Unlock()
			select {
			case s.requests <- req:
			case <-s.ctx.Done():
				return
			}
		case protocol.TypeStop:
			var stop protocol.Stop
			protocol.DecodePayload(msg, &stop)
			log.Printf("Client %s stopped: %s", s.hello.Name, stop.Reason)
			return
		default:
			log.Printf("Unknown message type: %s", msg.Type)
		}
	}
}

func (s *Session) writeDeliveries() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case d := <-s.deliveries:
			frame, err := protocol.EncodeDelivery(d)
			if err != nil {
				log.Printf("Failed to encode delivery: %v", err)
				continue
			}
			s.writeMu.Lock()
			s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			err = s.conn.WriteMessage(websocket.BinaryMessage, frame)
			s.writeMu.Unlock()
			if err != nil {
				s.cancel()
				return
			}
			s.mu.Lock()
			s.delivered += int64(len(d.Blocks))
			s.mu.Unlock()
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline))
			s.writeMu.Unlock()
			if err != nil {
				s.cancel()
				return
			}
		}
	}
}

func (s *Session) writeJSON(msg protocol.Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return s.conn.WriteJSON(msg)
}

func (s *Session) sendStop(reason string) {
	if err := s.writeJSON(protocol.Message{Type: protocol.TypeStop, Payload: protocol.Stop{Reason: reason}}); err != nil {
		log.Printf("Failed to send stop to %s: %v", s.hello.Name, err)
	}
}
