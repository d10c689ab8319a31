package bridge

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// injectionFrame is the outbound control message telling the embedded surface
// to evaluate a script.
type injectionFrame struct {
	Type   string `json:"type"`
	Script string `json:"script"`
}

// WSServer is the websocket endpoint the embedded web surface connects to.
// The surface relays every window.postMessage envelope upstream; the server
// forwards them to the bridge handler. At most one surface is attached at a
// time; a new connection replaces the previous one.
type WSServer struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	conn    *websocket.Conn
	handler func([]byte)
}

// NewWSServer creates the endpoint. SetHandler must be called before the
// first surface connects.
func NewWSServer(logger *zap.Logger) *WSServer {
	return &WSServer{
		logger: logger.Named("bridge.ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The surface runs inside an app-controlled webview; origin
			// checking is handled by binding to loopback only.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// SetHandler installs the callback receiving each raw inbound message.
func (s *WSServer) SetHandler(h func([]byte)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// ServeHTTP upgrades the request and pumps inbound messages to the handler
// until the peer disconnects.
func (s *WSServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}

	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.conn = conn
	handler := s.handler
	s.mu.Unlock()

	s.logger.Info("Embedded surface connected", zap.String("remote", conn.RemoteAddr().String()))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.logger.Info("Embedded surface disconnected", zap.Error(err))
			break
		}
		if handler != nil {
			handler(data)
		}
	}

	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
	conn.Close()
}

// Inject sends a script to the attached surface for evaluation.
func (s *WSServer) Inject(script string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ErrNoPage
	}
	return s.conn.WriteJSON(injectionFrame{Type: "INJECT", Script: script})
}

// Close drops the attached surface, if any.
func (s *WSServer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
