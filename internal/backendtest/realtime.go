package backendtest

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

// RealtimeURL is the socket endpoint clients should be configured with.
func (s *Server) RealtimeURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/realtime"
}

func (s *Server) handleRealtime(w http.ResponseWriter, r *http.Request) {
	if f, ok := s.hit(EndpointRealtime); ok {
		writeFailure(w, f)
		return
	}

	q := r.URL.Query()
	if q.Get("projectId") != s.ProjectID {
		writeError(w, http.StatusBadRequest, CodeProjectMismatch, "unknown project")
		return
	}
	if _, err := s.verifier.Verify(q.Get("token")); err != nil {
		writeError(w, http.StatusUnauthorized, CodeInvalidToken, "invalid token")
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.sockets[ws] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.sockets, ws)
		s.mu.Unlock()
		_ = ws.Close()
	}()

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

// Sockets returns the number of open realtime connections.
func (s *Server) Sockets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sockets)
}

// Broadcast sends a text frame to every open socket.
func (s *Server) Broadcast(msg string) {
	s.broadcast(websocket.TextMessage, []byte(msg))
}

// BroadcastBinary sends a binary frame to every open socket.
func (s *Server) BroadcastBinary(data []byte) {
	s.broadcast(websocket.BinaryMessage, data)
}

func (s *Server) broadcast(mt int, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ws := range s.sockets {
		_ = ws.WriteMessage(mt, data)
	}
}

// DropSockets closes every socket without a close handshake, as a crashed
// server or a lost network would.
func (s *Server) DropSockets() {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.sockets))
	for ws := range s.sockets {
		conns = append(conns, ws)
	}
	s.mu.Unlock()

	for _, ws := range conns {
		_ = ws.NetConn().Close()
	}
}
