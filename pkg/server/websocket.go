package server

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/kitchej/pychat/pkg/transport"
)

// handleWebSocket upgrades /ws requests and runs them through the normal session path
func (s *Server) handleWebSocket(r *run) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  s.config.BufferSize,
		WriteBufferSize: s.config.BufferSize,
		// Chat clients are not tied to a web origin
		CheckOrigin: func(*http.Request) bool { return true },
	}

	return func(w http.ResponseWriter, req *http.Request) {
		if s.blacklist.Contains(req.RemoteAddr) {
			s.metrics.RecordRejected("blacklisted")
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		ws, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			s.logs.debug.Printf("WebSocket upgrade from %s failed: %v", req.RemoteAddr, err)
			return
		}
		s.serveConn(r, transport.NewWebSocketConn(ws), "websocket")
	}
}
