package api

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"lautenbacher.net/golights/controller"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if u.Host == r.Host || u.Hostname() == "localhost" || u.Hostname() == "127.0.0.1" {
			return true
		}
		slog.Warn("Rejected websocket connection", "origin", origin)
		return false
	},
}

// WSMessage is sent to websocket clients.
type WSMessage struct {
	Type   string             `json:"type"`
	Status *controller.Status `json:"status,omitempty"`
	Error  string             `json:"error,omitempty"`
}

// WSCommand is received from websocket clients: select, resume, reload.
type WSCommand struct {
	Type  string `json:"type"`
	Scene string `json:"scene,omitempty"`
}

func (c WSCommand) command() (controller.Command, bool) {
	switch c.Type {
	case "select":
		return controller.Select(c.Scene), true
	case "resume":
		return controller.Resume(), true
	case "reload":
		return controller.Reload(), true
	case "toggle_ui":
		return controller.ToggleUI(), true
	default:
		return controller.Command{}, false
	}
}

// handleWebSocket pushes the status on connect and after every change, and
// executes commands sent by the client.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	replies := make(chan WSMessage, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var in WSCommand
			if err := conn.ReadJSON(&in); err != nil {
				return
			}
			reply := WSMessage{Type: "ack"}
			if cmd, ok := in.command(); !ok {
				reply = WSMessage{Type: "error", Error: "unknown command " + in.Type}
			} else if err := s.controller().Handle(cmd); err != nil {
				reply = WSMessage{Type: "error", Error: err.Error()}
			}
			select {
			case replies <- reply:
			default:
			}
		}
	}()

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	var sent uint64
	var last Controller
	for {
		ctrl := s.controller()
		st, seq := ctrl.State().Events().Load()
		if seq != sent || ctrl != last {
			sent, last = seq, ctrl
			if err := conn.WriteJSON(WSMessage{Type: "status", Status: &st}); err != nil {
				return
			}
		}
		select {
		case <-done:
			return
		case reply := <-replies:
			if err := conn.WriteJSON(reply); err != nil {
				return
			}
		case <-ticker.C:
		}
	}
}
