package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/defrost-labs/strategy-engine/internal/events"
)

// handleWebSocket upgrades the connection and registers a Client, starting
// its read and write pumps.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{ID: uuid.NewString(), Conn: conn, Send: make(chan []byte, 256)}
	s.mu.Lock()
	s.clients[client.ID] = client
	s.mu.Unlock()
	s.logger.Info("websocket client connected", zap.String("id", client.ID))

	go s.writePump(client)
	go s.readPump(client)
}

// readPump drains client.Conn until it errors or closes, then deregisters
// the client. This connection expects no inbound commands from subscribers
// today; it only enforces read deadlines so a dead peer is detected.
func (s *Server) readPump(client *Client) {
	defer func() {
		s.mu.Lock()
		delete(s.clients, client.ID)
		s.mu.Unlock()
		client.Conn.Close()
		s.logger.Info("websocket client disconnected", zap.String("id", client.ID))
	}()

	client.Conn.SetReadLimit(65536)
	client.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := client.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}
	}
}

// writePump relays queued messages to the client and pings it on idle.
func (s *Server) writePump(client *Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// broadcast fans msg out to every connected client, dropping it for any
// client whose send buffer is full instead of blocking the caller.
func (s *Server) broadcast(msg Message) {
	body, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("failed to marshal websocket message", zap.Error(err))
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		select {
		case c.Send <- body:
		default:
			s.logger.Warn("websocket client buffer full, dropping event", zap.String("client", c.ID))
		}
	}
}

// subscribeBusEvents bridges every event bus publication onto connected
// WebSocket clients, letting subscribers filter by Message.Type client-side
// rather than pre-declaring channels.
func (s *Server) subscribeBusEvents() {
	s.bus.SubscribeAll(func(ev events.Event) {
		s.broadcast(Message{
			Type:      string(ev.Type()),
			Payload:   ev,
			Timestamp: ev.Timestamp().Time().UnixMilli(),
		})
	})
}
