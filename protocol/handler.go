package protocol

import (
	"encoding/json"
	"log/slog"

	"watchparty-sync/domain"
)

type Handler struct {
	registry domain.SessionRegistry
}

func NewHandler(r domain.SessionRegistry) *Handler {
	return &Handler{registry: r}
}

// Handle decodes one inbound payload and dispatches it. Malformed input is
// logged and dropped; the connection stays open.
func (h *Handler) Handle(conn domain.Connection, data []byte) {
	msg, err := domain.Decode(data)
	if err != nil {
		slog.Warn("invalid message", "clientId", conn.ID(), "error", err)
		return
	}

	switch {
	case msg.Type == domain.TypePing:
		pong := domain.Message{Type: domain.TypePong, Timestamp: msg.Timestamp}
		if resp, err := json.Marshal(pong); err == nil {
			conn.Send(resp)
		}
	case msg.Type == domain.TypeJoin:
		h.registry.Join(conn, msg.SessionID, msg.Username, msg.URL)
	case domain.IsControl(msg.Type):
		h.registry.Relay(conn, msg.Type, msg.PlaybackTime(), msg.URL)
	default:
		slog.Warn("unexpected message type from client", "clientId", conn.ID(), "type", msg.Type)
	}
}
