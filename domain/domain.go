package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

const (
	TypeJoin       = "join"
	TypePlay       = "play"
	TypePause      = "pause"
	TypeSeek       = "seek"
	TypeUserJoined = "user_joined"
	TypeUserLeft   = "user_left"
	TypePing       = "ping"
	TypePong       = "pong"
)

var ErrMalformed = errors.New("malformed message")

// Message is the single kind-tagged record exchanged over the wire. Which
// fields are meaningful depends on Type.
type Message struct {
	Type      string   `json:"type"`
	SessionID string   `json:"sessionId,omitempty"`
	Username  string   `json:"username,omitempty"`
	URL       string   `json:"url,omitempty"`
	Time      *float64 `json:"time,omitempty"`
	Timestamp int64    `json:"timestamp,omitempty"`
}

// IsControl reports whether t is one of play, pause or seek.
func IsControl(t string) bool {
	return t == TypePlay || t == TypePause || t == TypeSeek
}

func NewControl(kind string, t float64, sessionID, username, url string) Message {
	return Message{Type: kind, Time: &t, SessionID: sessionID, Username: username, URL: url}
}

func NewJoin(sessionID, username, url string) Message {
	return Message{Type: TypeJoin, SessionID: sessionID, Username: username, URL: url}
}

func NewMembership(kind, sessionID, username string) Message {
	return Message{Type: kind, SessionID: sessionID, Username: username}
}

// PlaybackTime returns the carried time, or 0 when absent.
func (m Message) PlaybackTime() float64 {
	if m.Time == nil {
		return 0
	}
	return *m.Time
}

// Validate checks the fields required by the message type.
func (m Message) Validate() error {
	switch {
	case m.Type == TypeJoin:
		if m.SessionID == "" {
			return fmt.Errorf("%w: join without sessionId", ErrMalformed)
		}
	case IsControl(m.Type):
		if m.Time == nil || math.IsNaN(*m.Time) || math.IsInf(*m.Time, 0) {
			return fmt.Errorf("%w: %s without a valid time", ErrMalformed, m.Type)
		}
	case m.Type == TypeUserJoined, m.Type == TypeUserLeft, m.Type == TypePing, m.Type == TypePong:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformed, m.Type)
	}
	return nil
}

// Decode parses and validates a wire payload.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	return msg, nil
}

type Connection interface {
	ID() string
	Send(data []byte) error
	Close() error
}

// SessionRegistry groups connections into sessions and relays between them.
type SessionRegistry interface {
	Join(conn Connection, sessionID, username, url string)
	Relay(conn Connection, kind string, t float64, url string)
	Leave(conn Connection)
	Stats() (sessions, peers int)
}

type MessageHandler interface {
	Handle(conn Connection, data []byte)
}
