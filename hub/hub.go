package hub

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"watchparty-sync/domain"
)

type peer struct {
	conn     domain.Connection
	username string
	url      string
}

// session serializes every membership change and broadcast for one id.
// A closed session has been removed from the hub and must not gain members.
type session struct {
	id      string
	mu      sync.Mutex
	members map[string]*peer
	closed  bool
}

type Hub struct {
	mu         sync.Mutex
	sessions   map[string]*session
	membership map[string]*session
}

func New() *Hub {
	return &Hub{
		sessions:   make(map[string]*session),
		membership: make(map[string]*session),
	}
}

// Join moves conn into sessionID. Any previous membership is dropped first,
// with user_left delivered to the old session before user_joined goes out.
func (h *Hub) Join(conn domain.Connection, sessionID, username, url string) {
	h.Leave(conn)

	for {
		s := h.acquire(sessionID)

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			continue
		}
		s.members[conn.ID()] = &peer{conn: conn, username: username, url: url}
		count := len(s.members)

		h.mu.Lock()
		h.membership[conn.ID()] = s
		h.mu.Unlock()

		s.broadcast(conn.ID(), domain.NewMembership(domain.TypeUserJoined, sessionID, username))
		s.mu.Unlock()

		slog.Info("user joined", "sessionId", sessionID, "clientId", conn.ID(), "username", username, "peers", count)
		return
	}
}

// Relay forwards a control event to every other peer of the sender's
// session. Connections that have not joined are ignored.
func (h *Hub) Relay(conn domain.Connection, kind string, t float64, url string) {
	h.mu.Lock()
	s := h.membership[conn.ID()]
	h.mu.Unlock()

	if s == nil {
		slog.Debug("control event before join", "clientId", conn.ID(), "type", kind)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.members[conn.ID()]
	if !ok {
		return
	}
	p.url = url

	delivered := s.broadcast(conn.ID(), domain.NewControl(kind, t, s.id, p.username, url))
	slog.Debug("relayed", "sessionId", s.id, "username", p.username, "type", kind, "time", t, "peers", delivered)
}

// Leave removes conn from its session, notifies the remaining peers and
// discards the session once it is empty.
func (h *Hub) Leave(conn domain.Connection) {
	h.mu.Lock()
	s, ok := h.membership[conn.ID()]
	delete(h.membership, conn.ID())
	h.mu.Unlock()

	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.members[conn.ID()]
	if !ok {
		return
	}
	delete(s.members, conn.ID())
	count := len(s.members)

	slog.Info("user left", "sessionId", s.id, "clientId", conn.ID(), "username", p.username, "peers", count)

	if count == 0 {
		s.closed = true
		h.mu.Lock()
		if h.sessions[s.id] == s {
			delete(h.sessions, s.id)
		}
		h.mu.Unlock()
		slog.Info("session removed", "sessionId", s.id)
		return
	}

	s.broadcast(conn.ID(), domain.NewMembership(domain.TypeUserLeft, s.id, p.username))
}

func (h *Hub) Stats() (sessions, peers int) {
	h.mu.Lock()
	all := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		all = append(all, s)
	}
	h.mu.Unlock()

	for _, s := range all {
		s.mu.Lock()
		if !s.closed {
			sessions++
			peers += len(s.members)
		}
		s.mu.Unlock()
	}
	return sessions, peers
}

// Members returns the sorted connection ids currently in sessionID.
func (h *Hub) Members(sessionID string) []string {
	h.mu.Lock()
	s, ok := h.sessions[sessionID]
	h.mu.Unlock()

	if !ok {
		return nil
	}

	s.mu.Lock()
	ids := make([]string, 0, len(s.members))
	for id := range s.members {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	sort.Strings(ids)
	return ids
}

func (h *Hub) acquire(id string) *session {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[id]
	if !ok {
		s = &session{id: id, members: make(map[string]*peer)}
		h.sessions[id] = s
	}
	return s
}

// broadcast must be called with s.mu held. Send never blocks, so a stalled
// peer only loses its own copy.
func (s *session) broadcast(senderID string, msg domain.Message) int {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Warn("marshal error", "sessionId", s.id, "type", msg.Type, "error", err)
		return 0
	}

	delivered := 0
	for id, p := range s.members {
		if id == senderID {
			continue
		}
		if err := p.conn.Send(data); err != nil {
			slog.Debug("skipping peer", "sessionId", s.id, "clientId", id, "error", err)
			continue
		}
		delivered++
	}
	return delivered
}
