package agent

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"watchparty-sync/domain"
)

var (
	ErrNoPlayer   = errors.New("no player found on page")
	ErrNoSession  = errors.New("session id is required")
	ErrNoUsername = errors.New("username is required")
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return "disconnected"
}

type Option func(*Agent)

func WithClock(c clockwork.Clock) Option {
	return func(a *Agent) { a.clock = c }
}

func WithDialer(d Dialer) Option {
	return func(a *Agent) { a.dialer = d }
}

// WithStatusHandler registers fn for connection state changes. It runs
// outside the agent's lock.
func WithStatusHandler(fn func(State)) Option {
	return func(a *Agent) { a.onStatus = fn }
}

// WithMembershipHandler registers fn for user_joined and user_left.
func WithMembershipHandler(fn func(domain.Message)) Option {
	return func(a *Agent) { a.onMembership = fn }
}

// Agent keeps one local player in step with the other members of a session.
//
// All state sits behind mu. epoch changes on every connect attempt and on
// Stop so that dials, read loops and reconnect timers from an earlier
// attempt recognise themselves as stale. bindGen does the same for player
// observers and the suppression timers.
type Agent struct {
	cfg          Config
	page         Page
	clock        clockwork.Clock
	dialer       Dialer
	onStatus     func(State)
	onMembership func(domain.Message)

	// applyMu is held across an inbound apply so Stop can wait it out.
	applyMu sync.Mutex

	mu         sync.Mutex
	state      State
	pending    []State
	sessionID  string
	username   string
	player     Player
	detach     func()
	bindGen    uint64
	supp       *suppression
	transport  Transport
	cancelDial context.CancelFunc
	epoch      uint64

	closeTimer     clockwork.Timer
	throttleTimer  clockwork.Timer
	reconnectTimer clockwork.Timer
}

func New(cfg Config, page Page, opts ...Option) *Agent {
	a := &Agent{
		cfg:    cfg,
		page:   page,
		clock:  clockwork.NewRealClock(),
		dialer: WebsocketDialer{},
		supp:   newSuppression(cfg),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NewSessionID returns a short random session id suitable for sharing.
func NewSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Agent) SessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionID
}

// Start binds the page's player and joins sessionID as username, connecting
// to the relay if needed. Calling it again switches sessions.
func (a *Agent) Start(sessionID, username string) error {
	if sessionID == "" {
		return ErrNoSession
	}
	if username == "" {
		return ErrNoUsername
	}
	p, ok := a.page.FindPlayer()
	if !ok {
		return ErrNoPlayer
	}

	a.mu.Lock()
	defer a.unlockAndNotify()

	if a.player != p {
		a.bindLocked(p)
	}
	a.sessionID = sessionID
	a.username = username

	switch a.state {
	case StateConnected:
		a.sendJoinLocked()
	case StateDisconnected:
		a.connectLocked()
	}

	slog.Info("sync started", "sessionId", sessionID, "username", username)
	return nil
}

// Attach rebinds the agent to p, removing the observers of the previous
// player first.
func (a *Agent) Attach(p Player) {
	a.mu.Lock()
	defer a.unlockAndNotify()
	a.bindLocked(p)
}

// Stop leaves the session, closes the transport and forgets the player. No
// event is applied or emitted once it returns.
func (a *Agent) Stop() {
	a.mu.Lock()
	a.epoch++
	a.sessionID = ""
	a.username = ""
	a.unbindLocked()
	stopTimer(a.reconnectTimer)
	a.reconnectTimer = nil
	if a.cancelDial != nil {
		a.cancelDial()
		a.cancelDial = nil
	}
	t := a.transport
	a.transport = nil
	a.setStateLocked(StateDisconnected)
	a.unlockAndNotify()

	if t != nil {
		t.Close()
	}

	// wait out an apply that passed its checks before the epoch moved
	a.applyMu.Lock()
	a.applyMu.Unlock()

	slog.Info("sync stopped")
}

func (a *Agent) unlockAndNotify() {
	pending := a.pending
	a.pending = nil
	a.mu.Unlock()

	if a.onStatus == nil {
		return
	}
	for _, s := range pending {
		a.onStatus(s)
	}
}

func (a *Agent) setStateLocked(s State) {
	if a.state == s {
		return
	}
	a.state = s
	a.pending = append(a.pending, s)
}

func (a *Agent) bindLocked(p Player) {
	a.unbindLocked()

	a.bindGen++
	gen := a.bindGen
	a.player = p
	a.supp = newSuppression(a.cfg)
	a.detach = p.Observe(func(tr Transition) {
		a.handleLocal(gen, tr)
	})
}

func (a *Agent) unbindLocked() {
	if a.detach != nil {
		a.detach()
		a.detach = nil
	}
	a.player = nil
	a.bindGen++
	stopTimer(a.closeTimer)
	stopTimer(a.throttleTimer)
	a.closeTimer = nil
	a.throttleTimer = nil
}

func (a *Agent) wantedLocked() bool {
	return a.sessionID != "" && a.username != "" && a.player != nil
}

// --- connection lifecycle ---

func (a *Agent) connectLocked() {
	stopTimer(a.reconnectTimer)
	a.reconnectTimer = nil
	a.epoch++
	epoch := a.epoch
	ctx, cancel := context.WithCancel(context.Background())
	a.cancelDial = cancel
	a.setStateLocked(StateConnecting)

	go a.dial(ctx, epoch)
}

func (a *Agent) dial(ctx context.Context, epoch uint64) {
	t, err := a.dialer.Dial(ctx, a.cfg.ServerURL)

	a.mu.Lock()
	if epoch != a.epoch {
		a.unlockAndNotify()
		if t != nil {
			t.Close()
		}
		return
	}
	if a.cancelDial != nil {
		a.cancelDial()
		a.cancelDial = nil
	}

	if err != nil {
		slog.Warn("relay connect failed", "url", a.cfg.ServerURL, "error", err)
		a.setStateLocked(StateDisconnected)
		a.scheduleReconnectLocked()
		a.unlockAndNotify()
		return
	}

	a.transport = t
	a.setStateLocked(StateConnected)
	slog.Info("connected to relay", "url", a.cfg.ServerURL)
	if a.sessionID != "" && a.username != "" {
		a.sendJoinLocked()
	}
	a.unlockAndNotify()

	go a.readLoop(epoch, t)
}

func (a *Agent) readLoop(epoch uint64, t Transport) {
	for {
		data, err := t.Receive()
		if err != nil {
			a.handleClosed(t, err)
			return
		}
		a.handleInbound(epoch, data)
	}
}

func (a *Agent) handleClosed(t Transport, err error) {
	a.mu.Lock()
	defer a.unlockAndNotify()

	if a.transport != t {
		return
	}
	t.Close()
	a.transport = nil
	a.setStateLocked(StateDisconnected)
	slog.Warn("relay connection closed", "error", err)
	a.scheduleReconnectLocked()
}

func (a *Agent) scheduleReconnectLocked() {
	if !a.wantedLocked() {
		return
	}
	stopTimer(a.reconnectTimer)

	epoch := a.epoch
	a.reconnectTimer = a.clock.AfterFunc(a.cfg.ReconnectDelay, func() {
		a.reconnect(epoch)
	})
}

// reconnect re-checks at fire time that the user still wants to be synced.
func (a *Agent) reconnect(epoch uint64) {
	a.mu.Lock()
	defer a.unlockAndNotify()

	if epoch != a.epoch || a.state != StateDisconnected || !a.wantedLocked() {
		return
	}
	a.reconnectTimer = nil
	slog.Info("reconnecting to relay", "sessionId", a.sessionID)
	a.connectLocked()
}

func (a *Agent) sendJoinLocked() {
	a.sendLocked(domain.NewJoin(a.sessionID, a.username, a.page.URL()))
}

func (a *Agent) sendLocked(msg domain.Message) {
	if a.transport == nil || a.state != StateConnected {
		return
	}
	if err := a.transport.Send(msg); err != nil {
		slog.Warn("send failed", "type", msg.Type, "error", err)
	}
}

// --- outbound ---

func (a *Agent) handleLocal(gen uint64, tr Transition) {
	a.mu.Lock()
	defer a.unlockAndNotify()

	if gen != a.bindGen || a.player == nil {
		return
	}

	v := a.supp.step(input{op: opLocal, kind: tr.Kind, time: tr.Time}, a.clock.Now())
	switch v {
	case verdictEmit:
		a.emitLocked(tr.Kind, tr.Time)
	case verdictThrottled:
		a.scheduleTrailingSeekLocked(gen)
	default:
		slog.Debug("local transition dropped", "type", tr.Kind, "time", tr.Time, "reason", v)
	}
}

func (a *Agent) emitLocked(kind string, t float64) {
	if a.sessionID == "" {
		return
	}
	a.sendLocked(domain.NewControl(kind, t, a.sessionID, a.username, a.page.URL()))
	slog.Debug("sent", "type", kind, "time", t, "sessionId", a.sessionID)
}

// scheduleTrailingSeekLocked makes sure the last seek of a burst still goes
// out once the throttle interval has passed.
func (a *Agent) scheduleTrailingSeekLocked(gen uint64) {
	if a.throttleTimer != nil {
		return
	}
	a.throttleTimer = a.clock.AfterFunc(a.cfg.SeekThrottle, func() {
		a.mu.Lock()
		defer a.unlockAndNotify()

		if gen != a.bindGen || a.player == nil {
			return
		}
		a.throttleTimer = nil

		t := a.player.CurrentTime()
		v := a.supp.step(input{op: opLocal, kind: domain.TypeSeek, time: t}, a.clock.Now())
		switch v {
		case verdictEmit:
			a.emitLocked(domain.TypeSeek, t)
		case verdictThrottled:
			a.scheduleTrailingSeekLocked(gen)
		}
	})
}

// --- inbound ---

func (a *Agent) handleInbound(epoch uint64, data []byte) {
	msg, err := domain.Decode(data)
	if err != nil {
		slog.Warn("invalid message from relay", "error", err)
		return
	}

	switch {
	case domain.IsControl(msg.Type):
		a.applyRemote(epoch, msg)
	case msg.Type == domain.TypeUserJoined, msg.Type == domain.TypeUserLeft:
		slog.Info("membership changed", "type", msg.Type, "username", msg.Username, "sessionId", msg.SessionID)
		if a.isCurrent(epoch) && a.onMembership != nil {
			a.onMembership(msg)
		}
	}
}

func (a *Agent) isCurrent(epoch uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return epoch == a.epoch
}

func (a *Agent) applyRemote(epoch uint64, msg domain.Message) {
	a.applyMu.Lock()
	defer a.applyMu.Unlock()

	a.mu.Lock()
	if epoch != a.epoch || a.player == nil {
		a.unlockAndNotify()
		return
	}
	if !samePage(msg.URL, a.page.URL()) {
		a.unlockAndNotify()
		slog.Debug("ignoring event for another page", "type", msg.Type, "url", msg.URL)
		return
	}

	t := msg.PlaybackTime()
	a.supp.step(input{op: opRemoteApplied, kind: msg.Type, time: t}, a.clock.Now())
	a.scheduleWindowCloseLocked(a.bindGen, a.supp.seq)
	p := a.player
	a.unlockAndNotify()

	slog.Debug("applying remote event", "type", msg.Type, "time", t, "from", msg.Username)
	a.apply(p, msg.Type, t)
}

func (a *Agent) scheduleWindowCloseLocked(gen, seq uint64) {
	stopTimer(a.closeTimer)
	a.closeTimer = a.clock.AfterFunc(a.cfg.SuppressWindow, func() {
		a.mu.Lock()
		defer a.unlockAndNotify()

		if gen != a.bindGen {
			return
		}
		a.supp.step(input{op: opWindowExpired, seq: seq}, a.clock.Now())
	})
}

// apply drives the player outside the lock so that observers fired from
// Play, Pause or SetCurrentTime can reach handleLocal.
func (a *Agent) apply(p Player, kind string, t float64) {
	var err error
	switch kind {
	case domain.TypePlay, domain.TypePause:
		if math.Abs(p.CurrentTime()-t) > a.cfg.DriftThreshold {
			if err := p.SetCurrentTime(t); err != nil {
				slog.Warn("reposition failed", "time", t, "error", err)
			}
		}
		if kind == domain.TypePlay {
			err = p.Play()
		} else {
			err = p.Pause()
		}
	case domain.TypeSeek:
		err = p.SetCurrentTime(t)
	}
	if err != nil {
		slog.Warn("player rejected remote event", "type", kind, "time", t, "error", err)
	}
}

func stopTimer(t clockwork.Timer) {
	if t != nil {
		t.Stop()
	}
}
