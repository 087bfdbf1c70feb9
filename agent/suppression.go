package agent

import (
	"math"
	"time"

	"golang.org/x/time/rate"

	"watchparty-sync/domain"
)

type phase int

const (
	phaseIdle phase = iota
	phaseSuppressing
)

type inputOp int

const (
	opRemoteApplied inputOp = iota
	opWindowExpired
	opLocal
)

// input drives the suppression machine. seq identifies the remote apply a
// window expiry belongs to.
type input struct {
	op   inputOp
	kind string
	time float64
	seq  uint64
}

type verdict int

const (
	verdictNone verdict = iota
	verdictEmit
	verdictSuppressed
	verdictEcho
	verdictThrottled
)

func (v verdict) String() string {
	switch v {
	case verdictEmit:
		return "emit"
	case verdictSuppressed:
		return "suppressed"
	case verdictEcho:
		return "echo"
	case verdictThrottled:
		return "throttled"
	}
	return "none"
}

type remoteApply struct {
	kind      string
	time      float64
	appliedAt time.Time
}

// suppression decides whether a local transition is a user action or the
// side effect of a remote event the agent just applied. It holds no timers;
// the caller feeds it window expiries.
type suppression struct {
	cfg   Config
	phase phase
	seq   uint64
	last  *remoteApply
	seek  *rate.Limiter
}

func newSuppression(cfg Config) *suppression {
	return &suppression{
		cfg:  cfg,
		seek: rate.NewLimiter(rate.Every(cfg.SeekThrottle), 1),
	}
}

func (s *suppression) suppressing() bool {
	return s.phase == phaseSuppressing
}

func (s *suppression) step(in input, now time.Time) verdict {
	switch in.op {
	case opRemoteApplied:
		s.seq++
		s.phase = phaseSuppressing
		s.last = &remoteApply{kind: in.kind, time: in.time, appliedAt: now}
		return verdictNone

	case opWindowExpired:
		if in.seq == s.seq {
			s.phase = phaseIdle
		}
		return verdictNone

	case opLocal:
		if s.phase == phaseSuppressing {
			return verdictSuppressed
		}
		if s.isEcho(in, now) {
			return verdictEcho
		}
		// play and pause are never throttled
		if in.kind == domain.TypeSeek && !s.seek.AllowN(now, 1) {
			return verdictThrottled
		}
		return verdictEmit
	}
	return verdictNone
}

func (s *suppression) isEcho(in input, now time.Time) bool {
	if s.last == nil || s.last.kind != in.kind {
		return false
	}
	if now.Sub(s.last.appliedAt) >= s.cfg.EchoWindow {
		return false
	}
	return math.Abs(in.time-s.last.time) <= s.cfg.EchoTolerance
}
