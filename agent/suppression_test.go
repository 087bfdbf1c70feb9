package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"watchparty-sync/domain"
)

func local(kind string, t float64) input {
	return input{op: opLocal, kind: kind, time: t}
}

func TestSuppression_WindowSuppressesEverything(t *testing.T) {
	s := newSuppression(DefaultConfig())
	t0 := time.Unix(1000, 0)

	s.step(input{op: opRemoteApplied, kind: domain.TypePause, time: 10.0}, t0)

	assert.True(t, s.suppressing())
	assert.Equal(t, verdictSuppressed, s.step(local(domain.TypePause, 10.0), t0.Add(50*time.Millisecond)))
	assert.Equal(t, verdictSuppressed, s.step(local(domain.TypeSeek, 10.0), t0.Add(60*time.Millisecond)))
	assert.Equal(t, verdictSuppressed, s.step(local(domain.TypePlay, 99.0), t0.Add(70*time.Millisecond)))
}

func TestSuppression_AfterWindow(t *testing.T) {
	s := newSuppression(DefaultConfig())
	t0 := time.Unix(1000, 0)

	s.step(input{op: opRemoteApplied, kind: domain.TypePause, time: 10.0}, t0)
	s.step(input{op: opWindowExpired, seq: s.seq}, t0.Add(500*time.Millisecond))

	assert.False(t, s.suppressing())
	assert.Equal(t, verdictEmit, s.step(local(domain.TypePause, 15.0), t0.Add(600*time.Millisecond)))
}

func TestSuppression_StaleExpiryKeepsNewerWindowOpen(t *testing.T) {
	s := newSuppression(DefaultConfig())
	t0 := time.Unix(1000, 0)

	s.step(input{op: opRemoteApplied, kind: domain.TypePlay, time: 1}, t0)
	stale := s.seq
	s.step(input{op: opRemoteApplied, kind: domain.TypeSeek, time: 30}, t0.Add(400*time.Millisecond))

	s.step(input{op: opWindowExpired, seq: stale}, t0.Add(500*time.Millisecond))

	assert.True(t, s.suppressing())
}

func TestSuppression_EchoAfterWindowClosed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SuppressWindow = 100 * time.Millisecond
	cfg.EchoWindow = time.Second
	t0 := time.Unix(1000, 0)

	tests := []struct {
		name  string
		input input
		at    time.Duration
		want  verdict
	}{
		{name: "same kind near time", input: local(domain.TypePause, 10.4), at: 300 * time.Millisecond, want: verdictEcho},
		{name: "at tolerance edge", input: local(domain.TypePause, 11.0), at: 300 * time.Millisecond, want: verdictEcho},
		{name: "beyond tolerance", input: local(domain.TypePause, 11.5), at: 300 * time.Millisecond, want: verdictEmit},
		{name: "different kind", input: local(domain.TypePlay, 10.0), at: 300 * time.Millisecond, want: verdictEmit},
		{name: "after echo window", input: local(domain.TypePause, 10.0), at: 1500 * time.Millisecond, want: verdictEmit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSuppression(cfg)
			s.step(input{op: opRemoteApplied, kind: domain.TypePause, time: 10.0}, t0)
			s.step(input{op: opWindowExpired, seq: s.seq}, t0.Add(cfg.SuppressWindow))

			assert.Equal(t, tt.want, s.step(tt.input, t0.Add(tt.at)))
		})
	}
}

func TestSuppression_SeekThrottle(t *testing.T) {
	s := newSuppression(DefaultConfig())
	t0 := time.Unix(1000, 0)

	assert.Equal(t, verdictEmit, s.step(local(domain.TypeSeek, 1), t0))
	assert.Equal(t, verdictThrottled, s.step(local(domain.TypeSeek, 2), t0.Add(50*time.Millisecond)))
	assert.Equal(t, verdictThrottled, s.step(local(domain.TypeSeek, 3), t0.Add(150*time.Millisecond)))
	assert.Equal(t, verdictEmit, s.step(local(domain.TypeSeek, 4), t0.Add(250*time.Millisecond)))
}

func TestSuppression_PlayPauseNeverThrottled(t *testing.T) {
	s := newSuppression(DefaultConfig())
	t0 := time.Unix(1000, 0)

	for i := 0; i < 10; i++ {
		kind := domain.TypePlay
		if i%2 == 1 {
			kind = domain.TypePause
		}
		assert.Equal(t, verdictEmit, s.step(local(kind, float64(i)), t0.Add(time.Duration(i)*time.Millisecond)))
	}
}

func TestSuppression_ThrottleDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SeekThrottle = 0
	s := newSuppression(cfg)
	t0 := time.Unix(1000, 0)

	assert.Equal(t, verdictEmit, s.step(local(domain.TypeSeek, 1), t0))
	assert.Equal(t, verdictEmit, s.step(local(domain.TypeSeek, 2), t0))
}
