package agent

// Transition is a state change observed on the local player. Kind is one of
// domain.TypePlay, domain.TypePause or domain.TypeSeek; Time is the player
// position when it was observed.
type Transition struct {
	Kind string
	Time float64
}

// Player is the local media element the agent drives. Play, Pause and
// SetCurrentTime may fire observers before returning; Observe itself must
// not. The func returned by Observe removes the observer.
type Player interface {
	CurrentTime() float64
	SetCurrentTime(t float64) error
	Play() error
	Pause() error
	Observe(fn func(Transition)) (detach func())
}

// Page is the content the viewer has open.
type Page interface {
	URL() string
	FindPlayer() (Player, bool)
}
