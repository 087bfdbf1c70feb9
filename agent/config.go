package agent

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the relay address and the timing constants of the echo
// suppression machinery. The defaults are empirical, not derived.
type Config struct {
	ServerURL string `yaml:"server_url"`

	// SuppressWindow is how long local transitions are ignored after a
	// remote event has been applied.
	SuppressWindow time.Duration `yaml:"suppress_window"`

	// EchoWindow and EchoTolerance catch transitions that fire just after
	// the window closed: same kind, within EchoTolerance seconds of the
	// last applied remote time, no later than EchoWindow after it.
	EchoWindow    time.Duration `yaml:"echo_window"`
	EchoTolerance float64       `yaml:"echo_tolerance"`

	// DriftThreshold is the distance in seconds beyond which play and
	// pause also reposition the local player.
	DriftThreshold float64 `yaml:"drift_threshold"`

	SeekThrottle   time.Duration `yaml:"seek_throttle"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

func DefaultConfig() Config {
	return Config{
		ServerURL:      "ws://localhost:8080/ws",
		SuppressWindow: 500 * time.Millisecond,
		EchoWindow:     500 * time.Millisecond,
		EchoTolerance:  1.0,
		DriftThreshold: 0.3,
		SeekThrottle:   200 * time.Millisecond,
		ReconnectDelay: 3 * time.Second,
	}
}

// LoadConfig overlays the YAML file at path on DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read agent config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse agent config: %w", err)
	}
	return cfg, nil
}
