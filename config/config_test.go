package config

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromEnv(t *testing.T) {
	tests := []struct {
		name      string
		env       map[string]string
		wantAddr  string
		wantLevel slog.Level
	}{
		{name: "defaults", env: map[string]string{}, wantAddr: ":8080", wantLevel: slog.LevelInfo},
		{name: "port", env: map[string]string{"PORT": "9000"}, wantAddr: ":9000", wantLevel: slog.LevelInfo},
		{
			name:      "bind addr wins over port",
			env:       map[string]string{"PORT": "9000", "BIND_ADDR": "127.0.0.1:7000"},
			wantAddr:  "127.0.0.1:7000",
			wantLevel: slog.LevelInfo,
		},
		{name: "debug level", env: map[string]string{"LOG_LEVEL": "debug"}, wantAddr: ":8080", wantLevel: slog.LevelDebug},
		{name: "unknown level", env: map[string]string{"LOG_LEVEL": "loud"}, wantAddr: ":8080", wantLevel: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := FromEnv(func(k string) string { return tt.env[k] })

			assert.Equal(t, tt.wantAddr, cfg.Addr)
			assert.Equal(t, tt.wantLevel, cfg.LogLevel)
		})
	}
}
