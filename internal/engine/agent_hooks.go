package engine

import (
	"log/slog"
)

// DefaultHooks returns default hooks for an agent.
func DefaultHooks(l *slog.Logger) Hooks {
	return Hooks{
		LoggerHook{L: l},
	}
}
