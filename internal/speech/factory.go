package speech

import (
	"log/slog"

	"github.com/loqalabs/loqa-speech-bridge/internal/config"
)

// NewEngine builds the engine selected by cfg.Mode.
func NewEngine(cfg config.RecognizerConfig, looper *Looper, log *slog.Logger) (Engine, error) {
	switch cfg.Mode {
	case "exec":
		return NewExecEngine(cfg.Command, looper, log)
	default:
		return NewMockEngine(cfg, looper), nil
	}
}
