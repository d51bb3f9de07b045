package runtime

import (
	"log/slog"

	"github.com/loqalabs/loqa-speech-bridge/internal/presence"
	"github.com/loqalabs/loqa-speech-bridge/internal/speech"
)

// announcingExecutor re-announces the node after every init so peers see the
// recognizer's availability without waiting for the next heartbeat.
type announcingExecutor struct {
	adapter  *speech.Adapter
	presence *presence.Registry
	logger   *slog.Logger
}

func (e *announcingExecutor) Execute(action string, args speech.Args, sink speech.Sink) error {
	err := e.adapter.Execute(action, args, sink)
	if action == speech.ActionInit {
		if announceErr := e.presence.Announce(); announceErr != nil {
			e.logger.Warn("failed to announce node after init", slog.String("error", announceErr.Error()))
		}
	}
	return err
}
