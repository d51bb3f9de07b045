package permission

import (
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-speech-bridge/internal/config"
	"github.com/loqalabs/loqa-speech-bridge/internal/protocol"
	"github.com/nats-io/nats.go"
)

// ProbeMicrophone reports whether capture hardware is present. In auto mode
// path is inspected: a directory must hold an ALSA capture node (pcmC*D*c),
// any other file only needs to exist.
func ProbeMicrophone(mode, path string) bool {
	switch mode {
	case "present":
		return true
	case "absent":
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if !info.IsDir() {
		return true
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return false
	}
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, "pcmC") && strings.HasSuffix(name, "c") {
			return true
		}
	}
	return false
}

// Static answers permission checks from configuration. A request completes
// asynchronously with the configured answer.
type Static struct {
	microphone bool
	granted    bool
}

func NewStatic(microphone, granted bool) *Static {
	return &Static{microphone: microphone, granted: granted}
}

func (s *Static) HasMicrophone() bool { return s.microphone }

func (s *Static) HasPermission() bool { return s.granted }

func (s *Static) RequestPermission(onResult func(grants []bool)) {
	granted := s.granted
	go onResult([]bool{granted})
}

// Prompter asks a remote approver over NATS. A grant is remembered for the
// life of the process; a denial or an unanswered prompt is not.
type Prompter struct {
	conn       *nats.Conn
	subject    string
	timeout    time.Duration
	nodeID     string
	microphone bool
	log        *slog.Logger

	mu      sync.Mutex
	granted bool
}

func NewPrompter(conn *nats.Conn, cfg config.PermissionConfig, nodeID string, microphone bool, log *slog.Logger) *Prompter {
	return &Prompter{
		conn:       conn,
		subject:    cfg.PromptSubject,
		timeout:    time.Duration(cfg.PromptTimeoutMS) * time.Millisecond,
		nodeID:     nodeID,
		microphone: microphone,
		log:        log.With(slog.String("component", "permission-prompter")),
	}
}

func (p *Prompter) HasMicrophone() bool { return p.microphone }

func (p *Prompter) HasPermission() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.granted
}

func (p *Prompter) RequestPermission(onResult func(grants []bool)) {
	go func() {
		granted := p.ask()
		if granted {
			p.mu.Lock()
			p.granted = true
			p.mu.Unlock()
		}
		onResult([]bool{granted})
	}()
}

func (p *Prompter) ask() bool {
	payload, err := json.Marshal(protocol.PermissionPrompt{
		NodeID:     p.nodeID,
		Permission: protocol.PermissionMicrophone,
		Timestamp:  time.Now().UTC(),
	})
	if err != nil {
		p.log.Warn("failed to marshal permission prompt", slog.String("error", err.Error()))
		return false
	}
	msg, err := p.conn.Request(p.subject, payload, p.timeout)
	if err != nil {
		p.log.Warn("permission prompt unanswered", slog.String("error", err.Error()))
		return false
	}
	var answer protocol.PermissionAnswer
	if err := json.Unmarshal(msg.Data, &answer); err != nil {
		p.log.Warn("invalid permission answer", slog.String("error", err.Error()))
		return false
	}
	p.log.Info("permission prompt answered", slog.Bool("granted", answer.Granted))
	return answer.Granted
}
