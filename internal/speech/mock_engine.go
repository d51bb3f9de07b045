package speech

import (
	"fmt"
	"time"

	"github.com/loqalabs/loqa-speech-bridge/internal/config"
)

// mockEngine plays a fixed recognition script. Its methods and scheduled
// steps all run on the looper, so it keeps no lock.
type mockEngine struct {
	available  bool
	transcript string
	delay      time.Duration
	looper     *Looper

	listener   Listener
	generation int
	running    bool
	began      bool
	finished   bool
}

func NewMockEngine(cfg config.RecognizerConfig, looper *Looper) Engine {
	return &mockEngine{
		available:  cfg.Available,
		transcript: cfg.MockTranscript,
		delay:      time.Duration(cfg.MockDelayMS) * time.Millisecond,
		looper:     looper,
	}
}

func (m *mockEngine) Available() bool { return m.available }

func (m *mockEngine) Create(listener Listener) error {
	m.listener = listener
	return nil
}

func (m *mockEngine) StartListening(req ListenRequest) error {
	if m.listener == nil {
		return ErrRecognizerNotCreated
	}
	m.generation++
	m.running, m.began, m.finished = true, false, false

	l := m.listener
	transcripts, confidences := m.alternatives(req.MaxAlternatives)
	steps := []func(){
		l.OnReadyForSpeech,
		func() { m.began = true; l.OnBeginningOfSpeech() },
	}
	if req.InterimResults {
		steps = append(steps, func() { l.OnPartialResults(transcripts[:1], nil) })
	}
	steps = append(steps,
		l.OnEndOfSpeech,
		func() { m.finished = true; l.OnResults(transcripts, confidences) },
	)
	m.schedule(m.generation, steps)
	return nil
}

func (m *mockEngine) StopListening() error {
	// A session that has not reached ready yet still ends, with no match.
	if !m.running || m.finished {
		return nil
	}
	m.generation++
	m.finished = true
	if m.began {
		transcripts, confidences := m.alternatives(1)
		m.listener.OnResults(transcripts, confidences)
		return nil
	}
	m.listener.OnResults(nil, nil)
	return nil
}

func (m *mockEngine) schedule(gen int, steps []func()) {
	if len(steps) == 0 {
		return
	}
	time.AfterFunc(m.delay, func() {
		m.looper.Post(func() {
			if m.generation != gen {
				return
			}
			steps[0]()
			m.schedule(gen, steps[1:])
		})
	})
}

func (m *mockEngine) alternatives(count int) ([]string, []float32) {
	if count < 1 {
		count = 1
	}
	transcripts := make([]string, 0, count)
	confidences := make([]float32, 0, count)
	for i := 0; i < count; i++ {
		text := m.transcript
		if i > 0 {
			text = fmt.Sprintf("%s (%d)", m.transcript, i+1)
		}
		confidence := 0.9 - 0.1*float32(i)
		if confidence < 0.1 {
			confidence = 0.1
		}
		transcripts = append(transcripts, text)
		confidences = append(confidences, confidence)
	}
	return transcripts, confidences
}
