package speech

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// StartParams are the session parameters accepted by Start.
type StartParams struct {
	Language        string
	InterimResults  bool
	MaxAlternatives int
}

// DefaultStartParams returns the parameters used when a start command omits them.
func DefaultStartParams() StartParams {
	return StartParams{Language: "en", InterimResults: false, MaxAlternatives: 1}
}

// Session is the adapter's view of the current recognition lifecycle.
type Session struct {
	ID                  string
	RecognizerAvailable bool
	Listening           bool
	Aborted             bool
	Language            string
	InterimResults      bool
	MaxAlternatives     int

	sink Sink
}

// binding ties engine callbacks to the session whose StartListening reached
// the engine. A stopped session's trailing callbacks keep their own sink.
type binding struct {
	sessionID string
	sink      Sink
}

// State is the coarse lifecycle position derived from a Session.
type State int

const (
	StateIdle State = iota
	StateReady
	StateListening
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateListening:
		return "listening"
	default:
		return "idle"
	}
}

// Adapter forwards commands to the engine and engine callbacks to the active
// sink. One adapter holds exactly one session; it is owned by the dispatcher.
type Adapter struct {
	engine Engine
	perms  Permissions
	looper *Looper
	log    *slog.Logger
	newID  func() string

	mu      sync.Mutex
	session Session
	bound   binding
}

func NewAdapter(engine Engine, perms Permissions, looper *Looper, log *slog.Logger) *Adapter {
	return &Adapter{
		engine: engine,
		perms:  perms,
		looper: looper,
		log:    log.With(slog.String("component", "speech-adapter")),
		newID:  uuid.NewString,
	}
}

// Snapshot returns a copy of the session without its sink.
func (a *Adapter) Snapshot() Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.session
	s.sink = nil
	return s
}

func (a *Adapter) State() State {
	s := a.Snapshot()
	switch {
	case s.Listening:
		return StateListening
	case s.RecognizerAvailable:
		return StateReady
	default:
		return StateIdle
	}
}

// RecognizerAvailable reports the result of the last Init.
func (a *Adapter) RecognizerAvailable() bool {
	return a.Snapshot().RecognizerAvailable
}

// Init probes the engine and, when it is available, constructs the recognizer
// and registers the adapter as its listener on the looper.
func (a *Adapter) Init() error {
	available := a.engine.Available()
	a.mu.Lock()
	a.session.RecognizerAvailable = available
	a.mu.Unlock()

	if !available {
		a.log.Warn("speech recognizer unavailable")
		return ErrRecognizerUnavailable
	}
	posted := a.looper.Post(func() {
		if err := a.engine.Create(a); err != nil {
			a.log.Error("failed to create recognizer", slogError(err))
		}
	})
	if !posted {
		return ErrLooperClosed
	}
	a.log.Info("speech recognizer initialized")
	return nil
}

// Start begins a session that streams events to sink. A start issued while a
// previous session is still listening stops that session first; whatever the
// engine reports for it still goes to the previous sink.
func (a *Adapter) Start(params StartParams, sink Sink) error {
	a.mu.Lock()
	if !a.session.RecognizerAvailable {
		a.mu.Unlock()
		return ErrRecognizerUnavailable
	}
	wasListening := a.session.Listening
	a.session = Session{
		ID:                  a.newID(),
		RecognizerAvailable: true,
		Language:            params.Language,
		InterimResults:      params.InterimResults,
		MaxAlternatives:     params.MaxAlternatives,
		sink:                sink,
	}
	sessionID := a.session.ID
	a.mu.Unlock()

	a.log.Info("speech session starting",
		slog.String("session_id", sessionID),
		slog.String("language", params.Language),
		slog.Bool("interim_results", params.InterimResults),
		slog.Int("max_alternatives", params.MaxAlternatives))

	if wasListening {
		a.log.Info("stopping previous session before restart", slog.String("session_id", sessionID))
		if !a.looper.Post(a.stopListening) {
			return ErrLooperClosed
		}
	}
	return a.promptForMic(true)
}

// Stop forwards a stop request to the engine. abort marks the stop as a hard abort.
func (a *Adapter) Stop(abort bool) error {
	a.mu.Lock()
	a.session.Aborted = abort
	a.mu.Unlock()

	if !a.looper.Post(a.stopListening) {
		return ErrLooperClosed
	}
	return nil
}

// OnPermissionResult receives the outcome of a permission request. Any
// denial, or an empty result, ends the attempt.
func (a *Adapter) OnPermissionResult(grants []bool) {
	granted := len(grants) > 0
	for _, g := range grants {
		if !g {
			granted = false
			break
		}
	}
	if !granted {
		a.log.Info("microphone permission denied")
		a.reject(ErrorCodeRecognition, permissionDeniedMessage, ErrPermissionDenied)
		return
	}
	if err := a.promptForMic(false); err != nil {
		a.log.Error("failed to start recognition after permission grant", slogError(err))
	}
}

func (a *Adapter) promptForMic(checkPermission bool) error {
	if !a.perms.HasMicrophone() {
		a.reject(ErrorCodeNoMicrophone, noMicrophoneMessage, ErrNoMicrophone)
		return nil
	}
	if checkPermission && !a.perms.HasPermission() {
		a.log.Info("requesting microphone permission")
		a.perms.RequestPermission(a.OnPermissionResult)
		return nil
	}
	return a.startRecognition()
}

func (a *Adapter) startRecognition() error {
	a.mu.Lock()
	req := ListenRequest{
		Language:        a.session.Language,
		InterimResults:  a.session.InterimResults,
		MaxAlternatives: a.session.MaxAlternatives,
	}
	bind := binding{sessionID: a.session.ID, sink: a.session.sink}
	a.mu.Unlock()

	// The acknowledgement must precede every event of the session.
	a.send(Reply{Status: StatusNoResult, Keep: true})
	posted := a.looper.Post(func() {
		a.mu.Lock()
		a.bound = bind
		a.mu.Unlock()
		if err := a.engine.StartListening(req); err != nil {
			a.log.Error("failed to start listening", slogError(err))
		}
	})
	if !posted {
		return ErrLooperClosed
	}
	return nil
}

func (a *Adapter) stopListening() {
	if err := a.engine.StopListening(); err != nil {
		a.log.Warn("failed to stop listening", slogError(err))
	}
}

func (a *Adapter) OnReadyForSpeech() {
	a.log.Debug("ready for speech")
	a.mu.Lock()
	a.session.Listening = true
	a.mu.Unlock()
}

func (a *Adapter) OnBeginningOfSpeech() {
	a.log.Debug("begin speech")
	a.fireEvent(EventStart)
	a.fireEvent(EventAudioStart)
	a.fireEvent(EventSoundStart)
	a.fireEvent(EventSpeechStart)
}

func (a *Adapter) OnEndOfSpeech() {
	a.log.Debug("end speech")
	a.fireEvent(EventSpeechEnd)
	a.fireEvent(EventSoundEnd)
	a.fireEvent(EventAudioEnd)
	a.fireEvent(EventEnd)
}

func (a *Adapter) OnPartialResults(transcripts []string, confidences []float32) {
	a.log.Debug("partial results", slog.Int("alternatives", len(transcripts)))
	if len(transcripts) > 0 {
		a.fireResult(transcripts, confidences, false)
	}
}

func (a *Adapter) OnResults(transcripts []string, confidences []float32) {
	a.log.Debug("results", slog.Int("alternatives", len(transcripts)))
	if len(transcripts) > 0 {
		a.fireResult(transcripts, confidences, true)
	} else {
		a.fireEvent(EventNoMatch)
	}
	a.mu.Lock()
	a.session.Listening = false
	a.mu.Unlock()
}

func (a *Adapter) OnError(code int) {
	a.log.Debug("speech error", slog.Int("code", code))
	a.mu.Lock()
	forward := a.session.Listening || code == NativeNoMatch
	a.session.Listening = false
	a.mu.Unlock()

	if forward {
		nativeErr := &NativeError{Code: code}
		a.fireError(ErrorCodeRecognition, nativeErr.Error(), nativeErr)
		a.fireEvent(EventEnd)
	}
}

func (a *Adapter) OnBufferReceived(buffer []byte) {
	a.log.Debug("buffer received", slog.Int("bytes", len(buffer)))
}

func (a *Adapter) OnEvent(eventType int, _ map[string]any) {
	a.log.Debug("speech event", slog.Int("event_type", eventType))
}

func (a *Adapter) OnRmsChanged(float32) {}

func (a *Adapter) fireEvent(eventType EventType) {
	a.emit(Reply{Status: StatusOK, Keep: true, Event: &Event{Type: eventType}})
}

func (a *Adapter) fireResult(transcripts []string, confidences []float32, final bool) {
	a.emit(Reply{
		Status: StatusOK,
		Keep:   true,
		Event: &Event{
			Type:         EventResult,
			Alternatives: buildAlternatives(transcripts, confidences, final),
		},
	})
}

func (a *Adapter) fireError(code int, message string, err error) {
	a.emit(errorReply(code, message, err))
}

// reject ends the current session before it reaches the engine.
func (a *Adapter) reject(code int, message string, err error) {
	a.send(errorReply(code, message, err))
	a.send(Reply{Status: StatusOK, Keep: true, Event: &Event{Type: EventEnd}})
}

func errorReply(code int, message string, err error) Reply {
	return Reply{
		Status:  StatusError,
		Keep:    true,
		Message: message,
		Event:   &Event{Type: EventError, Code: code, Message: message},
		Err:     err,
	}
}

// send replies to the current session.
func (a *Adapter) send(r Reply) {
	a.mu.Lock()
	sink := a.session.sink
	r.SessionID = a.session.ID
	a.mu.Unlock()
	a.deliver(sink, r)
}

// emit forwards an engine callback to the session the engine is serving.
func (a *Adapter) emit(r Reply) {
	a.mu.Lock()
	sink := a.bound.sink
	r.SessionID = a.bound.sessionID
	a.mu.Unlock()
	a.deliver(sink, r)
}

func (a *Adapter) deliver(sink Sink, r Reply) {
	if sink == nil {
		a.log.Debug("dropping reply without active sink", slog.String("status", r.Status.String()))
		return
	}
	sink.Send(r)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}

var _ Listener = (*Adapter)(nil)
