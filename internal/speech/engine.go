package speech

// ListenRequest carries the session parameters handed to the engine.
type ListenRequest struct {
	Language        string
	InterimResults  bool
	MaxAlternatives int
}

// Listener receives engine callbacks. Engines invoke it on the looper.
type Listener interface {
	OnReadyForSpeech()
	OnBeginningOfSpeech()
	OnEndOfSpeech()
	OnPartialResults(transcripts []string, confidences []float32)
	OnResults(transcripts []string, confidences []float32)
	OnError(code int)
	OnBufferReceived(buffer []byte)
	OnEvent(eventType int, params map[string]any)
	OnRmsChanged(rmsdB float32)
}

// Engine abstracts the speech recognition backend. Available may be called
// from any goroutine; Create, StartListening and StopListening are only ever
// called on the looper.
type Engine interface {
	Available() bool
	Create(listener Listener) error
	StartListening(req ListenRequest) error
	StopListening() error
}

// Permissions abstracts microphone hardware and permission checks.
// RequestPermission returns immediately and reports the outcome through
// onResult, one entry per requested permission.
type Permissions interface {
	HasMicrophone() bool
	HasPermission() bool
	RequestPermission(onResult func(grants []bool))
}
