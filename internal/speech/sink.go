package speech

// Status classifies a reply sent to a sink.
type Status int

const (
	StatusNoResult Status = iota
	StatusOK
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusError:
		return "error"
	default:
		return "no_result"
	}
}

// Reply is one message delivered to a sink. Keep reports whether the caller
// should leave its channel open for further replies.
type Reply struct {
	Status    Status
	Keep      bool
	Message   string
	SessionID string
	Event     *Event
	Err       error
}

// Sink receives acknowledgements and streamed events for a command.
type Sink interface {
	Send(Reply)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Reply)

func (f SinkFunc) Send(r Reply) { f(r) }
