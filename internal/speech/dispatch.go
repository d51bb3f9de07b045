package speech

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	ActionInit  = "init"
	ActionStart = "start"
	ActionStop  = "stop"
	ActionAbort = "abort"
)

// Args are the positional arguments of a command, each left as raw JSON so
// that absent or ill-typed values fall back to their defaults.
type Args []json.RawMessage

func (a Args) value(i int) (any, bool) {
	if i < 0 || i >= len(a) {
		return nil, false
	}
	var v any
	if err := json.Unmarshal(a[i], &v); err != nil || v == nil {
		return nil, false
	}
	return v, true
}

// String returns argument i as a string. Numbers and booleans are rendered
// as text; missing or null values yield def.
func (a Args) String(i int, def string) string {
	v, ok := a.value(i)
	if !ok {
		return def
	}
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return def
	}
}

func (a Args) Bool(i int, def bool) bool {
	v, ok := a.value(i)
	if !ok {
		return def
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		if strings.EqualFold(t, "true") {
			return true
		}
		if strings.EqualFold(t, "false") {
			return false
		}
	}
	return def
}

func (a Args) Int(i int, def int) int {
	v, ok := a.value(i)
	if !ok {
		return def
	}
	switch t := v.(type) {
	case float64:
		return int(t)
	case string:
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return int(parsed)
		}
	}
	return def
}

// ParseStartParams reads the start command's positional arguments:
// language, interim results, max alternatives.
func ParseStartParams(args Args) StartParams {
	def := DefaultStartParams()
	return StartParams{
		Language:        args.String(0, def.Language),
		InterimResults:  args.Bool(1, def.InterimResults),
		MaxAlternatives: args.Int(2, def.MaxAlternatives),
	}
}

// Execute runs one command against the adapter. Failures are reported to
// sink as error replies and also returned for the caller's bookkeeping.
func (a *Adapter) Execute(action string, args Args, sink Sink) error {
	switch action {
	case ActionInit:
		if err := a.Init(); err != nil {
			sink.Send(Reply{Status: StatusError, Message: failureMessage(err), Err: err})
			return err
		}
		sink.Send(Reply{Status: StatusOK})
	case ActionStart:
		if err := a.Start(ParseStartParams(args), sink); err != nil {
			sink.Send(Reply{Status: StatusError, Message: failureMessage(err), Err: err})
			return err
		}
	case ActionStop, ActionAbort:
		if err := a.Stop(action == ActionAbort); err != nil {
			sink.Send(Reply{Status: StatusError, Message: failureMessage(err), Err: err})
			return err
		}
		sink.Send(Reply{Status: StatusOK})
	default:
		err := fmt.Errorf("%w: %s", ErrUnknownCommand, action)
		sink.Send(Reply{Status: StatusError, Message: "Unknown action: " + action, Err: err})
		return err
	}
	return nil
}

func failureMessage(err error) string {
	if errors.Is(err, ErrRecognizerUnavailable) {
		return NotPresentMessage
	}
	return err.Error()
}
