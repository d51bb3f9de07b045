package speech

import (
	"errors"
	"fmt"
)

// Error codes carried by error events.
const (
	ErrorCodeNoMicrophone = 2
	ErrorCodeRecognition  = 4
)

// NativeNoMatch is the engine code reported when no speech was matched. It is
// the one native error forwarded even when the session is not listening.
const NativeNoMatch = 9

// NativeClientError is reported by engines for local failures such as a
// recognizer process exiting without a result.
const NativeClientError = 5

const (
	NotPresentMessage       = "Speech recognition is not present or enabled"
	noMicrophoneMessage     = "Device does not have a microphone hence impossible to capture audio."
	permissionDeniedMessage = "Permission denied for microphone access."
)

var (
	ErrRecognizerUnavailable = errors.New("speech recognition is not present or enabled")
	ErrNoMicrophone          = errors.New("no microphone hardware")
	ErrPermissionDenied      = errors.New("microphone permission denied")
	ErrUnknownCommand        = errors.New("unknown command")
	ErrLooperClosed          = errors.New("looper closed")
	ErrRecognizerNotCreated  = errors.New("recognizer not created")
)

// NativeError wraps an error code reported by the speech engine.
type NativeError struct {
	Code int
}

func (e *NativeError) Error() string {
	return fmt.Sprintf("Error %d", e.Code)
}
