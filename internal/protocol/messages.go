package protocol

import (
	"encoding/json"
	"time"
)

// Command is a speech command sent by a client. Replies for the command are
// published to the message's reply subject.
type Command struct {
	Action string            `json:"action"`
	Args   []json.RawMessage `json:"args,omitempty"`
}

// Reply is one acknowledgement or streamed event for a command. Keep tells
// the client to expect further replies on the same subject.
type Reply struct {
	Status    string          `json:"status"`
	Keep      bool            `json:"keep"`
	Message   string          `json:"message,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Event     json.RawMessage `json:"event,omitempty"`
}

const (
	StatusOK       = "ok"
	StatusError    = "error"
	StatusNoResult = "no_result"
)

// PermissionPrompt asks a remote approver to grant microphone access.
type PermissionPrompt struct {
	NodeID     string    `json:"node_id"`
	Permission string    `json:"permission"`
	Timestamp  time.Time `json:"timestamp"`
}

// PermissionAnswer is the approver's response to a PermissionPrompt.
type PermissionAnswer struct {
	Granted bool `json:"granted"`
}

// NodeAnnouncement advertises a bridge node and its recognizer availability.
type NodeAnnouncement struct {
	NodeID              string    `json:"node_id"`
	Role                string    `json:"role"`
	RecognizerAvailable bool      `json:"recognizer_available"`
	Timestamp           time.Time `json:"timestamp"`
}

const (
	SubjectCommand             = "speech.recognition.command"
	SubjectPermissionRequest   = "speech.permission.request"
	SubjectNodeAnnounce        = "speech.node.announce"
	SubjectNodeHeartbeatPrefix = "speech.node.heartbeat"

	PermissionMicrophone = "microphone"
)
