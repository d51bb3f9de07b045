package speech

import "encoding/json"

// EventType names an event forwarded to the result sink.
type EventType string

const (
	EventStart       EventType = "start"
	EventAudioStart  EventType = "audiostart"
	EventSoundStart  EventType = "soundstart"
	EventSpeechStart EventType = "speechstart"
	EventSpeechEnd   EventType = "speechend"
	EventSoundEnd    EventType = "soundend"
	EventAudioEnd    EventType = "audioend"
	EventEnd         EventType = "end"
	EventNoMatch     EventType = "nomatch"
	EventResult      EventType = "result"
	EventError       EventType = "error"
)

// Alternative is one candidate transcript of a result. The final flag is kept
// per alternative so clients can lift it onto the result list themselves.
type Alternative struct {
	Transcript string  `json:"transcript"`
	Final      bool    `json:"final"`
	Confidence float32 `json:"confidence"`
}

// Event is the tagged variant delivered to a sink. Alternatives is set for
// result events, Code and Message for error events.
type Event struct {
	Type         EventType
	Alternatives []Alternative
	Code         int
	Message      string
}

type plainPayload struct {
	Type EventType `json:"type"`
}

type resultPayload struct {
	Type           EventType       `json:"type"`
	ResultIndex    int             `json:"resultIndex"`
	Emma           any             `json:"emma"`
	Interpretation any             `json:"interpretation"`
	Results        [][]Alternative `json:"results"`
}

type errorPayload struct {
	Type    EventType `json:"type"`
	Error   int       `json:"error"`
	Message string    `json:"message"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventResult:
		alternatives := e.Alternatives
		if alternatives == nil {
			alternatives = []Alternative{}
		}
		return json.Marshal(resultPayload{
			Type:    e.Type,
			Results: [][]Alternative{alternatives},
		})
	case EventError:
		return json.Marshal(errorPayload{Type: e.Type, Error: e.Code, Message: e.Message})
	default:
		return json.Marshal(plainPayload{Type: e.Type})
	}
}

// buildAlternatives pairs transcripts with confidences. Missing confidence
// scores default to zero.
func buildAlternatives(transcripts []string, confidences []float32, final bool) []Alternative {
	alternatives := make([]Alternative, 0, len(transcripts))
	for i, transcript := range transcripts {
		var confidence float32
		if i < len(confidences) {
			confidence = confidences[i]
		}
		alternatives = append(alternatives, Alternative{
			Transcript: transcript,
			Final:      final,
			Confidence: confidence,
		})
	}
	return alternatives
}
