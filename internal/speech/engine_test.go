package speech

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/loqalabs/loqa-speech-bridge/internal/config"
)

func lastEvent(sink *recordingSink) (Event, bool) {
	events := sink.events()
	if len(events) == 0 {
		return Event{}, false
	}
	return events[len(events)-1], true
}

func TestMockEngineScript(t *testing.T) {
	looper := NewLooper(16, newLogger())
	t.Cleanup(looper.Close)
	engine := NewMockEngine(config.RecognizerConfig{Available: true, MockTranscript: "turn on the lights"}, looper)
	adapter := NewAdapter(engine, &fakePermissions{microphone: true, granted: true}, looper, newLogger())

	if err := adapter.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	sink := &recordingSink{}
	if err := adapter.Start(StartParams{Language: "en", InterimResults: true, MaxAlternatives: 2}, sink); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		e, ok := lastEvent(sink)
		return ok && e.Type == EventResult && e.Alternatives[0].Final
	})

	want := []EventType{
		EventStart, EventAudioStart, EventSoundStart, EventSpeechStart,
		EventResult,
		EventSpeechEnd, EventSoundEnd, EventAudioEnd, EventEnd,
		EventResult,
	}
	events := sink.events()
	if got := eventTypes(events); !sameTypes(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
	final := events[len(events)-1]
	if len(final.Alternatives) != 2 || final.Alternatives[0].Transcript != "turn on the lights" {
		t.Fatalf("unexpected final alternatives %+v", final.Alternatives)
	}
	if adapter.Snapshot().Listening {
		t.Fatal("expected session to finish")
	}
}

func TestMockEngineUnavailable(t *testing.T) {
	looper := NewLooper(1, newLogger())
	t.Cleanup(looper.Close)
	engine := NewMockEngine(config.RecognizerConfig{Available: false}, looper)
	if engine.Available() {
		t.Fatal("expected unavailable engine")
	}
	if err := engine.StartListening(ListenRequest{}); err != ErrRecognizerNotCreated {
		t.Fatalf("expected ErrRecognizerNotCreated, got %v", err)
	}
}

func TestMockEngineStopBeforeSpeech(t *testing.T) {
	looper := NewLooper(16, newLogger())
	t.Cleanup(looper.Close)
	engine := NewMockEngine(config.RecognizerConfig{Available: true, MockTranscript: "x", MockDelayMS: 150}, looper)
	adapter := NewAdapter(engine, &fakePermissions{microphone: true, granted: true}, looper, newLogger())
	if err := adapter.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	sink := &recordingSink{}
	if err := adapter.Start(DefaultStartParams(), sink); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return adapter.Snapshot().Listening })
	if err := adapter.Stop(true); err != nil {
		t.Fatalf("stop: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		e, ok := lastEvent(sink)
		return ok && e.Type == EventNoMatch
	})
	time.Sleep(400 * time.Millisecond)
	if got := eventTypes(sink.events()); !sameTypes(got, []EventType{EventNoMatch}) {
		t.Fatalf("expected cancelled script, got %v", got)
	}
}

const recognizerScript = `#!/bin/sh
echo '{"event":"ready"}'
echo '{"event":"begin"}'
echo '{"event":"rms","rms_db":3.5}'
echo '{"event":"end"}'
echo "{\"event\":\"results\",\"transcripts\":[\"$2\"],\"confidences\":[0.75]}"
`

const bufferingScript = `#!/bin/sh
echo '{"event":"ready"}'
printf '{"event":"buffer","buffer":"'
head -c 200000 /dev/zero | tr '\0' 'A'
printf '"}\n'
echo '{"event":"begin"}'
echo '{"event":"end"}'
echo '{"event":"results","transcripts":["after audio"],"confidences":[0.6]}'
`

const failingScript = `#!/bin/sh
echo '{"event":"ready"}'
exit 3
`

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "recognizer.sh")
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestExecEngineForwardsCallbacks(t *testing.T) {
	script := writeScript(t, recognizerScript)
	looper := NewLooper(16, newLogger())
	t.Cleanup(looper.Close)
	engine, err := NewExecEngine(script, looper, newLogger())
	if err != nil {
		t.Fatalf("new exec engine: %v", err)
	}
	if !engine.Available() {
		t.Fatal("expected script to be available")
	}
	adapter := NewAdapter(engine, &fakePermissions{microphone: true, granted: true}, looper, newLogger())
	if err := adapter.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	sink := &recordingSink{}
	if err := adapter.Start(StartParams{Language: "sv", MaxAlternatives: 1}, sink); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, 5*time.Second, func() bool {
		e, ok := lastEvent(sink)
		return ok && e.Type == EventResult
	})
	looper.Sync()

	events := sink.events()
	want := []EventType{
		EventStart, EventAudioStart, EventSoundStart, EventSpeechStart,
		EventSpeechEnd, EventSoundEnd, EventAudioEnd, EventEnd,
		EventResult,
	}
	if got := eventTypes(events); !sameTypes(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
	alt := events[len(events)-1].Alternatives[0]
	if alt.Transcript != "sv" || alt.Confidence != 0.75 || !alt.Final {
		t.Fatalf("unexpected alternative %+v", alt)
	}
}

func TestExecEngineReportsCrash(t *testing.T) {
	script := writeScript(t, failingScript)
	looper := NewLooper(16, newLogger())
	t.Cleanup(looper.Close)
	engine, err := NewExecEngine(script, looper, newLogger())
	if err != nil {
		t.Fatalf("new exec engine: %v", err)
	}
	adapter := NewAdapter(engine, &fakePermissions{microphone: true, granted: true}, looper, newLogger())
	if err := adapter.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	sink := &recordingSink{}
	if err := adapter.Start(DefaultStartParams(), sink); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, 5*time.Second, func() bool {
		e, ok := lastEvent(sink)
		return ok && e.Type == EventEnd
	})
	events := sink.events()
	if !sameTypes(eventTypes(events), []EventType{EventError, EventEnd}) {
		t.Fatalf("unexpected events %v", eventTypes(events))
	}
	if events[0].Message != "Error 5" {
		t.Fatalf("unexpected error message %q", events[0].Message)
	}
}

func TestExecEngineRejectsEmptyCommand(t *testing.T) {
	if _, err := NewExecEngine("   ", nil, newLogger()); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestExecEngineUnavailableBinary(t *testing.T) {
	engine, err := NewExecEngine("definitely-not-a-recognizer-binary --flag", nil, newLogger())
	if err != nil {
		t.Fatalf("new exec engine: %v", err)
	}
	if engine.Available() {
		t.Fatal("expected missing binary to be unavailable")
	}
}

func newMockAdapter(t *testing.T, transcript string, delayMS int) (*Adapter, *Looper) {
	t.Helper()
	looper := NewLooper(16, newLogger())
	t.Cleanup(looper.Close)
	engine := NewMockEngine(config.RecognizerConfig{Available: true, MockTranscript: transcript, MockDelayMS: delayMS}, looper)
	adapter := NewAdapter(engine, &fakePermissions{microphone: true, granted: true}, looper, newLogger())
	if err := adapter.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	return adapter, looper
}

func hasEvent(sink *recordingSink, typ EventType) bool {
	for _, e := range sink.events() {
		if e.Type == typ {
			return true
		}
	}
	return false
}

func sessionIDs(sink *recordingSink) map[string]bool {
	ids := make(map[string]bool)
	for _, r := range sink.all() {
		ids[r.SessionID] = true
	}
	return ids
}

func TestMockEngineAbortBeforeReady(t *testing.T) {
	adapter, _ := newMockAdapter(t, "never heard", 150)
	sink := &recordingSink{}
	if err := adapter.Start(DefaultStartParams(), sink); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := adapter.Stop(true); err != nil {
		t.Fatalf("abort: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return hasEvent(sink, EventNoMatch) })
	time.Sleep(600 * time.Millisecond)
	if got := eventTypes(sink.events()); !sameTypes(got, []EventType{EventNoMatch}) {
		t.Fatalf("aborted session kept running: %v", got)
	}
}

func TestRestartKeepsTrailingResultOnPreviousSink(t *testing.T) {
	adapter, looper := newMockAdapter(t, "first speaker", 100)
	ids := []string{"session-a", "session-b"}
	adapter.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}

	first := &recordingSink{}
	if err := adapter.Start(DefaultStartParams(), first); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return hasEvent(first, EventSpeechStart) })

	second := &recordingSink{}
	if err := adapter.Start(DefaultStartParams(), second); err != nil {
		t.Fatalf("restart: %v", err)
	}
	looper.Sync()

	events := first.events()
	last := events[len(events)-1]
	if last.Type != EventResult || !last.Alternatives[0].Final || last.Alternatives[0].Transcript != "first speaker" {
		t.Fatalf("previous session did not receive its final result: %v", eventTypes(events))
	}
	if got := second.events(); len(got) != 0 {
		t.Fatalf("new session received previous session events: %v", eventTypes(got))
	}

	waitFor(t, 3*time.Second, func() bool {
		e, ok := lastEvent(second)
		return ok && e.Type == EventResult && e.Alternatives[0].Final
	})
	settled := len(first.all())
	looper.Sync()
	if len(first.all()) != settled {
		t.Fatal("previous session kept receiving replies after restart")
	}
	if got := sessionIDs(first); len(got) != 1 || !got["session-a"] {
		t.Fatalf("unexpected session ids on first sink %v", got)
	}
	if got := sessionIDs(second); len(got) != 1 || !got["session-b"] {
		t.Fatalf("unexpected session ids on second sink %v", got)
	}
}

func TestAbortThenRestartRoutesEachSession(t *testing.T) {
	adapter, looper := newMockAdapter(t, "turn it off", 60)

	first := &recordingSink{}
	if err := adapter.Execute(ActionStart, nil, first); err != nil {
		t.Fatalf("first start: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return hasEvent(first, EventSpeechStart) })
	if err := adapter.Execute(ActionAbort, nil, first); err != nil {
		t.Fatalf("abort: %v", err)
	}
	looper.Sync()
	waitFor(t, time.Second, func() bool { return hasEvent(first, EventResult) })
	firstCount := len(first.events())

	second := &recordingSink{}
	if err := adapter.Execute(ActionStart, nil, second); err != nil {
		t.Fatalf("second start: %v", err)
	}
	waitFor(t, 3*time.Second, func() bool {
		e, ok := lastEvent(second)
		return ok && e.Type == EventResult
	})

	want := []EventType{
		EventStart, EventAudioStart, EventSoundStart, EventSpeechStart,
		EventSpeechEnd, EventSoundEnd, EventAudioEnd, EventEnd,
		EventResult,
	}
	if got := eventTypes(second.events()); !sameTypes(got, want) {
		t.Fatalf("second session got %v want %v", got, want)
	}
	if len(first.events()) != firstCount {
		t.Fatalf("aborted session received events from the restart: %v", eventTypes(first.events()))
	}
}

func TestExecEngineAcceptsLargeBufferLines(t *testing.T) {
	script := writeScript(t, bufferingScript)
	looper := NewLooper(16, newLogger())
	t.Cleanup(looper.Close)
	engine, err := NewExecEngine(script, looper, newLogger())
	if err != nil {
		t.Fatalf("new exec engine: %v", err)
	}
	adapter := NewAdapter(engine, &fakePermissions{microphone: true, granted: true}, looper, newLogger())
	if err := adapter.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	sink := &recordingSink{}
	if err := adapter.Start(DefaultStartParams(), sink); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, 5*time.Second, func() bool {
		e, ok := lastEvent(sink)
		return ok && (e.Type == EventResult || e.Type == EventEnd && hasError(sink))
	})
	looper.Sync()

	if hasError(sink) {
		t.Fatalf("unexpected error reply %+v", sink.all())
	}
	e, _ := lastEvent(sink)
	if e.Type != EventResult || e.Alternatives[0].Transcript != "after audio" {
		t.Fatalf("expected final result after buffer line, got %v", eventTypes(sink.events()))
	}
}

func hasError(sink *recordingSink) bool {
	for _, r := range sink.all() {
		if r.Status == StatusError {
			return true
		}
	}
	return false
}
