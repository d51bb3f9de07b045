package speech

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"

	"github.com/mattn/go-shellwords"
)

// execEngine drives an external recognizer process. The process receives the
// session parameters as flags and prints one JSON callback per line:
//
//	{"event":"ready"}
//	{"event":"partial","transcripts":["hel"],"confidences":[0.4]}
//	{"event":"results","transcripts":["hello"],"confidences":[0.92]}
//	{"event":"error","code":7}
//
// An interrupt signal asks the process to finish and report its results.
type execEngine struct {
	cmd      []string
	looper   *Looper
	log      *slog.Logger
	lookPath func(string) (string, error)

	listener   Listener
	generation int
	proc       *exec.Cmd
}

// maxLineBytes bounds one callback line; buffer callbacks carry raw audio.
const maxLineBytes = 16 << 20

type nativeMessage struct {
	Event       string         `json:"event"`
	Transcripts []string       `json:"transcripts,omitempty"`
	Confidences []float32      `json:"confidences,omitempty"`
	Code        int            `json:"code,omitempty"`
	EventType   int            `json:"event_type,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
	RMSdB       float32        `json:"rms_db,omitempty"`
	Buffer      []byte         `json:"buffer,omitempty"`
}

func NewExecEngine(command string, looper *Looper, log *slog.Logger) (Engine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse recognizer command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("recognizer command is empty")
	}
	return &execEngine{
		cmd:      args,
		looper:   looper,
		log:      log.With(slog.String("component", "exec-engine")),
		lookPath: exec.LookPath,
	}, nil
}

func (e *execEngine) Available() bool {
	_, err := e.lookPath(e.cmd[0])
	return err == nil
}

func (e *execEngine) Create(listener Listener) error {
	e.listener = listener
	return nil
}

func (e *execEngine) StartListening(req ListenRequest) error {
	if e.listener == nil {
		return ErrRecognizerNotCreated
	}
	e.kill()

	args := append([]string{}, e.cmd[1:]...)
	args = append(args, "--language", req.Language, "--max-alternatives", strconv.Itoa(req.MaxAlternatives))
	if req.InterimResults {
		args = append(args, "--partial")
	}

	proc := exec.Command(e.cmd[0], args...)
	var stderr bytes.Buffer
	proc.Stderr = &stderr
	stdout, err := proc.StdoutPipe()
	if err != nil {
		return fmt.Errorf("recognizer stdout: %w", err)
	}
	if err := proc.Start(); err != nil {
		return fmt.Errorf("start recognizer: %w", err)
	}

	e.generation++
	e.proc = proc
	go e.read(e.generation, proc, stdout, &stderr)
	return nil
}

func (e *execEngine) StopListening() error {
	if e.proc == nil || e.proc.Process == nil {
		return nil
	}
	if err := e.proc.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("interrupt recognizer: %w", err)
	}
	return nil
}

func (e *execEngine) kill() {
	if e.proc == nil || e.proc.Process == nil {
		return
	}
	e.generation++
	if err := e.proc.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		e.log.Warn("failed to kill recognizer", slogError(err))
	}
	e.proc = nil
}

func (e *execEngine) read(gen int, proc *exec.Cmd, stdout io.Reader, stderr *bytes.Buffer) {
	terminal := false
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg nativeMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			e.log.Warn("failed to decode recognizer output", slogError(err))
			continue
		}
		if msg.Event == "results" || msg.Event == "error" {
			terminal = true
		}
		e.post(gen, func() { e.deliver(msg) })
	}
	if err := scanner.Err(); err != nil {
		e.log.Warn("recognizer output read failed", slogError(err))
		// Keep the pipe drained so the process is never blocked on a write.
		_, _ = io.Copy(io.Discard, stdout)
	}

	err := proc.Wait()
	if err != nil {
		e.log.Warn("recognizer exited", slogError(err), slog.String("stderr", stderr.String()))
	}
	if !terminal {
		e.post(gen, func() { e.listener.OnError(NativeClientError) })
	}
}

func (e *execEngine) post(gen int, fn func()) {
	e.looper.Post(func() {
		if e.generation != gen {
			return
		}
		fn()
	})
}

func (e *execEngine) deliver(msg nativeMessage) {
	l := e.listener
	switch msg.Event {
	case "ready":
		l.OnReadyForSpeech()
	case "begin":
		l.OnBeginningOfSpeech()
	case "end":
		l.OnEndOfSpeech()
	case "partial":
		l.OnPartialResults(msg.Transcripts, msg.Confidences)
	case "results":
		l.OnResults(msg.Transcripts, msg.Confidences)
	case "error":
		l.OnError(msg.Code)
	case "buffer":
		l.OnBufferReceived(msg.Buffer)
	case "event":
		l.OnEvent(msg.EventType, msg.Params)
	case "rms":
		l.OnRmsChanged(msg.RMSdB)
	default:
		e.log.Debug("ignoring recognizer output", slog.String("event", msg.Event))
	}
}
