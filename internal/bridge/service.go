package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/loqalabs/loqa-speech-bridge/internal/bus"
	"github.com/loqalabs/loqa-speech-bridge/internal/config"
	"github.com/loqalabs/loqa-speech-bridge/internal/protocol"
	"github.com/loqalabs/loqa-speech-bridge/internal/speech"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Executor runs a speech command and reports replies to sink.
type Executor interface {
	Execute(action string, args speech.Args, sink speech.Sink) error
}

// Service receives speech commands over NATS and streams every reply for a
// command to that command's reply subject. NATS delivers messages of one
// subscription sequentially, which serializes command dispatch.
type Service struct {
	cfg      config.BridgeConfig
	bus      *bus.Client
	executor Executor
	logger   *slog.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	sub      *nats.Subscription
	mu       sync.Mutex

	tracer   trace.Tracer
	commands metric.Int64Counter
	events   metric.Int64Counter
}

func NewService(parent context.Context, cfg config.BridgeConfig, busClient *bus.Client, executor Executor, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:      cfg,
		bus:      busClient,
		executor: executor,
		logger:   logger.With(slog.String("component", "speech-bridge")),
		ctx:      ctx,
		cancel:   cancel,
		tracer:   otel.Tracer("github.com/loqalabs/loqa-speech-bridge/bridge"),
	}
	if err := s.initMetrics(); err != nil {
		s.logger.Warn("failed to initialize metrics", slogError(err))
	}
	return s
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(s.cfg.CommandSubject, s.handleCommand)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()
	s.logger.Info("speech bridge listening", slog.String("subject", s.cfg.CommandSubject))
	return nil
}

func (s *Service) Close() {
	s.cancel()
	s.mu.Lock()
	sub := s.sub
	s.mu.Unlock()
	if sub != nil {
		_ = sub.Drain()
	}
}

func (s *Service) Healthy() bool {
	if !s.cfg.Enabled {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sub != nil && s.sub.IsValid()
}

func (s *Service) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/loqa-speech-bridge/bridge")
	commands, err := meter.Int64Counter("speech.commands", metric.WithDescription("Speech commands received, by action and outcome"))
	if err != nil {
		return err
	}
	events, err := meter.Int64Counter("speech.events", metric.WithDescription("Replies streamed to clients, by status and event type"))
	if err != nil {
		return err
	}
	s.commands = commands
	s.events = events
	return nil
}

func (s *Service) handleCommand(msg *nats.Msg) {
	parent := otel.GetTextMapPropagator().Extract(s.ctx, propagation.HeaderCarrier(msg.Header))
	ctx, span := s.tracer.Start(parent, "speech.command", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	var cmd protocol.Command
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		s.logger.Warn("failed to decode speech command", slogError(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid command")
		s.reply(msg.Reply, protocol.Reply{Status: protocol.StatusError, Message: "Invalid command: " + err.Error()})
		return
	}
	span.SetAttributes(attribute.String("speech.action", cmd.Action))

	if msg.Reply == "" {
		s.logger.Debug("speech command without reply subject", slog.String("action", cmd.Action))
	}
	sink := &replySink{service: s, ctx: ctx, subject: msg.Reply}

	outcome := "ok"
	if err := s.executor.Execute(cmd.Action, speech.Args(cmd.Args), sink); err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		level := slog.LevelInfo
		if errors.Is(err, speech.ErrUnknownCommand) {
			level = slog.LevelWarn
		}
		s.logger.Log(ctx, level, "speech command failed", slog.String("action", cmd.Action), slogError(err))
	}
	if s.commands != nil {
		s.commands.Add(ctx, 1, metric.WithAttributes(
			attribute.String("action", cmd.Action),
			attribute.String("outcome", outcome),
		))
	}
}

func (s *Service) reply(subject string, r protocol.Reply) {
	if subject == "" {
		return
	}
	if err := s.bus.PublishJSON(subject, r); err != nil {
		s.logger.Warn("failed to publish reply", slogError(err))
	}
}

// replySink streams replies for one command to its reply subject. It stays
// valid after the command handler returns so the adapter can keep sending
// session events to it.
type replySink struct {
	service *Service
	ctx     context.Context
	subject string
}

func (r *replySink) Send(reply speech.Reply) {
	envelope := protocol.Reply{
		Status:    reply.Status.String(),
		Keep:      reply.Keep,
		Message:   reply.Message,
		SessionID: reply.SessionID,
	}
	eventType := "none"
	if reply.Event != nil {
		data, err := json.Marshal(reply.Event)
		if err != nil {
			r.service.logger.Warn("failed to marshal speech event", slogError(err))
			return
		}
		envelope.Event = data
		eventType = string(reply.Event.Type)
	}
	if r.service.events != nil {
		r.service.events.Add(context.WithoutCancel(r.ctx), 1, metric.WithAttributes(
			attribute.String("status", envelope.Status),
			attribute.String("event", eventType),
		))
	}
	r.service.reply(r.subject, envelope)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
