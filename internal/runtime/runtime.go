package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-speech-bridge/internal/bridge"
	"github.com/loqalabs/loqa-speech-bridge/internal/bus"
	"github.com/loqalabs/loqa-speech-bridge/internal/config"
	"github.com/loqalabs/loqa-speech-bridge/internal/natsserver"
	"github.com/loqalabs/loqa-speech-bridge/internal/permission"
	"github.com/loqalabs/loqa-speech-bridge/internal/presence"
	"github.com/loqalabs/loqa-speech-bridge/internal/speech"
	"github.com/nats-io/nats.go"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	metricsSrv  *http.Server
	tracerClose func(context.Context) error
	embedded    *natsserver.EmbeddedServer
	bus         *bus.Client
	looper      *speech.Looper
	adapter     *speech.Adapter
	bridge      *bridge.Service
	presence    *presence.Registry
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	if err := r.startServices(ctx); err != nil {
		r.stopServices()
		r.closeTelemetry()
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/nodes", r.handleNodes)
	if metricsHandler != nil && r.cfg.Telemetry.PrometheusBind == "" {
		mux.Handle("/metrics", metricsHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.serve(r.httpServer, "http server failed")

	if metricsHandler != nil && r.cfg.Telemetry.PrometheusBind != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricsHandler)
		r.metricsSrv = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.serve(r.metricsSrv, "metrics server failed")
	}

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr), slog.String("node_id", r.cfg.Node.ID))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	for _, srv := range []*http.Server{r.httpServer, r.metricsSrv} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	r.stopServices()
	r.closeTelemetry()
	return nil
}

func (r *Runtime) startServices(ctx context.Context) error {
	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("start embedded nats: %w", err)
	}
	r.embedded = embedded

	busCfg := r.cfg.Bus
	if embedded != nil {
		busCfg.Servers = []string{embedded.ClientURL()}
	}
	busClient, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return fmt.Errorf("connect bus: %w", err)
	}
	r.bus = busClient

	r.looper = speech.NewLooper(r.cfg.Recognizer.LooperBacklog, r.logger)
	engine, err := speech.NewEngine(r.cfg.Recognizer, r.looper, r.logger)
	if err != nil {
		return fmt.Errorf("create speech engine: %w", err)
	}
	perms := newPermissions(r.cfg.Permission, r.cfg.Node.ID, busClient.Conn(), r.logger)
	r.adapter = speech.NewAdapter(engine, perms, r.looper, r.logger)

	registry, err := presence.NewRegistry(ctx, r.cfg.Node, busClient, r.adapter.RecognizerAvailable, r.logger)
	if err != nil {
		return fmt.Errorf("start presence registry: %w", err)
	}
	r.presence = registry

	executor := &announcingExecutor{adapter: r.adapter, presence: registry, logger: r.logger}
	r.bridge = bridge.NewService(ctx, r.cfg.Bridge, busClient, executor, r.logger)
	if err := r.bridge.Start(); err != nil {
		return fmt.Errorf("start speech bridge: %w", err)
	}
	return nil
}

func (r *Runtime) stopServices() {
	if r.presence != nil {
		r.presence.Close()
	}
	if r.bridge != nil {
		r.bridge.Close()
	}
	if r.looper != nil {
		r.looper.Close()
	}
	if r.bus != nil {
		r.bus.Close()
	}
	r.embedded.Shutdown()
}

func (r *Runtime) closeTelemetry() {
	if r.tracerClose == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.tracerClose(ctx); err != nil {
		r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
	}
}

func (r *Runtime) serve(srv *http.Server, failure string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error(failure, slog.String("addr", srv.Addr), slog.String("error", err.Error()))
		}
	}()
}

// newPermissions selects the permission source for the adapter.
func newPermissions(cfg config.PermissionConfig, nodeID string, conn *nats.Conn, logger *slog.Logger) speech.Permissions {
	microphone := permission.ProbeMicrophone(cfg.Microphone, cfg.ProbePath)
	logger.Info("microphone probed", slog.Bool("present", microphone), slog.String("mode", cfg.Mode))
	switch cfg.Mode {
	case "prompt":
		return permission.NewPrompter(conn, cfg, nodeID, microphone, logger)
	case "denied":
		return permission.NewStatic(microphone, false)
	default:
		return permission.NewStatic(microphone, true)
	}
}

func (r *Runtime) healthy() bool {
	return r.bus != nil && r.bus.Healthy() && r.bridge.Healthy()
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if !r.healthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("unhealthy"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.healthy() && r.presence.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handleNodes(w http.ResponseWriter, req *http.Request) {
	filter := func(presence.NodeInfo) bool { return true }
	if req.URL.Query().Get("available") == "true" {
		filter = presence.WithRecognizer()
	}
	nodes := r.presence.Query(filter)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(nodes); err != nil {
		r.logger.Warn("failed to encode nodes", slog.String("error", err.Error()))
	}
}
