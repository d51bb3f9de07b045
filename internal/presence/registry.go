package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-speech-bridge/internal/bus"
	"github.com/loqalabs/loqa-speech-bridge/internal/config"
	"github.com/loqalabs/loqa-speech-bridge/internal/protocol"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// NodeInfo is the last known state of a speech bridge node.
type NodeInfo struct {
	ID                  string    `json:"id"`
	Role                string    `json:"role"`
	RecognizerAvailable bool      `json:"recognizer_available"`
	LastSeen            time.Time `json:"last_seen"`
	Healthy             bool      `json:"healthy"`
}

type heartbeatMessage struct {
	NodeID              string    `json:"node_id"`
	RecognizerAvailable bool      `json:"recognizer_available"`
	Timestamp           time.Time `json:"timestamp"`
}

// Registry announces the local node, tracks peers from their announcements
// and heartbeats, and marks a node unhealthy once its heartbeat lapses.
type Registry struct {
	cfg       config.NodeConfig
	log       *slog.Logger
	bus       *bus.Client
	available func() bool
	mu        sync.RWMutex
	nodes     map[string]*NodeInfo
	heartbeat *time.Ticker
	cancel    context.CancelFunc
	subs      []*nats.Subscription
	meter     metric.Meter
}

func NewRegistry(ctx context.Context, cfg config.NodeConfig, busClient *bus.Client, available func() bool, log *slog.Logger) (*Registry, error) {
	ctx, cancel := context.WithCancel(ctx)
	if available == nil {
		available = func() bool { return false }
	}
	r := &Registry{
		cfg:       cfg,
		log:       log.With(slog.String("component", "presence-registry")),
		bus:       busClient,
		available: available,
		nodes:     make(map[string]*NodeInfo),
		meter:     otel.Meter("github.com/loqalabs/loqa-speech-bridge/presence"),
		cancel:    cancel,
	}

	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}

	if err := r.subscribe(); err != nil {
		r.cancel()
		return nil, err
	}

	r.heartbeat = time.NewTicker(time.Duration(cfg.HeartbeatInterval) * time.Millisecond)
	go r.runHeartbeat(ctx)
	go r.monitorHealth(ctx)

	if err := r.Announce(); err != nil {
		r.log.Warn("failed to announce node", slog.String("error", err.Error()))
	}

	return r, nil
}

func (r *Registry) Close() {
	if r.cancel != nil {
		r.cancel()
	}
	if r.heartbeat != nil {
		r.heartbeat.Stop()
	}
	for _, sub := range r.subs {
		_ = sub.Drain()
	}
}

func (r *Registry) subscribe() error {
	conn := r.bus.Conn()
	announceSub, err := conn.Subscribe(protocol.SubjectNodeAnnounce, r.handleAnnounce)
	if err != nil {
		return fmt.Errorf("subscribe announce: %w", err)
	}
	r.subs = append(r.subs, announceSub)

	heartbeatSub, err := conn.Subscribe(protocol.SubjectNodeHeartbeatPrefix+".*", r.handleHeartbeat)
	if err != nil {
		return fmt.Errorf("subscribe heartbeat: %w", err)
	}
	r.subs = append(r.subs, heartbeatSub)
	return nil
}

func (r *Registry) runHeartbeat(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.heartbeat.C:
			if err := r.publishHeartbeat(); err != nil {
				r.log.Warn("failed to publish heartbeat", slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Registry) monitorHealth(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.evaluateHealth()
		}
	}
}

// Announce publishes the local node. Call it again after the recognizer's
// availability changes so peers learn of it before the next heartbeat.
func (r *Registry) Announce() error {
	msg := protocol.NodeAnnouncement{
		NodeID:              r.cfg.ID,
		Role:                r.cfg.Role,
		RecognizerAvailable: r.available(),
		Timestamp:           time.Now().UTC(),
	}
	if err := r.bus.PublishJSON(protocol.SubjectNodeAnnounce, msg); err != nil {
		return err
	}
	r.updateNode(msg.NodeID, msg.Role, msg.RecognizerAvailable, msg.Timestamp)
	return nil
}

func (r *Registry) publishHeartbeat() error {
	msg := heartbeatMessage{
		NodeID:              r.cfg.ID,
		RecognizerAvailable: r.available(),
		Timestamp:           time.Now().UTC(),
	}
	subject := fmt.Sprintf("%s.%s", protocol.SubjectNodeHeartbeatPrefix, r.cfg.ID)
	return r.bus.PublishJSON(subject, msg)
}

func (r *Registry) handleAnnounce(msg *nats.Msg) {
	var announcement protocol.NodeAnnouncement
	if err := json.Unmarshal(msg.Data, &announcement); err != nil {
		r.log.Warn("invalid announce message", slog.String("error", err.Error()))
		return
	}
	if announcement.NodeID == "" {
		return
	}
	if announcement.Timestamp.IsZero() {
		announcement.Timestamp = time.Now().UTC()
	}
	r.updateNode(announcement.NodeID, announcement.Role, announcement.RecognizerAvailable, announcement.Timestamp)
}

func (r *Registry) handleHeartbeat(msg *nats.Msg) {
	var hb heartbeatMessage
	if err := json.Unmarshal(msg.Data, &hb); err != nil {
		r.log.Warn("invalid heartbeat message", slog.String("error", err.Error()))
		return
	}
	if hb.NodeID == "" {
		return
	}
	if hb.Timestamp.IsZero() {
		hb.Timestamp = time.Now().UTC()
	}
	r.updateNode(hb.NodeID, "", hb.RecognizerAvailable, hb.Timestamp)
}

func (r *Registry) updateNode(nodeID, role string, available bool, timestamp time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[nodeID]
	if !ok {
		node = &NodeInfo{ID: nodeID}
		r.nodes[nodeID] = node
	}
	if role != "" {
		node.Role = role
	}
	node.RecognizerAvailable = available
	node.LastSeen = timestamp
	node.Healthy = true
}

func (r *Registry) evaluateHealth() {
	r.mu.Lock()
	defer r.mu.Unlock()

	timeout := time.Duration(r.cfg.HeartbeatTimeout) * time.Millisecond
	now := time.Now()
	for _, node := range r.nodes {
		if now.Sub(node.LastSeen) > timeout {
			node.Healthy = false
		}
	}
}

// Healthy reports whether the local node is currently considered alive.
func (r *Registry) Healthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	node, ok := r.nodes[r.cfg.ID]
	if !ok {
		return false
	}
	return node.Healthy
}

func (r *Registry) Query(filter func(NodeInfo) bool) []NodeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []NodeInfo
	for _, node := range r.nodes {
		info := *node
		if filter == nil || filter(info) {
			results = append(results, info)
		}
	}
	return results
}

func (r *Registry) initMetrics() error {
	if r.meter == nil {
		return nil
	}
	nodeGauge, err := r.meter.Int64ObservableGauge("speech.presence.nodes", metric.WithDescription("Number of known speech nodes"))
	if err != nil {
		return err
	}
	readyGauge, err := r.meter.Int64ObservableGauge("speech.presence.available", metric.WithDescription("Healthy nodes with an available recognizer"))
	if err != nil {
		return err
	}
	_, err = r.meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		nodes, ready := r.snapshotCounts()
		obs.ObserveInt64(nodeGauge, nodes)
		obs.ObserveInt64(readyGauge, ready)
		return nil
	}, nodeGauge, readyGauge)
	return err
}

func (r *Registry) snapshotCounts() (int64, int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var nodes, ready int64
	for _, node := range r.nodes {
		nodes++
		if node.Healthy && node.RecognizerAvailable {
			ready++
		}
	}
	return nodes, ready
}

// WithRecognizer keeps healthy nodes whose recognizer is available.
func WithRecognizer() func(NodeInfo) bool {
	return func(node NodeInfo) bool {
		return node.Healthy && node.RecognizerAvailable
	}
}

func WithRoleFilter(role string) func(NodeInfo) bool {
	return func(node NodeInfo) bool {
		return node.Role == role
	}
}
