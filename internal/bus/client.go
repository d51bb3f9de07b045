package bus

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loqalabs/loqa-speech-bridge/internal/config"
	"github.com/nats-io/nats.go"
)

// Client is the bridge's NATS connection. It reconnects indefinitely; a
// command's reply inbox stays valid across reconnects.
type Client struct {
	conn *nats.Conn
	log  *slog.Logger
}

func Connect(ctx context.Context, cfg config.BusConfig, log *slog.Logger) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log = log.With(slog.String("component", "bus"))

	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, connectOptions(cfg, log)...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	log.Info("connected to NATS", slog.String("server", conn.ConnectedUrl()))

	return &Client{conn: conn, log: log}, nil
}

func connectOptions(cfg config.BusConfig, log *slog.Logger) []nats.Option {
	options := []nats.Option{
		nats.Name("loqa-speech-bridge"),
		nats.Timeout(time.Duration(cfg.ConnectTimeout) * time.Millisecond),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			log.Info("NATS reconnected", slog.String("server", conn.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			attrs := []any{slog.String("error", err.Error())}
			if sub != nil {
				attrs = append(attrs, slog.String("subject", sub.Subject))
			}
			log.Warn("NATS async error", attrs...)
		}),
	}
	switch {
	case cfg.Token != "":
		options = append(options, nats.Token(cfg.Token))
	case cfg.Username != "" || cfg.Password != "":
		options = append(options, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.TLSInsecure {
		options = append(options, nats.Secure(&tls.Config{InsecureSkipVerify: true}))
	}
	return options
}

// PublishJSON encodes v and publishes it to subject.
func (c *Client) PublishJSON(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", subject, err)
	}
	return c.conn.Publish(subject, data)
}

func (c *Client) Close() {
	if c == nil || c.conn == nil {
		return
	}
	c.log.Info("closing NATS connection")
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
	}
}

func (c *Client) Healthy() bool {
	return c != nil && c.conn != nil && c.conn.IsConnected()
}

func (c *Client) Conn() *nats.Conn {
	return c.conn
}
