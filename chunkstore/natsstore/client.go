package natsstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	snaperrors "github.com/c360/snapstream/errors"
)

// ClientConfig holds NATS connection settings for a chunk store client.
type ClientConfig struct {
	URL           string        `json:"url"`
	Name          string        `json:"name"`
	Timeout       time.Duration `json:"timeout"`
	ReconnectWait time.Duration `json:"reconnect_wait"`
	MaxReconnects int           `json:"max_reconnects"`

	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Token    string `json:"token,omitempty"`
}

// DefaultClientConfig returns connection defaults suitable for a local
// JetStream server.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		URL:           nats.DefaultURL,
		Name:          "snapstream",
		Timeout:       5 * time.Second,
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // retry forever; chunk I/O already times out per call
	}
}

// Validate checks the configuration and fills defaulted fields.
func (c *ClientConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("natsstore: empty NATS URL: %w", snaperrors.ErrInvalidConfig)
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = 2 * time.Second
	}
	return nil
}

// Connect establishes a NATS connection with JetStream enabled and opens
// the named object store bucket. The returned close function drains the
// connection.
func Connect(ctx context.Context, cfg ClientConfig, bucket string, logger *slog.Logger) (*Store, func(), error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}
	if cfg.Username != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("natsstore: connect %q: %w: %w", cfg.URL, snaperrors.ErrStorageUnavailable, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("natsstore: jetstream: %w", err)
	}

	store, err := NewBucket(ctx, js, bucket)
	if err != nil {
		nc.Close()
		return nil, nil, err
	}

	logger.Info("Connected chunk store", "url", cfg.URL, "bucket", bucket)
	closeFn := func() {
		if err := nc.Drain(); err != nil {
			logger.Warn("NATS drain failed", "error", err)
			nc.Close()
		}
	}
	return store, closeFn, nil
}
