package nats

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	berr "github.com/next-trace/scg-service-admin/contract/errors"
)

// DefaultClientName identifies admin and worker connections in the server's connz output.
const DefaultClientName = "scg-service-admin"

// Config describes the connection carrying catalog change broadcasts.
// A zero MaxReconnects keeps the client default; a negative value reconnects forever,
// which is what long-running workers want.
type Config struct {
	URL           string
	Name          string
	ConnTimeout   time.Duration
	MaxReconnects int
	ReconnectWait time.Duration
	// Logger receives disconnect and reconnect notices; nil discards them.
	Logger *slog.Logger
}

func (cfg Config) options() []nats.Option {
	name := cfg.Name
	if name == "" {
		name = DefaultClientName
	}

	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	opts := []nats.Option{
		nats.Name(name),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats: broadcast connection lost", "name", name, "err", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats: broadcast connection restored", "name", name, "url", nc.ConnectedUrlRedacted())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			log.Debug("nats: broadcast connection closed", "name", name)
		}),
	}

	if cfg.ConnTimeout > 0 {
		opts = append(opts, nats.Timeout(cfg.ConnTimeout))
	}

	if cfg.MaxReconnects != 0 {
		opts = append(opts, nats.MaxReconnects(cfg.MaxReconnects))
	}

	if cfg.ReconnectWait > 0 {
		opts = append(opts, nats.ReconnectWait(cfg.ReconnectWait))
	}

	return opts
}

type natsClient struct{ nc *nats.Conn }

// Publish sends one change event and flushes so the admin operation returns only
// after the server has the broadcast.
func (c natsClient) Publish(subject string, data []byte, headers map[string]string) error {
	if err := c.nc.PublishMsg(&nats.Msg{Subject: subject, Data: data, Header: toHeader(headers)}); err != nil {
		return err
	}

	return c.nc.Flush()
}

// Subscribe registers a plain subscription; every worker gets its own copy.
func (c natsClient) Subscribe(subject string, h MsgHandler) (func() error, error) {
	sub, err := c.nc.Subscribe(subject, func(m *nats.Msg) { h(m.Data, fromHeader(m.Header)) })
	if err != nil {
		return nil, err
	}

	// the server must know the interest before the caller treats it as live
	if err := c.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, err
	}

	return sub.Unsubscribe, nil
}

func toHeader(headers map[string]string) nats.Header {
	if len(headers) == 0 {
		return nil
	}

	h := make(nats.Header, len(headers))
	for k, v := range headers {
		h.Set(k, v)
	}

	return h
}

func fromHeader(h nats.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}

	return out
}

// NewWithNATS connects to the broadcast bus and returns an Adapter and its cleanup.
func NewWithNATS(cfg Config) (*Adapter, func(), error) {
	if cfg.URL == "" {
		return nil, nil, fmt.Errorf("%w: nats url required", berr.ErrPublishFailed)
	}

	nc, err := nats.Connect(cfg.URL, cfg.options()...)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: nats connect %s: %w", berr.ErrPublishFailed, cfg.URL, err)
	}

	ad := New(natsClient{nc: nc})
	ad.Logger = cfg.Logger

	cleanup := func() {
		if !nc.IsClosed() {
			_ = nc.Drain()
			nc.Close()
		}
	}

	return ad, cleanup, nil
}
