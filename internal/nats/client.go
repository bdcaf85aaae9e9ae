// Package natsclient carries lifecycle events and notifications over NATS.
package natsclient

import (
	"context"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

var ErrNotConnected = errors.New("nats not connected")

// Client is a reconnecting NATS connection used for both directions.
type Client struct {
	nc  *nats.Conn
	url string
	log *zap.Logger
}

func Connect(url, name string, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("nats")
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	log.Info("nats connected", zap.String("url", nc.ConnectedUrl()))
	return &Client{nc: nc, url: url, log: log}, nil
}

func (c *Client) Publish(ctx context.Context, subject string, payload []byte) error {
	if c.nc == nil || c.nc.IsClosed() {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.nc.Publish(subject, payload)
}

// Subscribe delivers every message on subject to fn from the NATS dispatch
// goroutine.
func (c *Client) Subscribe(subject string, fn func(subject string, data []byte)) (func() error, error) {
	if c.nc == nil || c.nc.IsClosed() {
		return nil, ErrNotConnected
	}
	sub, err := c.nc.Subscribe(subject, func(msg *nats.Msg) {
		fn(msg.Subject, msg.Data)
	})
	if err != nil {
		return nil, err
	}
	return sub.Unsubscribe, nil
}

// Close flushes pending publishes and drains the connection. Drain closes it
// once in-flight messages are handled.
func (c *Client) Close() {
	if c.nc == nil || c.nc.IsClosed() {
		return
	}
	if err := c.nc.FlushTimeout(2 * time.Second); err != nil {
		c.log.Warn("nats flush", zap.Error(err))
	}
	if err := c.nc.Drain(); err != nil {
		c.log.Warn("nats drain", zap.Error(err))
		c.nc.Close()
	}
}
