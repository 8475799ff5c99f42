package feed

import (
	"context"
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultReconnectDelay is the pause between upstream connection attempts
const DefaultReconnectDelay = 5 * time.Second

// Client pulls a feed from an upstream receiver and reconnects when the
// connection drops
type Client struct {
	addr    string
	format  Format
	handler Handler
	logger  *logrus.Logger
	delay   time.Duration
	dialer  net.Dialer
}

// NewClient creates a client for addr; delay <= 0 selects DefaultReconnectDelay
func NewClient(addr string, format Format, handler Handler, logger *logrus.Logger, delay time.Duration) *Client {
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	return &Client{
		addr:    addr,
		format:  format,
		handler: handler,
		logger:  logger,
		delay:   delay,
		dialer:  net.Dialer{Timeout: 10 * time.Second},
	}
}

// Run connects and streams until ctx is done
func (c *Client) Run(ctx context.Context) error {
	log := c.logger.WithFields(logrus.Fields{
		"upstream": c.addr,
		"format":   c.format,
	})

	for {
		conn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
		if err == nil {
			log.Info("Connected to upstream feed")
			stop := context.AfterFunc(ctx, func() { conn.Close() })
			err = Stream(ctx, conn, c.format, c.handler, c.logger)
			stop()
			conn.Close()
		}

		if ctx.Err() != nil {
			log.Info("Upstream feed stopped")
			return nil
		}

		if err != nil {
			log.WithError(err).Warn("Upstream feed failed, reconnecting")
		} else {
			log.Warn("Upstream closed connection, reconnecting")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.delay):
		}
	}
}
