// Package commsutil provides relay connection helpers for the message bus.
package commsutil

import (
	"fmt"
	"log/slog"
	"time"

	comms "github.com/nats-io/nats.go"
)

const logPrefix = "commsutil:connect"

// ConnectOptions tunes Connect. Zero values use defaults.
type ConnectOptions struct {
	Timeout       time.Duration
	ReconnectWait time.Duration
	// MaxReconnects of -1 retries forever, which is what long lived servers want.
	MaxReconnects int
}

// DefaultConnectOptions returns the options used by Connect.
func DefaultConnectOptions() ConnectOptions {
	return ConnectOptions{
		Timeout:       10 * time.Second,
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// Connect opens a relay connection to url identifying as name.
func Connect(url, name string) (*comms.Conn, error) {
	return ConnectWithOptions(url, name, DefaultConnectOptions())
}

// ConnectWithOptions is Connect with explicit tuning.
func ConnectWithOptions(url, name string, o ConnectOptions) (*comms.Conn, error) {
	def := DefaultConnectOptions()
	if o.Timeout <= 0 {
		o.Timeout = def.Timeout
	}
	if o.ReconnectWait <= 0 {
		o.ReconnectWait = def.ReconnectWait
	}
	if o.MaxReconnects == 0 {
		o.MaxReconnects = def.MaxReconnects
	}

	slog.Info(fmt.Sprintf("%s - Connecting to relay at %s as %s", logPrefix, url, name))

	nc, err := comms.Connect(url,
		comms.Name(name),
		comms.Timeout(o.Timeout),
		comms.ReconnectWait(o.ReconnectWait),
		comms.MaxReconnects(o.MaxReconnects),
		comms.DisconnectErrHandler(func(_ *comms.Conn, err error) {
			slog.Warn(fmt.Sprintf("%s - relay disconnected: %v", logPrefix, err))
		}),
		comms.ReconnectHandler(func(nc *comms.Conn) {
			slog.Info(fmt.Sprintf("%s - relay reconnected to %s", logPrefix, nc.ConnectedUrl()))
		}),
		comms.ClosedHandler(func(nc *comms.Conn) {
			slog.Info(fmt.Sprintf("%s - relay connection closed", logPrefix))
		}),
		comms.ErrorHandler(func(_ *comms.Conn, sub *comms.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			slog.Error(fmt.Sprintf("%s - async relay error on %q: %v", logPrefix, subject, err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to connect to relay: %w", logPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Connected to relay at %s", logPrefix, nc.ConnectedUrl()))
	return nc, nil
}
