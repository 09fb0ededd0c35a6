package commsutil

import (
	"fmt"
	"log/slog"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
)

const embeddedLogPrefix = "commsutil:embedded"

// StartEmbedded runs an in-process relay broker on host:port. Use port -1
// for a random free port. The caller shuts it down with Shutdown.
func StartEmbedded(host string, port int) (*commsserver.Server, error) {
	opts := &commsserver.Options{
		ServerName: "streamcall-embedded",
		Host:       host,
		Port:       port,
		NoLog:      true,
		NoSigs:     true,
	}

	ns, err := commsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create broker: %w", embeddedLogPrefix, err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("%s - broker not ready on %s:%d", embeddedLogPrefix, host, port)
	}

	slog.Info(fmt.Sprintf("%s - Embedded broker listening at %s", embeddedLogPrefix, ns.ClientURL()))
	return ns, nil
}
