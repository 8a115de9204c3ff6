// ABOUTME: Embedded NATS server carrying webhook deliveries into the gateway
// ABOUTME: Runs in-process with no clustering; clients connect over loopback

package bus

import (
	"fmt"
	"log/slog"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
)

// RandomPort asks the embedded server to pick a free port.
const RandomPort = natsserver.RANDOM_PORT

// Config selects the listen address of the embedded server.
type Config struct {
	Host string
	// Port 0 means the NATS default (4222); use RandomPort for an ephemeral one.
	Port int
}

// Server wraps an embedded nats-server.
type Server struct {
	ns     *natsserver.Server
	logger *slog.Logger
}

// Start boots the embedded server and waits until it accepts connections.
func Start(cfg Config, logger *slog.Logger) (*Server, error) {
	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}
	opts := &natsserver.Options{
		Host:   host,
		Port:   cfg.Port,
		NoLog:  true,
		NoSigs: true,
	}

	ns, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create nats server: %w", err)
	}
	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("nats server not ready")
	}

	logger = logger.With("component", "bus")
	logger.Info("embedded NATS started", "url", ns.ClientURL())
	return &Server{ns: ns, logger: logger}, nil
}

// ClientURL is the nats:// URL clients dial.
func (s *Server) ClientURL() string {
	return s.ns.ClientURL()
}

// Close shuts the server down and waits for it to exit.
func (s *Server) Close() {
	s.ns.Shutdown()
	s.ns.WaitForShutdown()
	s.logger.Info("embedded NATS stopped")
}
