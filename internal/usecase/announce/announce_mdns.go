//go:build mdns

// Package announce advertises the coordinator endpoint over mDNS/DNS-SD so
// agents on the local network can find the marketplace without static
// configuration.
package announce

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/grandcat/zeroconf"
)

const (
	serviceType   = "_agora._tcp"
	serviceDomain = "local."
)

// Announcer keeps the mDNS registration alive until stopped.
type Announcer struct {
	server *zeroconf.Server
	logger *slog.Logger
}

// Start registers the marketplace endpoint. instance defaults to the
// hostname when empty.
func Start(instance string, port int, logger *slog.Logger) (*Announcer, error) {
	if instance == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "agora"
		}
		instance = host
	}

	server, err := zeroconf.Register(instance, serviceType, serviceDomain, port,
		[]string{"proto=agora-marketplace-v1"}, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}

	logger.Info("mdns announcement started",
		"instance", instance,
		"service", serviceType,
		"port", port,
	)
	return &Announcer{server: server, logger: logger}, nil
}

// Stop withdraws the mDNS registration.
func (a *Announcer) Stop() {
	a.server.Shutdown()
	a.logger.Info("mdns announcement stopped")
}
