//go:build !mdns

// Package announce advertises the coordinator endpoint over mDNS/DNS-SD.
// Without the mdns build tag it compiles to a no-op so default builds carry
// no multicast networking.
package announce

import "log/slog"

// Announcer is the no-op stand-in used when mDNS support is compiled out.
type Announcer struct{}

// Start logs that announcement support is absent and succeeds.
func Start(instance string, port int, logger *slog.Logger) (*Announcer, error) {
	logger.Debug("mdns announcement not compiled in (build with -tags mdns)")
	return &Announcer{}, nil
}

// Stop is a no-op.
func (a *Announcer) Stop() {}
