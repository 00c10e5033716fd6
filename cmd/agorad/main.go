// Command agorad runs the agora marketplace coordinator: one process, one
// persistent-connection endpoint, plus the read-only discovery API.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"agora/internal/adapter/gateway"
	"agora/internal/adapter/ledger"
	"agora/internal/adapter/notify"
	"agora/internal/domain"
	"agora/internal/infra/config"
	"agora/internal/infra/logger"
	"agora/internal/infra/tracer"
	"agora/internal/usecase/announce"
	"agora/internal/usecase/coordinator"
	"agora/internal/usecase/discovery"
	"agora/internal/usecase/eventbus"
	"agora/internal/usecase/orderbook"
	"agora/internal/usecase/registry"
	"agora/internal/usecase/subscription"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "path to YAML configuration file")
		addr       = flag.String("addr", "", "override gateway listen address")
	)
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if *addr != "" {
		cfg.Gateway.Addr = *addr
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return err
	}
	defer shutdownTracer(context.Background())

	bus := eventbus.New(log)
	defer bus.Close()

	var settlements domain.SettlementLedger
	if cfg.Ledger.Enabled {
		sl, err := ledger.Open(cfg.Ledger.Path)
		if err != nil {
			return err
		}
		defer sl.Close()
		settlements = sl
		log.Info("settlement ledger open", "path", cfg.Ledger.Path)
	}

	clock := domain.SystemClock{}
	reg := registry.New(clock, log)
	subs := subscription.NewIndex()
	orderTimeout, err := cfg.OrderTimeout()
	if err != nil {
		return err
	}
	book := orderbook.New(reg, clock, orderTimeout, log)
	coord := coordinator.New(reg, subs, book, bus, settlements, clock, log)

	disc := discovery.New(coord, log)
	if err := disc.Start(cfg.Discovery.RefreshSchedule); err != nil {
		return err
	}
	defer disc.Stop()

	if cfg.Notify.Enabled {
		notifyTimeout, err := cfg.NotifyTimeout()
		if err != nil {
			return err
		}
		wh := notify.NewWebhook(notify.Config{
			URL:         cfg.Notify.URL,
			Timeout:     notifyTimeout,
			MaxFailures: cfg.Notify.MaxFailures,
		}, bus, log)
		defer wh.Stop()
		log.Info("webhook notifier enabled", "url", cfg.Notify.URL)
	}

	if cfg.Announce.Enabled {
		port, err := listenPort(cfg.Gateway.Addr)
		if err != nil {
			return fmt.Errorf("announce: %w", err)
		}
		ann, err := announce.Start(cfg.Announce.Instance, port, log)
		if err != nil {
			return err
		}
		defer ann.Stop()
	}

	go func() {
		if err := coord.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("coordinator stopped", "error", err)
		}
	}()

	srv := gateway.NewServer(gateway.Config{
		Addr:       cfg.Gateway.Addr,
		SendBuffer: cfg.Gateway.SendBuffer,
		RateLimit:  cfg.Gateway.RateLimit,
		RateBurst:  cfg.Gateway.RateBurst,
		AuthTokens: cfg.Gateway.AuthTokens,
	}, coord, disc, settlements, coord.Metrics(), nil, log)

	return srv.Start(ctx)
}

func listenPort(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(portStr)
}
