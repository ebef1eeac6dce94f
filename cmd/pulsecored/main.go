// Command pulsecored wires the core packages into a runnable binary: it
// loads configuration, builds the formatter registry and admission store,
// registers one example opcode handler, and serves connections until an
// interrupt or terminate signal is received.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/pulsehub/pulsecore/admission"
	"github.com/pulsehub/pulsecore/config"
	"github.com/pulsehub/pulsecore/connection"
	"github.com/pulsehub/pulsecore/corelog"
	"github.com/pulsehub/pulsecore/formatter"
	"github.com/pulsehub/pulsecore/listener"
	"github.com/pulsehub/pulsecore/protocol"
)

// OpcodePing is the one example opcode this binary wires up end to end:
// it replies with an OpcodePong packet carrying the same payload bytes.
const OpcodePing uint16 = 1
const OpcodePong uint16 = 2

func main() {
	configPath := flag.String("config", "", "path to a TOML config file; defaults to a conservative baseline")
	flag.Parse()

	log := corelog.New(corelog.Config{Console: true, Level: corelog.INFO})

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Error("config load failed", 1, corelog.AddError(err))
			os.Exit(1)
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		log.Error("config invalid", 2, corelog.AddError(err))
		os.Exit(1)
	}

	reg := formatter.NewRegistry()
	formatter.RegisterStrings(reg, formatter.DefaultMaxString)

	store := admission.New(cfg.BanDuration())
	rateLimiter := admission.NewRateLimiterCriterion(admission.RateLimiterConfig{
		MaxRequests:    cfg.RateLimit.MaxRequests,
		Window:         cfg.RateWindow(),
		LockoutSeconds: cfg.RateLimit.LockoutSeconds,
	})
	if err := store.AddCriterion(rateLimiter); err != nil {
		log.Error("registering rate limiter criterion failed", 3, corelog.AddError(err))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go purgeLoop(ctx, store, cfg.PurgeInterval())

	lc := listener.Config{
		Bind:           cfg.Listener.Bind,
		MaxConnections: cfg.Listener.MaxConnections,
		MaxPacketSize:  cfg.Packet.MaxSize,
		HeapThreshold:  cfg.Packet.HeapAllocThreshold,
		ConnConfig: connection.Config{
			TxHighWater: cfg.Connection.TxHighWater,
			TxLowWater:  cfg.Connection.TxLowWater,
			IdleTimeout: cfg.IdleTimeout(),
		},
		ShutdownDeadline: 5 * time.Second,
	}
	l := listener.New(lc, store, log)

	l.Register(OpcodePing, func(conn *connection.Connection, p *protocol.Packet) listener.Action {
		log.Debug("ping received", 100, corelog.String("remote", conn.RemoteAddrString()))
		return listener.Reply(protocol.New(OpcodePong, 0, 0, 0, p.Payload))
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serveDone := make(chan error, 1)
	go func() { serveDone <- l.Serve(ctx) }()

	log.Info("pulsecored started", 0, corelog.String("bind", cfg.Listener.Bind))

	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", 0, corelog.String("signal", sig.String()))
	case err := <-serveDone:
		if err != nil {
			log.Error("listener exited with error", 4, corelog.AddError(err))
		}
	}

	cancel()
	l.Shutdown()
	_ = log.Sync()
}

func purgeLoop(ctx context.Context, store *admission.Store, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			store.Purge()
		}
	}
}
