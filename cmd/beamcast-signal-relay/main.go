package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	"github.com/beamcast/signal-relay/internal/config"
	"github.com/beamcast/signal-relay/internal/conn"
	"github.com/beamcast/signal-relay/internal/httpserver"
	"github.com/beamcast/signal-relay/internal/metrics"
	"github.com/beamcast/signal-relay/internal/room"
	"github.com/beamcast/signal-relay/internal/signaling"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	// Load a local .env if present; real environment variables win.
	_ = godotenv.Load()

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting beamcast-signal-relay",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"max_connections", cfg.MaxConnections,
		"max_rooms", cfg.MaxRooms,
		"max_viewers_per_room", cfg.MaxViewersPerRoom,
		"max_message_bytes", cfg.MaxMessageBytes,
		"max_messages_per_second", cfg.MaxMessagesPerSecond,
		"heartbeat_interval", cfg.HeartbeatInterval,
		"room_ttl", cfg.RoomTTL,
		"janitor_interval", cfg.JanitorInterval,
		"static_dir_set", cfg.StaticDir != "",
	)

	logStartupSecurityWarnings(logger, cfg)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	m := metrics.New()
	registry := conn.NewRegistry(logger, m, cfg.MaxConnections, cfg.HeartbeatInterval)
	table := room.NewTable(logger, m, room.Limits{
		MaxRooms:          cfg.MaxRooms,
		MaxViewersPerRoom: cfg.MaxViewersPerRoom,
	})
	janitor := room.NewJanitor(logger, table, cfg.JanitorInterval, cfg.RoomTTL)

	sig := signaling.NewServer(signaling.Config{
		Logger:               logger,
		Metrics:              m,
		Registry:             registry,
		Rooms:                table,
		MaxMessageBytes:      cfg.MaxMessageBytes,
		MaxMessagesPerSecond: cfg.MaxMessagesPerSecond,
	})

	m.RegisterGauge("signal_relay_connections", "Registered WebSocket connections.", func() int64 {
		return int64(registry.Len())
	})
	m.RegisterGauge("signal_relay_rooms", "Live rooms.", func() int64 {
		rooms, _ := table.Counts()
		return int64(rooms)
	})
	m.RegisterGauge("signal_relay_viewers", "Viewers across all rooms.", func() int64 {
		_, viewers := table.Counts()
		return int64(viewers)
	})

	commit, built := resolveBuildInfo(buildCommit, buildTime)
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built}, sig)
	sig.RegisterRoutes(srv.Mux())

	// Expose internal counters in Prometheus' text format.
	srv.Mux().Handle("GET /metrics", metrics.PrometheusHandler(m))

	sweepCtx, cancelSweeps := context.WithCancel(context.Background())
	defer cancelSweeps()
	go registry.Run(sweepCtx)
	go janitor.Run(sweepCtx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, httpserver.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}

	// The HTTP server does not track hijacked sockets, so the signaling
	// connections get their own goodbye.
	registry.CloseAll(websocket.CloseGoingAway, "server shutting down")
	waitForDrain(registry, 2*time.Second)

	if err := <-errCh; err != nil && !errors.Is(err, httpserver.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

// waitForDrain gives the write pumps a moment to flush close frames before
// the process exits.
func waitForDrain(registry *conn.Registry, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for registry.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(25 * time.Millisecond)
	}
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
