// Command multichat-server runs the group relay: it accepts connections on
// a TCP (optionally TLS, optionally also QUIC/WebTransport) listener, and
// fans messages out between virtual users across named groups.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/htrefil/multichat/internal/config"
	"github.com/htrefil/multichat/internal/conn"
	"github.com/htrefil/multichat/internal/group"
	"github.com/htrefil/multichat/internal/httpapi"
	"github.com/htrefil/multichat/internal/metrics"
	"github.com/htrefil/multichat/internal/transport"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <config-file>\n", os.Args[0])
		os.Exit(2)
	}

	if err := run(os.Args[1]); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	registry := group.NewRegistry()
	counters := &metrics.Counters{}

	var wg sync.WaitGroup

	tcpLn, err := listenChat(cfg)
	if err != nil {
		return err
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		acceptLoop(ctx, tcpLn, registry, counters, cfg)
	}()

	var quicLn *transport.QUICListener
	if cfg.QUIC.Listen != "" {
		quicLn, err = transport.ListenQUIC(cfg.QUIC.Listen, cfg.TLS.Certificate, cfg.TLS.Key)
		if err != nil {
			return fmt.Errorf("listen quic: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			acceptLoop(ctx, quicLn, registry, counters, cfg)
		}()
	}

	if cfg.AdminListen != "" {
		admin := httpapi.New(registry, counters)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := admin.Run(ctx, cfg.AdminListen); err != nil {
				slog.Error("admin http server", "err", err)
			}
		}()
	}

	slog.Info("multichat server started", "listen", cfg.Listen)
	<-ctx.Done()
	slog.Info("shutting down")

	_ = tcpLn.Close()
	if quicLn != nil {
		_ = quicLn.Close()
	}
	wg.Wait()
	return nil
}

func listenChat(cfg config.Config) (transport.Listener, error) {
	if cfg.TLS.Certificate != "" {
		return transport.ListenTLS(cfg.Listen, cfg.TLS.Certificate, cfg.TLS.Key)
	}
	return transport.ListenTCP(cfg.Listen)
}

func acceptLoop(ctx context.Context, ln transport.Listener, registry *group.Registry, counters *metrics.Counters, cfg config.Config) {
	for {
		stream, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				slog.Warn("accept failed", "err", err)
				return
			}
		}

		c := conn.New(stream, registry, conn.Config{
			MaxSize:      cfg.MaxSize,
			UpdateBuffer: cfg.UpdateBuffer,
			PingInterval: cfg.PingInterval,
			PingTimeout:  cfg.PingTimeout,
			RateLimit:    cfg.RateLimit,
			AllowList:    cfg.AllowList,
			Counters:     counters,
		})

		counters.ActiveConnections.Add(1)
		go func() {
			defer counters.ActiveConnections.Add(-1)
			serveConn(ctx, c, counters)
		}()
	}
}

func serveConn(ctx context.Context, c *conn.Conn, counters *metrics.Counters) {
	params, err := c.Handshake()
	if err != nil {
		slog.Warn("handshake failed", "conn_id", c.ID(), "err", err)
		return
	}
	_ = params

	slog.Info("connection established", "conn_id", c.ID())
	if err := c.Run(ctx); err != nil {
		slog.Info("connection closed", "conn_id", c.ID(), "err", err)
	} else {
		slog.Info("connection closed", "conn_id", c.ID())
	}
}
