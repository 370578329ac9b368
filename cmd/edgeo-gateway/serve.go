// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	gateway "github.com/edgeo-scada/gateway"
	"github.com/edgeo-scada/gateway/internal/api"
	"github.com/edgeo-scada/gateway/internal/bridge"
	"github.com/edgeo-scada/gateway/internal/bus"
	"github.com/edgeo-scada/gateway/internal/config"
	"github.com/edgeo-scada/gateway/internal/push"
	"github.com/edgeo-scada/gateway/internal/uastack"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway",
	Long: `Run the HTTP API and the WebSocket push endpoint.

The gateway starts disconnected. Clients discover endpoints with
GET /api/opcua/connection?url=... and connect with POST /api/opcua/connection.
Data changes of active subscriptions are pushed to every client connected
to /ws/opcua.

Settings come from flags, OPCUA_GW_* environment variables, an optional
.env file and an optional config file, in that order of precedence.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("listen", ":8000", "HTTP listen address")
	serveCmd.Flags().String("cert-dir", gateway.DefaultCertDir, "Directory holding the client certificate and key")
	serveCmd.Flags().String("nats-url", "", "Mirror change events to this NATS server")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}

	logger, err := cfg.Log.NewLogger(os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := bus.New(logger)
	metrics := gateway.NewMetrics()
	notifier := gateway.NewNotifier(b, cfg.Push.Group, metrics, logger)

	stack := uastack.New(
		uastack.WithRequestTimeout(cfg.Timeouts.Request),
		uastack.WithLogger(logger),
	)

	session, err := gateway.NewSession(stack,
		gateway.WithCertDir(cfg.CertDir),
		gateway.WithApplicationURI(cfg.ApplicationURI),
		gateway.WithDialTimeout(cfg.Timeouts.Connect),
		gateway.WithChangeSink(notifier),
		gateway.WithMetrics(metrics),
		gateway.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	pushOpts := []push.Option{
		push.WithBuffer(cfg.Push.Buffer),
		push.WithPingInterval(cfg.Push.PingInterval),
		push.WithWriteTimeout(cfg.Push.WriteTimeout),
		push.WithLogger(logger),
	}
	if cfg.Push.AllowAnyOrigin {
		pushOpts = append(pushOpts, push.WithAllowAnyOrigin())
	}

	routes := api.New(session, stack,
		api.WithRequestTimeout(cfg.Timeouts.Request),
		api.WithDiscoveryTimeout(cfg.Timeouts.Discovery),
		api.WithPushHandler(push.NewHandler(b, cfg.Push.Group, pushOpts...)),
		api.WithStats(b.Stats),
		api.WithLogger(logger),
	).Routes()

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           routes,
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)

	if cfg.NATS.URL != "" {
		nc, err := bridge.DialNATS(cfg.NATS.URL, logger)
		if err != nil {
			return fmt.Errorf("connect to nats: %w", err)
		}
		defer nc.Close()

		fwd := bridge.NewForwarder(b, cfg.Push.Group, nc, cfg.NATS.Subject, cfg.Push.Buffer, logger)
		eg.Go(func() error { return fwd.Run(ctx) })
	}

	eg.Go(func() error {
		logger.Info("gateway listening",
			slog.String("addr", cfg.Listen),
			slog.String("version", gateway.Version),
			slog.String("push_group", cfg.Push.Group))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		if cerr := session.Close(shutdownCtx); cerr != nil {
			logger.Warn("failed to close opcua session", slog.String("error", cerr.Error()))
		}
		return err
	})

	if err := eg.Wait(); err != nil {
		return err
	}
	logger.Info("gateway stopped")
	return nil
}
