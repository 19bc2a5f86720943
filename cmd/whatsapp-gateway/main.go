// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command whatsapp-gateway serves a multi-tenant WhatsApp gateway. Each
// client ID gets its own linked device, paired by scanning a QR code, and
// can send text messages over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"

	"github.com/aiku/whatsapp-gateway/pkg/api"
	"github.com/aiku/whatsapp-gateway/pkg/connector"
	"github.com/aiku/whatsapp-gateway/pkg/gateway"
	"github.com/aiku/whatsapp-gateway/pkg/journal"
	"github.com/aiku/whatsapp-gateway/pkg/notify"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const (
	name            = "whatsapp-gateway"
	shutdownTimeout = 15 * time.Second
)

var (
	configPath     = flag.StringP("config", "c", "config.yaml", "Path to the config file.")
	noUpdate       = flag.BoolP("no-update", "n", false, "Don't save updated config to disk.")
	generateConfig = flag.BoolP("generate-example-config", "e", false, "Save the example config to the config path and quit.")
	version        = flag.Bool("version", false, "Print the version and quit.")
)

func main() {
	flag.Parse()
	if *version {
		fmt.Printf("%s %s (commit %s, built %s)\n", name, Tag, Commit, BuildTime)
		return
	}
	if *generateConfig {
		if err := os.WriteFile(*configPath, []byte(ExampleConfig), 0o600); err != nil {
			fmt.Fprintln(os.Stderr, "Failed to write example config:", err)
			os.Exit(1)
		}
		fmt.Println("Wrote example config to", *configPath)
		return
	}

	cfg, err := loadConfig(*configPath, *noUpdate)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(10)
	}
	log, err := cfg.Logging.Compile()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to initialize logger:", err)
		os.Exit(11)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err = run(ctx, cfg, *log); err != nil {
		log.Fatal().Err(err).Msg("Gateway stopped with error")
	}
}

func run(ctx context.Context, cfg *Config, log zerolog.Logger) error {
	log.Info().Str("version", Tag).Str("commit", Commit).Msg("Starting WhatsApp gateway")
	if cfg.AdminKey == "" {
		log.Warn().Msg("No admin key configured, admin endpoints are unavailable")
	}

	store, err := connector.NewStore(cfg.WhatsApp.DataDir, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Err(err).Msg("Failed to close credential store")
		}
	}()

	hub := api.NewEventHub(log)
	defer hub.Close()
	observers := []gateway.Observer{hub}

	if n := newNotifier(cfg.Notify, log); n.Enabled() {
		observers = append(observers, n)
		defer n.Wait()
	}

	var history api.History
	if cfg.Journal.Enabled() {
		j, err := journal.Open(ctx, cfg.Journal, log)
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := j.Close(closeCtx); err != nil {
				log.Err(err).Msg("Failed to close lifecycle journal")
			}
		}()
		observers = append(observers, j)
		history = j
	}

	mgr := gateway.NewManager(gateway.Options{
		Store:          store,
		Factory:        connector.NewFactory(log),
		Log:            log,
		ReconnectDelay: cfg.WhatsApp.ReconnectDelay,
		Observers:      observers,
	})
	defer mgr.Close()

	if cfg.WhatsApp.CleanupInterval > 0 && cfg.WhatsApp.IdleTimeout > 0 {
		go mgr.RunCleanup(ctx, cfg.WhatsApp.CleanupInterval, cfg.WhatsApp.IdleTimeout)
	}

	srv := &http.Server{
		Addr: cfg.Listen.Addr(),
		Handler: api.New(api.Options{
			Manager:        mgr,
			AdminKey:       cfg.AdminKey,
			AllowedOrigins: cfg.CORS.AllowedOrigins,
			FallbackSend:   cfg.WhatsApp.FallbackSend,
			CountryCode:    cfg.WhatsApp.CountryCode,
			History:        history,
			Events:         hub,
			Log:            log,
		}).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Sends wait for pairing and existence checks.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err = <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err = srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP server did not shut down cleanly")
	}
	return nil
}

// newNotifier builds the operator notifier from every complete notify block.
func newNotifier(cfg NotifyConfig, log zerolog.Logger) *notify.Notifier {
	var senders []notify.Sender
	if cfg.Mattermost.Enabled() {
		senders = append(senders, notify.NewMattermostSender(cfg.Mattermost))
	}
	if cfg.Matrix.Enabled() {
		mx, err := notify.NewMatrixSender(cfg.Matrix)
		if err != nil {
			log.Warn().Err(err).Msg("Matrix notifications disabled")
		} else {
			senders = append(senders, mx)
		}
	}
	return notify.New(log, senders...)
}
