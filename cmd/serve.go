package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dcrawley/reveald/internal/core/auth"
	"github.com/dcrawley/reveald/internal/core/control"
	"github.com/dcrawley/reveald/internal/core/normalize"
	"github.com/dcrawley/reveald/internal/core/poll"
	"github.com/dcrawley/reveald/internal/core/reveal"
	"github.com/dcrawley/reveald/internal/core/state"
	"github.com/dcrawley/reveald/internal/httpapi"
	"github.com/dcrawley/reveald/internal/mqtt"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the polling daemon with MQTT and HTTP surfaces",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Vendor access: token manager + REST client + normalizer.
	tokens := auth.NewTokenManager(cfg.Reveal.Username, cfg.Reveal.Password, log)
	client := reveal.New(tokens, log)
	if cfg.Reveal.APIBase != "" {
		client.SetBaseURL(cfg.Reveal.APIBase)
	}
	defer client.Close()
	tokens.SetAccountResolver(client)

	norm := normalize.New(client, log)
	bus := state.NewEventBus(log)

	coord := poll.New(tokens, norm, bus, cfg.Poll.Interval, log)
	if err := coord.Start(ctx); err != nil {
		// The loop keeps retrying on its interval, so a failed first
		// poll is not fatal.
		log.Error("initial poll failed", "error", err)
	}
	defer coord.Stop()

	dispatcher := control.NewDispatcher(client, coord, bus, log)

	// MQTT surface.
	var publisher mqtt.Publisher
	if cfg.MQTT.Enabled {
		publisher = mqtt.NewHAPublisher(mqtt.MQTTConfig{
			Broker:      cfg.MQTT.Broker,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			ClientID:    cfg.MQTT.ClientID,
		}, dispatcher, coord, bus, log)
	} else {
		publisher = mqtt.NewStubPublisher(log)
	}
	if err := publisher.Start(ctx); err != nil {
		return fmt.Errorf("start mqtt publisher: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		publisher.Stop(stopCtx)
	}()

	// HTTP surface.
	api := httpapi.NewServer(coord, dispatcher, bus, cfg.HTTP.CORSAll, log)
	srv := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: api.Handler(),
	}

	errC := make(chan error, 1)
	go func() {
		log.Info("HTTP API listening", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errC <- err
		}
	}()

	select {
	case err := <-errC:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Warn("http shutdown", "error", err)
	}
	return nil
}
