package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"time-agent/internal/app"
	"time-agent/internal/transport"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Answer JSON-RPC requests on NATS_SUBJECT",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := app.Build(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		nt, err := transport.NewNATSTransport(transport.NATSConfig{
			URL:            cfg.NatsURL,
			Name:           cfg.AppName,
			Subject:        cfg.NatsSubject,
			ConnectTimeout: cfg.LLMTimeout,
			RequestTimeout: cfg.RequestTimeout,
			MaxInFlight:    cfg.NatsMaxInFlight,
		}, a.Handler, logger.Named("nats"))
		if err != nil {
			return err
		}
		defer nt.Close()

		if err := nt.Start(); err != nil {
			return err
		}
		<-ctx.Done()
		logger.Info("shutting down listener")
		return nil
	},
}
