package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"time-agent/internal/app"
	"time-agent/internal/config"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log, err := app.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	// ---- Clients and handler ----
	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to build agent", zap.Error(err))
	}
	defer a.Close()

	lambda.Start(a.Handler.Handle)
}
