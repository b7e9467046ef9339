package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"time-agent/internal/app"
	"time-agent/internal/domain"
	"time-agent/internal/usecase"
)

var (
	convertSource  string
	convertTargets []string
)

var convertCmd = &cobra.Command{
	Use:   "convert <text...>",
	Short: "Run one conversion and print the task result as JSON",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.TrimSpace(strings.Join(args, " "))
		if text == "" {
			return errors.New("text must not be empty")
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.RequestTimeout)
		defer cancel()

		a, err := app.Build(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		msg := domain.A2AMessage{
			Kind:      "message",
			Role:      "user",
			MessageID: uuid.NewString(),
			Parts:     []domain.MessagePart{{Kind: domain.PartText, Text: text}},
		}
		meta := map[string]any{}
		if convertSource != "" {
			meta["source_timezone"] = convertSource
		}
		if len(convertTargets) > 0 {
			meta["target_timezones"] = convertTargets
		}
		if len(meta) > 0 {
			msg.Metadata = meta
		}

		task, err := a.Service.Convert(ctx, usecase.ConvertInput{Message: msg})
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(task)
	},
}

func init() {
	convertCmd.Flags().StringVar(&convertSource, "source", "", "Source time zone (IANA name)")
	convertCmd.Flags().StringSliceVar(&convertTargets, "target", nil, "Target time zones (repeatable or comma separated)")
}
