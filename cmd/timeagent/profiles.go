package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"time-agent/internal/app"
	"time-agent/internal/repository"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Manage the profile directory",
}

var profilesImportCmd = &cobra.Command{
	Use:   "import <file.csv>",
	Short: "Write every profile in a CSV file to PROFILE_TABLE",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.ProfileTable == "" {
			return errors.New("PROFILE_TABLE is not set")
		}
		rows, err := repository.LoadProfilesCSV(args[0])
		if err != nil {
			return err
		}

		a, err := app.Build(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		for _, p := range rows {
			if err := a.ProfileStore.PutProfile(cmd.Context(), p); err != nil {
				return fmt.Errorf("import %s: %w", p.User, err)
			}
		}
		logger.Info("imported profiles", zap.Int("count", len(rows)), zap.String("table", cfg.ProfileTable))
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d profiles\n", len(rows))
		return nil
	},
}

func init() {
	profilesCmd.AddCommand(profilesImportCmd)
}
