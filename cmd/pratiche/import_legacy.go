package main

import (
	"fmt"
	"os"

	"github.com/dukerupert/pratiche/internal/completion"
	"github.com/spf13/cobra"
)

func importLegacyCmd(configPath *string) *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "import-legacy <file.json>",
		Short: "Import completion flags exported from the old device-local store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read legacy file: %w", err)
			}
			if _, err := completion.ParseLegacy(data); err != nil {
				return err
			}

			a, err := openApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.srv.LocalStore().Set(completion.LegacyKey, string(data)); err != nil {
				return fmt.Errorf("store legacy data: %w", err)
			}

			if user == "" {
				if err := a.srv.Session().EnsureReady(cmd.Context()); err != nil {
					a.logger.Debug("calendar client not ready", "error", err)
				}
				user = a.srv.ActingUser()
			}

			report, err := a.srv.Completion().MigrateFromLegacy(cmd.Context(), user)
			if err != nil {
				return err
			}
			if report.AlreadyDone {
				fmt.Printf("legacy data already imported for %s\n", user)
				return nil
			}
			fmt.Printf("imported %d, kept remote value for %d\n", report.Imported, report.Skipped)
			return nil
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", "", "User id to import for (default: connected account or configured user)")
	return cmd
}
