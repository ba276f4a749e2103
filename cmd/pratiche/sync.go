package main

import (
	"errors"
	"fmt"

	"github.com/dukerupert/pratiche/internal/completion"
	"github.com/spf13/cobra"
)

func syncCmd(configPath *string) *cobra.Command {
	var pull bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push queued completion changes and report what is left",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if err := a.srv.Session().EnsureReady(ctx); err != nil {
				a.logger.Debug("calendar client not ready", "error", err)
			}
			user := a.srv.ActingUser()
			svc := a.srv.Completion()

			report, err := svc.FlushPendingChanges(ctx, user)
			var transient *completion.TransientSyncError
			if err != nil && !errors.As(err, &transient) {
				return err
			}
			fmt.Printf("synced %d, failed %d, pending %d\n", report.Synced, report.Failed, svc.PendingCount())
			if transient != nil {
				fmt.Printf("remote unavailable: %v\n", transient)
			}

			if pull {
				if err := svc.SyncAllFromRemote(ctx, user); err != nil {
					fmt.Printf("pull skipped: %v\n", err)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&pull, "pull", false, "Also refresh the local cache from the remote store")
	return cmd
}
