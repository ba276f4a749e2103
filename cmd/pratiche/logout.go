package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func logoutCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored calendar token",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			session := a.srv.Session()
			if err := session.EnsureReady(cmd.Context()); err != nil {
				a.logger.Warn("calendar client not ready, clearing stored token anyway", "error", err)
			}
			email := session.AccountEmail()
			session.Logout()

			if email == "" {
				fmt.Println("no calendar account was connected")
				return nil
			}
			fmt.Printf("disconnected %s\n", email)
			return nil
		},
	}
}
