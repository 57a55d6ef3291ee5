package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/suPer8Hu/sportlens/internal/app"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "migrate guest tasks and reconcile chats for --token's user",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd.Context(), app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		sess, ok, err := flagSession(a)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("sync needs --token")
		}
		if err := a.SyncFor(cmd.Context(), sess); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "synced %d chats for %s\n", len(a.Chats.ListChats()), sess.UserID)
		return nil
	},
}

var migrateIDsCmd = &cobra.Command{
	Use:   "migrate-ids",
	Short: "rewrite legacy timestamp chat ids to UUIDs",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd.Context(), app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.MigrateLegacyIDs()
		if err != nil {
			return err
		}
		if report.Skipped {
			fmt.Fprintln(cmd.OutOrStdout(), "already migrated")
			return nil
		}
		for from, to := range report.Mapping {
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", from, to)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd, migrateIDsCmd)
}
