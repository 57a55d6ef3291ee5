package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/suPer8Hu/sportlens/internal/app"
	"github.com/suPer8Hu/sportlens/internal/task"
)

var taskFilter struct {
	status     string
	sport      string
	provenance string
}

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "list analysis tasks: yours, this profile's guest tasks and samples",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := bootstrap(ctx, app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		var owned []task.Task
		sess, ok, err := flagSession(a)
		if err != nil {
			return err
		}
		if ok {
			if owned, err = a.TaskAPI.List(ctx, sess.AccessToken); err != nil {
				return err
			}
		}
		samples := task.RefreshSampleURLs(ctx, a.Signer, task.Samples(), a.Log)
		all := task.FilterTasks(task.Combine(owned, a.Guests.List(), samples), task.Filter{
			Status:     task.Status(taskFilter.status),
			Sport:      taskFilter.sport,
			Provenance: task.Provenance(taskFilter.provenance),
		})

		now := time.Now()
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSOURCE\tSPORT\tSTATUS\tREMAINING\tCREATED")
		for _, t := range all {
			remaining := "-"
			if rem, ok := t.Remaining(now); ok {
				remaining = rem.Round(time.Second).String()
				if rem < 0 {
					remaining = "overdue"
				}
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", t.ID, t.Provenance, t.Sport, t.Status, remaining, t.CreatedAt.Local().Format(time.DateTime))
		}
		return w.Flush()
	},
}

func init() {
	tasksCmd.Flags().StringVar(&taskFilter.status, "status", "", "pending, processing, completed or failed")
	tasksCmd.Flags().StringVar(&taskFilter.sport, "sport", "", "sport name, case-insensitive")
	tasksCmd.Flags().StringVar(&taskFilter.provenance, "source", "", "authenticated, guest or sample")
	rootCmd.AddCommand(tasksCmd)
}
