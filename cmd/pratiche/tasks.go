package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dukerupert/pratiche/internal/tasks"
	"github.com/spf13/cobra"
)

func tasksCmd(configPath *string) *cobra.Command {
	var (
		status, due, agency, caseFile string
		asJSON, asICS, refresh        bool
	)

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List tasks from the primary calendar",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := tasks.ParseStatus(status)
			if err != nil {
				return err
			}
			bucket, err := tasks.ParseDueBucket(due)
			if err != nil {
				return err
			}

			a, err := openApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if refresh {
				if err := a.srv.Session().EnsureReady(ctx); err != nil {
					return err
				}
				if err := a.srv.Gateway().Refresh(ctx); err != nil {
					return fmt.Errorf("refresh calendars: %w", err)
				}
			}

			items := a.srv.Agenda().Tasks(ctx, tasks.Filter{Status: st, Due: bucket, Agency: agency, CaseFileID: caseFile})

			switch {
			case asICS:
				return tasks.WriteICS(os.Stdout, items, time.Now())
			case asJSON:
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(items)
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DUE\tDONE\tTITLE\tCASE FILE\tAGENCY")
			for _, it := range items {
				dueText := "-"
				if it.Due != nil {
					dueText = it.Due.Local().Format("2006-01-02 15:04")
				}
				mark := " "
				switch {
				case it.Completed:
					mark = "x"
				case it.Overdue:
					mark = "!"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", dueText, mark, it.Title, it.CaseFile.Address, it.CaseFile.Agency)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVarP(&status, "status", "s", "all", "all, pending, done or overdue")
	cmd.Flags().StringVarP(&due, "due", "d", "all", "all, today, tomorrow or this-week")
	cmd.Flags().StringVar(&agency, "agency", "", "Only tasks of this agency")
	cmd.Flags().StringVar(&caseFile, "case-file", "", "Only tasks of this case file id")
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "Output as JSON")
	cmd.Flags().BoolVar(&asICS, "ics", false, "Output as an iCalendar VTODO feed")
	cmd.Flags().BoolVar(&refresh, "refresh", true, "Fetch calendars before listing")

	return cmd
}
