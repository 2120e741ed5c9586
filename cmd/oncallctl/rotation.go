package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/phonginreallife/oncall/db"
	"github.com/phonginreallife/oncall/services"
	"github.com/phonginreallife/oncall/store/memory"
)

func newRotationCmd(opts *cliOptions) *cobra.Command {
	var (
		req    db.CreateRotationCycleRequest
		group  string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "rotation",
		Short: "Work with rotation cycles",
	}

	preview := &cobra.Command{
		Use:   "preview",
		Short: "Print the shifts a rotation cycle would generate",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc := services.NewRotationService(memory.NewStore(), services.SystemClock(), opts.logger)
			periods, err := svc.PreviewRotation(group, req)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), periods)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PERIOD\tUSER\tSTART\tEND")
			for _, p := range periods {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", p.Period, p.UserID, p.StartTime.Format(time.RFC3339), p.EndTime.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}

	flags := preview.Flags()
	flags.StringVar(&group, "group", "preview", "group the shifts belong to")
	flags.StringVar(&req.RotationType, "type", db.ScheduleTypeWeekly, "rotation type: daily, weekly or custom")
	flags.IntVar(&req.RotationDays, "days", 0, "period length in days for custom rotations")
	flags.StringVar(&req.StartDate, "start-date", "", "first day of the rotation, YYYY-MM-DD")
	flags.StringVar(&req.StartTime, "start-time", "", "daily window start, HH:MM (default 00:00)")
	flags.StringVar(&req.EndTime, "end-time", "", "daily window end, HH:MM (default 23:59)")
	flags.StringVar(&req.Timezone, "timezone", "", "IANA timezone of the window (default UTC)")
	flags.StringSliceVar(&req.MemberOrder, "members", nil, "user ids in rotation order")
	flags.IntVar(&req.WeeksAhead, "periods", 4, "number of periods to generate")
	flags.BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	_ = preview.MarkFlagRequired("start-date")
	_ = preview.MarkFlagRequired("members")

	cmd.AddCommand(preview)
	return cmd
}
