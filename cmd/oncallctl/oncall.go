package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/phonginreallife/oncall/db"
	"github.com/phonginreallife/oncall/services"
	"github.com/phonginreallife/oncall/store/memory"
)

// scheduleFile is a snapshot of shifts, overrides and users.
type scheduleFile struct {
	Users     []db.User             `json:"users"`
	Shifts    []db.Shift            `json:"shifts"`
	Overrides []db.ScheduleOverride `json:"overrides"`
}

func newOnCallCmd(opts *cliOptions) *cobra.Command {
	var schedulePath, at string

	cmd := &cobra.Command{
		Use:   "oncall <scheduler-or-group-id>",
		Short: "Resolve who is on call from a schedule snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			when := time.Now().UTC()
			if at != "" {
				parsed, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at must be RFC3339: %w", err)
				}
				when = parsed.UTC()
			}

			var file scheduleFile
			if err := readJSONFile(schedulePath, &file); err != nil {
				return err
			}
			store := memory.NewStore()
			for _, u := range file.Users {
				store.PutUser(u)
			}
			for _, sh := range file.Shifts {
				store.PutShift(sh)
			}
			for i := range file.Overrides {
				if err := store.CreateOverride(ctx, &file.Overrides[i]); err != nil {
					return err
				}
			}

			resolver := services.NewScheduleResolver(store, opts.logger)
			shift, err := resolver.EffectiveOnCall(ctx, args[0], when)
			if errors.Is(err, db.ErrNoOnCall) {
				fmt.Fprintf(cmd.OutOrStdout(), "No one is on call for %s at %s\n", args[0], when.Format(time.RFC3339))
				return nil
			}
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), shift)
		},
	}

	cmd.Flags().StringVar(&schedulePath, "schedule", "", "JSON file with users, shifts and overrides")
	cmd.Flags().StringVar(&at, "at", "", "instant to resolve, RFC3339 (default now)")
	_ = cmd.MarkFlagRequired("schedule")
	return cmd
}
