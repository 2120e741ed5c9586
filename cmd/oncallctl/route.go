package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/phonginreallife/oncall/db"
	"github.com/phonginreallife/oncall/services"
	"github.com/phonginreallife/oncall/store/memory"
)

// routingFile is a set of routing tables with their rules, as exported
// from the API.
type routingFile struct {
	Tables []struct {
		db.AlertRoutingTable
		Rules []db.AlertRoutingRule `json:"rules"`
	} `json:"tables"`
}

func newRouteCmd(opts *cliOptions) *cobra.Command {
	var rulesPath, alertPath string

	cmd := &cobra.Command{
		Use:   "route",
		Short: "Dry-run routing tables against an alert",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			var file routingFile
			if err := readJSONFile(rulesPath, &file); err != nil {
				return err
			}
			var attrs db.AlertAttributes
			if err := readJSONFile(alertPath, &attrs); err != nil {
				return err
			}

			store := memory.NewStore()
			for i, t := range file.Tables {
				table := t.AlertRoutingTable
				if table.ID == "" {
					table.ID = fmt.Sprintf("table-%d", i+1)
				}
				if err := store.CreateRoutingTable(ctx, &table); err != nil {
					return err
				}
				for j, rule := range t.Rules {
					rule.RoutingTableID = table.ID
					if rule.ID == "" {
						rule.ID = fmt.Sprintf("%s-rule-%d", table.ID, j+1)
					}
					if err := store.CreateRoutingRule(ctx, &rule); err != nil {
						return err
					}
				}
			}

			svc := services.NewRoutingService(store, services.SystemClock(), opts.logger, services.NewMetrics(prometheus.NewRegistry()))
			result, err := svc.TestRouting(ctx, attrs)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}

	cmd.Flags().StringVar(&rulesPath, "rules", "", "JSON file with routing tables and rules")
	cmd.Flags().StringVar(&alertPath, "alert", "", "JSON file with the alert attributes")
	_ = cmd.MarkFlagRequired("rules")
	_ = cmd.MarkFlagRequired("alert")
	return cmd
}
