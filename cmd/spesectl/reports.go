package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"spese/internal/amqp"
	"spese/internal/budget"
	"spese/internal/core"
	"spese/internal/recurrence"
	"spese/internal/services"
)

func materializeCommand(a *app) *cobra.Command {
	var (
		owner, ruleID int64
		from, to      string
	)
	cmd := &cobra.Command{
		Use:   "materialize",
		Short: "Print the occurrences of a recurring rule in a date window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			windowStart, err := core.ParseDate(from)
			if err != nil {
				return err
			}
			windowEnd, err := core.ParseDate(to)
			if err != nil {
				return err
			}

			repo, err := a.repository()
			if err != nil {
				return err
			}
			st, err := repo.GetRule(cmd.Context(), owner, ruleID)
			if err != nil {
				return err
			}
			names, err := repo.CategoryNames(cmd.Context(), owner)
			if err != nil {
				return err
			}

			seq, err := recurrence.Materialize(st.Rule, windowStart, windowEnd)
			if err != nil {
				return err
			}

			tw := newTable(cmd.OutOrStdout(), "DATE", "CATEGORY", "AMOUNT", "STORED")
			total := core.Money{}
			for o := range seq {
				stored := !st.LastMaterialized.IsZero() && !o.Date.After(st.LastMaterialized)
				tw.row(o.Date, categoryLabel(names, o.CategoryID), o.Amount, stored)
				if total, err = total.Add(o.Amount); err != nil {
					return err
				}
			}
			tw.row("", "total", total, "")
			if err := tw.flush(); err != nil {
				return err
			}

			if next, ok, err := recurrence.NextAfter(st.Rule, windowEnd); err == nil && ok {
				fmt.Fprintf(cmd.OutOrStdout(), "\nnext occurrence after %s: %s\n", windowEnd, next)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&owner, "owner", 0, "owner id")
	cmd.Flags().Int64Var(&ruleID, "rule", 0, "recurring rule id")
	cmd.Flags().StringVar(&from, "from", "", "window start YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "window end YYYY-MM-DD")
	for _, f := range []string{"owner", "rule", "from", "to"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func budgetStatusCommand(a *app) *cobra.Command {
	var (
		owner, category   int64
		period            string
		projected, notify bool
	)
	cmd := &cobra.Command{
		Use:   "budget-status",
		Short: "Show spent versus allocated per category for a period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := core.ParsePeriod(period)
			if err != nil {
				return err
			}
			repo, err := a.repository()
			if err != nil {
				return err
			}

			var publisher services.EventPublisher
			if notify {
				if publisher, err = a.publisher(); err != nil {
					return err
				}
			}

			svc := services.NewReportService(repo, a.occurrences(), publisher)
			res, err := svc.BudgetStatus(cmd.Context(), owner, p, services.BudgetStatusOptions{
				Projected: projected,
				Notify:    notify,
			})
			if err != nil {
				return err
			}
			names, err := repo.CategoryNames(cmd.Context(), owner)
			if err != nil {
				return err
			}

			tw := newTable(cmd.OutOrStdout(), "CATEGORY", "ALLOCATED", "SPENT", "REMAINING", "STATE")
			for _, id := range res.Report.Categories() {
				if category != 0 && id != category {
					continue
				}
				st := res.Report.ByCategory[id]
				tw.row(categoryLabel(names, id), st.Allocated, st.Spent, st.Remaining, st.State)
			}
			o := res.Report.Overall
			tw.row("overall", o.Allocated, o.Spent, o.Remaining, o.State)
			if err := tw.flush(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if projected {
				fmt.Fprintf(out, "\nincludes %d projected occurrences\n", len(res.Projected))
			}
			if notify {
				fmt.Fprintf(out, "published %d budget.exceeded events\n", res.Notified)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&owner, "owner", 0, "owner id")
	cmd.Flags().StringVar(&period, "period", "", "period as YYYY-MM or YYYY")
	cmd.Flags().BoolVar(&projected, "projected", false, "include occurrences of recurring rules not stored yet")
	cmd.Flags().BoolVar(&notify, "notify", false, "publish budget.exceeded events for over-budget rows")
	cmd.Flags().Int64Var(&category, "category", 0, "only show this category id next to the overall row")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("period")
	return cmd
}

func summaryCommand(a *app) *cobra.Command {
	var (
		owner, category int64
		period, groupBy string
	)
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Total expenses of a period by category or month",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := core.ParsePeriod(period)
			if err != nil {
				return err
			}
			g, err := budget.ParseGroupBy(groupBy)
			if err != nil {
				return err
			}
			repo, err := a.repository()
			if err != nil {
				return err
			}

			summary, err := services.NewReportService(repo, a.occurrences(), nil).Summary(cmd.Context(), owner, p,
				services.SummaryOptions{GroupBy: g, CategoryID: category})
			if err != nil {
				return err
			}

			tw := newTable(cmd.OutOrStdout(), "GROUP", "COUNT", "TOTAL")
			for _, r := range summary.Rows {
				tw.row(r.Group, r.Count, r.Total)
			}
			tw.row("total", summary.Count, summary.Total)
			return tw.flush()
		},
	}
	cmd.Flags().Int64Var(&owner, "owner", 0, "owner id")
	cmd.Flags().StringVar(&period, "period", "", "period as YYYY-MM or YYYY")
	cmd.Flags().StringVar(&groupBy, "group-by", string(budget.ByCategory), "category or month")
	cmd.Flags().Int64Var(&category, "category", 0, "only this category id (default all)")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("period")
	return cmd
}

func runRecurringCommand(a *app) *cobra.Command {
	var (
		owner int64
		date  string
	)
	cmd := &cobra.Command{
		Use:   "run-recurring",
		Short: "Store due recurring expenses once, for one owner or all of them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			if date != "" {
				d, err := core.ParseDate(date)
				if err != nil {
					return err
				}
				now = d.Time
			}

			repo, err := a.repository()
			if err != nil {
				return err
			}
			publisher, err := a.publisher()
			if err != nil {
				a.logger.Warn("Failed to initialize AMQP client, continuing without events", "error", err)
				publisher = nil
			}

			config := services.DefaultRecurringProcessorConfig()
			config.LookbackDays = a.cfg.RecurringLookbackDays
			processor := services.NewRecurringProcessor(repo, a.occurrences(), publisher, config)

			var res services.RunResult
			if owner > 0 {
				res, err = processor.Process(cmd.Context(), owner, now)
			} else {
				res, err = processor.ProcessAll(cmd.Context(), now)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "owners %d, rules %d, created %d, skipped %d, failed %d\n",
				res.Owners, res.Rules, res.Created, res.Skipped, res.Failed)
			return err
		},
	}
	cmd.Flags().Int64Var(&owner, "owner", 0, "owner id (default all owners)")
	cmd.Flags().StringVar(&date, "date", "", "process through this date YYYY-MM-DD (default today)")
	return cmd
}

func eventsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "Print events from the AMQP queue until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.publisher(); err != nil {
				return err
			}
			if a.amqpClient == nil {
				return fmt.Errorf("AMQP_URL is not configured")
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			err := a.amqpClient.Consume(cmd.Context(), func(_ context.Context, ev *amqp.Event) error {
				return enc.Encode(ev)
			})
			if cmd.Context().Err() != nil {
				return nil
			}
			return err
		},
	}
}

func categoryLabel(names map[int64]string, id int64) string {
	if name, ok := names[id]; ok {
		return name
	}
	return fmt.Sprintf("#%d", id)
}
