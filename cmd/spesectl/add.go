package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"spese/internal/core"
)

func categoryCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "category",
		Short: "Manage categories",
	}

	var (
		owner       int64
		name        string
		description string
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Create a category",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := a.repository()
			if err != nil {
				return err
			}
			c, err := repo.CreateCategory(cmd.Context(), core.Category{
				OwnerID:     owner,
				Name:        strings.TrimSpace(name),
				Description: description,
				Active:      true,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "category %d %q\n", c.ID, c.Name)
			return nil
		},
	}
	add.Flags().Int64Var(&owner, "owner", 0, "owner id")
	add.Flags().StringVar(&name, "name", "", "category name")
	add.Flags().StringVar(&description, "description", "", "category description")
	_ = add.MarkFlagRequired("owner")
	_ = add.MarkFlagRequired("name")

	list := &cobra.Command{
		Use:   "list",
		Short: "List categories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := a.repository()
			if err != nil {
				return err
			}
			cats, err := repo.ListCategories(cmd.Context(), owner)
			if err != nil {
				return err
			}
			tw := newTable(cmd.OutOrStdout(), "ID", "NAME", "DESCRIPTION")
			for _, c := range cats {
				tw.row(c.ID, c.Name, c.Description)
			}
			return tw.flush()
		},
	}
	list.Flags().Int64Var(&owner, "owner", 0, "owner id")
	_ = list.MarkFlagRequired("owner")

	cmd.AddCommand(add, list)
	return cmd
}

func expenseCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "expense",
		Short: "Record expenses",
	}

	var (
		owner, category int64
		amount, date    string
		note            string
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Record a one-off expense",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			money, err := core.ParseMoney(amount)
			if err != nil {
				return err
			}
			occurredOn := core.DateOf(time.Now())
			if date != "" {
				if occurredOn, err = core.ParseDate(date); err != nil {
					return err
				}
			}

			repo, err := a.repository()
			if err != nil {
				return err
			}
			e, err := repo.CreateExpense(cmd.Context(), core.Expense{
				OwnerID:    owner,
				CategoryID: category,
				Amount:     money,
				OccurredOn: occurredOn,
				Note:       note,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expense %d %s on %s\n", e.ID, e.Amount, e.OccurredOn)
			return nil
		},
	}
	add.Flags().Int64Var(&owner, "owner", 0, "owner id")
	add.Flags().Int64Var(&category, "category", 0, "category id")
	add.Flags().StringVar(&amount, "amount", "", "amount, e.g. 12.50 or 12,50")
	add.Flags().StringVar(&date, "date", "", "date as YYYY-MM-DD (default today)")
	add.Flags().StringVar(&note, "note", "", "free-form note")
	for _, f := range []string{"owner", "category", "amount"} {
		_ = add.MarkFlagRequired(f)
	}

	cmd.AddCommand(add)
	return cmd
}

func ruleCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rule",
		Short: "Manage recurring rules",
	}

	var (
		owner, category      int64
		name, amount         string
		frequency, weekday   string
		start, end           string
		interval, dayOfMonth int
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Create a recurring rule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rule := core.RecurringRule{
				OwnerID:    owner,
				Name:       name,
				CategoryID: category,
				Interval:   interval,
				DayOfMonth: dayOfMonth,
			}

			var err error
			if rule.Amount, err = core.ParseMoney(amount); err != nil {
				return err
			}
			if rule.Frequency, err = core.ParseFrequency(frequency); err != nil {
				return err
			}
			if rule.StartDate, err = core.ParseDate(start); err != nil {
				return err
			}
			if end != "" {
				if rule.EndDate, err = core.ParseDate(end); err != nil {
					return err
				}
			}
			if weekday != "" {
				wd, err := parseWeekday(weekday)
				if err != nil {
					return err
				}
				rule.Weekday = &wd
			}

			repo, err := a.repository()
			if err != nil {
				return err
			}
			rule, err = repo.CreateRule(cmd.Context(), rule)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "rule %d: %s every %d %s from %s\n", rule.ID, rule.Amount, rule.Interval, rule.Frequency, rule.StartDate)
			return nil
		},
	}
	add.Flags().Int64Var(&owner, "owner", 0, "owner id")
	add.Flags().Int64Var(&category, "category", 0, "category id")
	add.Flags().StringVar(&name, "name", "", "rule name, used as the expense note")
	add.Flags().StringVar(&amount, "amount", "", "amount per occurrence")
	add.Flags().StringVar(&frequency, "frequency", "monthly", "daily, weekly, monthly or yearly")
	add.Flags().IntVar(&interval, "interval", 1, "every N frequency units")
	add.Flags().StringVar(&start, "start", "", "start date YYYY-MM-DD")
	add.Flags().StringVar(&end, "end", "", "optional end date YYYY-MM-DD")
	add.Flags().IntVar(&dayOfMonth, "day-of-month", 0, "monthly/yearly anchor day (1-31)")
	add.Flags().StringVar(&weekday, "weekday", "", "weekly anchor day, e.g. mon")
	for _, f := range []string{"owner", "category", "amount", "start"} {
		_ = add.MarkFlagRequired(f)
	}

	cmd.AddCommand(add)
	return cmd
}

func budgetCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Manage budgets",
	}

	var (
		owner, category int64
		name, amount    string
		period          string
	)
	set := &cobra.Command{
		Use:   "set",
		Short: "Create a budget for a category, or the overall budget with --category 0",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := core.ParsePeriod(period)
			if err != nil {
				return err
			}
			allocated, err := core.ParseMoney(amount)
			if err != nil {
				return err
			}

			repo, err := a.repository()
			if err != nil {
				return err
			}
			b, err := repo.CreateBudget(cmd.Context(), core.Budget{
				OwnerID:    owner,
				CategoryID: category,
				Name:       name,
				Period:     p,
				Allocated:  allocated,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "budget %d: %s for %s\n", b.ID, b.Allocated, b.Period)
			return nil
		},
	}
	set.Flags().Int64Var(&owner, "owner", 0, "owner id")
	set.Flags().Int64Var(&category, "category", 0, "category id, 0 for the overall budget")
	set.Flags().StringVar(&name, "name", "", "budget name")
	set.Flags().StringVar(&amount, "amount", "", "allocated amount")
	set.Flags().StringVar(&period, "period", "", "period as YYYY-MM or YYYY")
	for _, f := range []string{"owner", "amount", "period"} {
		_ = set.MarkFlagRequired(f)
	}

	cmd.AddCommand(set)
	return cmd
}

// parseWeekday accepts English day names or a prefix of at least three letters.
func parseWeekday(s string) (time.Weekday, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if len(key) >= 3 {
		for wd := time.Sunday; wd <= time.Saturday; wd++ {
			if strings.HasPrefix(strings.ToLower(wd.String()), key) {
				return wd, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: unknown weekday %q", core.ErrInvalidRule, s)
}
