package main

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/promptify/history"
)

func (a *app) newHistoryCmd() *cobra.Command {
	var (
		f      history.Filter
		status string
		since  time.Duration
		counts bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent refine attempts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.openStores()
			if err != nil {
				return err
			}
			defer st.Close()
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if counts {
				c, err := st.history.Counts(ctx)
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(c))
				for s, n := range c {
					rows = append(rows, []string{string(s), strconv.Itoa(n)})
				}
				sort.Slice(rows, func(i, j int) bool { return rows[i][0] < rows[j][0] })
				fmt.Fprintln(out, renderTable([]string{"STATUS", "COUNT"}, rows))
				return nil
			}

			f.Status = history.Status(status)
			if since > 0 {
				f.Since = time.Now().Add(-since)
			}
			events, err := st.history.Query(ctx, f)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				fmt.Fprintln(out, "no refine attempts recorded")
				return nil
			}
			rows := make([][]string, 0, len(events))
			for _, e := range events {
				rows = append(rows, []string{
					e.Time.Local().Format(time.DateTime),
					e.PlatformID,
					string(e.Status),
					e.Strategy,
					e.Duration.Round(time.Millisecond).String(),
					e.Error,
				})
			}
			fmt.Fprintln(out, renderTable([]string{"TIME", "PLATFORM", "STATUS", "STRATEGY", "DURATION", "ERROR"}, rows))
			return nil
		},
	}
	cmd.Flags().IntVarP(&f.Limit, "limit", "n", 20, "maximum number of events")
	cmd.Flags().StringVar(&f.PlatformID, "platform", "", "only this platform id")
	cmd.Flags().StringVar(&status, "status", "", "only this status (applied, cancelled, transport_failure, ...)")
	cmd.Flags().DurationVar(&since, "since", 0, "only events newer than this, e.g. 24h")
	cmd.Flags().BoolVar(&counts, "counts", false, "print totals per status instead")

	var olderThan time.Duration
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete refine attempts older than --older-than",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("promptify: --older-than must be positive")
			}
			st, err := a.openStores()
			if err != nil {
				return err
			}
			defer st.Close()
			n, err := st.history.Cleanup(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d events\n", n)
			return nil
		},
	}
	prune.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "age threshold")
	cmd.AddCommand(prune)
	return cmd
}
