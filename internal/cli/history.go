package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newHistoryCmd(a *app) *cobra.Command {
	var (
		owner string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List a user's scans, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATUS\tPROGRESS\tSTARTED\tMESSAGE")

			history, err := openHistory(a.cfg)
			if err != nil {
				return err
			}
			if history != nil {
				defer history.Close()
				runs, err := history.ListScanRuns(owner, limit)
				if err != nil {
					return err
				}
				for _, r := range runs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Status, "-", r.StartedAt.Format(time.RFC3339), r.Message)
				}
				return tw.Flush()
			}

			if owner == "" {
				return fmt.Errorf("--owner is required when the history mirror is disabled")
			}
			st, err := openStore(a.cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			recs, err := st.ListScansByOwner(owner)
			if err != nil {
				return err
			}
			for i, r := range recs {
				if limit > 0 && i >= limit {
					break
				}
				fmt.Fprintf(tw, "%s\t%s\t%d%%\t%s\t%s\n", r.ID, r.Status, r.Progress, r.StartTime.Format(time.RFC3339), r.Message)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owner id; empty lists every owner when the history mirror is enabled")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}
