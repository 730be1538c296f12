package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ning0612/pkgsync/internal/state"
)

func newHistoryCmd(opts *globalOptions) *cobra.Command {
	var (
		target    string
		limit     int
		snapshots bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent pull, push, snapshot and index runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if snapshots {
				if target == "" {
					return fmt.Errorf("--snapshots requires --target")
				}
				records, err := svc.Snapshots(target, limit)
				if err != nil {
					return err
				}
				return printSnapshots(cmd.OutOrStdout(), records)
			}

			records, err := svc.History(target, limit)
			if err != nil {
				return err
			}
			return printHistory(cmd.OutOrStdout(), records)
		},
	}

	cmd.Flags().StringVar(&target, "target", "", "only show this target, e.g. indexed/indexed/apt/dists/stable")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of records")
	cmd.Flags().BoolVar(&snapshots, "snapshots", false, "list the snapshots taken of --target instead")

	cmd.AddCommand(newHistoryPruneCmd(opts))
	return cmd
}

func newHistoryPruneCmd(opts *globalOptions) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete history and snapshot records older than --older-than",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}

			svc, cleanup, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			deleted, err := svc.CleanupHistory(olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d records\n", deleted)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "age of the records to delete")
	return cmd
}

func printHistory(w io.Writer, records []state.ExecutionRecord) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "no runs recorded")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tDURATION\tOPERATION\tSTATUS\tCHANGED\tTARGET\tERROR")
	for _, r := range records {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			r.ID,
			r.StartTime.Local().Format(time.DateTime),
			r.EndTime.Sub(r.StartTime).Round(time.Millisecond),
			r.Operation,
			r.Status,
			r.Changed(),
			r.Target,
			r.Error,
		)
	}
	return tw.Flush()
}

func printSnapshots(w io.Writer, records []state.SnapshotRecord) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "no snapshots recorded")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tKEY\tSNAPSHOT")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.CreatedAt.Local().Format(time.DateTime), r.Key, r.SnapshotID)
	}
	return tw.Flush()
}
