package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ning0612/pkgsync/internal/lock"
	"github.com/Ning0612/pkgsync/internal/service"
)

func newStatusCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "status <target>",
		Short:   "Show who holds a target and how its last runs went",
		Example: "  pkgsync status indexed/indexed/apt/dists/nightly\n  pkgsync status index/deb/nightly/1234",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			status, err := svc.Status(args[0])
			if err != nil {
				return err
			}
			return printStatus(cmd.OutOrStdout(), status)
		},
	}
}

func newUnlockCmd(opts *globalOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "unlock <target>",
		Short: "Remove the lock of a target left behind by a crashed run",
		Long: `Remove the lock file of a target. Stale locks (the holder is gone) are
always removed. A lock held by a live process is only removed with --force.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			holder, err := svc.Unlock(args[0], force)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if holder == nil {
				fmt.Fprintf(out, "no active lock on %s\n", args[0])
				return nil
			}
			fmt.Fprintf(out, "removed lock on %s held by %s\n", args[0], describeHolder(holder))
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "remove the lock even if its holder is still running")
	return cmd
}

func describeHolder(h *lock.LockInfo) string {
	return fmt.Sprintf("PID %d on %s (%s since %s)",
		h.PID, h.Hostname, h.Operation, h.StartTime.Local().Format(time.DateTime))
}

func printStatus(w io.Writer, status *service.TargetStatus) error {
	if status.Holder != nil {
		fmt.Fprintf(w, "%s: locked by %s\n", status.Target, describeHolder(status.Holder))
	} else {
		fmt.Fprintf(w, "%s: not locked\n", status.Target)
	}

	if len(status.LastRuns) == 0 {
		_, err := fmt.Fprintln(w, "no runs recorded")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OPERATION\tLAST RUN\tSTATUS\tCHANGED\tERROR")
	for _, r := range status.LastRuns {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			r.Operation,
			r.StartTime.Local().Format(time.DateTime),
			r.Status,
			r.Changed(),
			r.Error,
		)
	}
	return tw.Flush()
}
