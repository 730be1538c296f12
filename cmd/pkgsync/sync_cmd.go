package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Ning0612/pkgsync/internal/domain"
)

var syncShort = map[domain.Operation]string{
	domain.OperationPull:     "Make the local cache mirror a remote sub-path",
	domain.OperationPush:     "Make a remote sub-path mirror the local cache",
	domain.OperationSnapshot: "Snapshot every object under a remote sub-path",
}

// parseTarget validates the <section> <suite> <sub-path> arguments
func parseTarget(args []string) (domain.Section, domain.Suite, string, error) {
	section := domain.Section(args[0])
	if !section.IsValid() {
		return "", "", "", fmt.Errorf("%w: section must be %s or %s, got %q",
			domain.ErrConfigInvalid, domain.SectionIncoming, domain.SectionIndexed, args[0])
	}
	suite := domain.Suite(args[1])
	if !suite.IsValid() {
		return "", "", "", fmt.Errorf("%w: suite must be %s or %s, got %q",
			domain.ErrConfigInvalid, domain.SuiteStable, domain.SuiteNightly, args[1])
	}
	return section, suite, args[2], nil
}

func newSyncCmd(opts *globalOptions, op domain.Operation) *cobra.Command {
	return &cobra.Command{
		Use:   string(op) + " <section> <suite> <sub-path>",
		Short: syncShort[op],
		Example: fmt.Sprintf("  pkgsync %s indexed nightly apt/dists/nightly\n  pkgsync %s incoming stable stable/1234",
			op, op),
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			section, suite, subPath, err := parseTarget(args)
			if err != nil {
				return err
			}

			svc, cleanup, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			switch op {
			case domain.OperationPull:
				result, err := svc.Pull(ctx, section, suite, subPath)
				if err != nil {
					return err
				}
				st := result.Stats
				fmt.Fprintf(out, "downloaded %d, deleted locally %d, unchanged %d\n", st.Downloaded, st.DeletedLocal, st.Skipped)

			case domain.OperationPush:
				result, err := svc.Push(ctx, section, suite, subPath)
				if err != nil {
					return err
				}
				st := result.Stats
				fmt.Fprintf(out, "uploaded %d, deleted remotely %d, unchanged %d\n", st.Uploaded, st.DeletedRemote, st.Skipped)

			case domain.OperationSnapshot:
				snapshots, err := svc.Snapshot(ctx, section, suite, subPath)
				if err != nil {
					return err
				}
				for _, snap := range snapshots {
					fmt.Fprintf(out, "%s\t%s\n", snap.Key, snap.ID)
				}
				fmt.Fprintf(out, "created %d snapshots\n", len(snapshots))
			}
			return nil
		},
	}
}
