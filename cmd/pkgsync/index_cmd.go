package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ning0612/pkgsync/internal/domain"
	"github.com/Ning0612/pkgsync/internal/service"
)

func newIndexCmd(opts *globalOptions) *cobra.Command {
	var (
		suite string
		runID string
		every time.Duration
	)

	cmd := &cobra.Command{
		Use:   "index deb|rpm",
		Short: "Publish the packages of a CI run into the indexed repository",
		Long: `Pull the incoming run and the indexed repository, move the new packages
into place, rebuild and sign the index, snapshot the indexed storage, then
push both storages and refresh the CDN.

With --every the run repeats on that interval until interrupted; a failed
run is logged and retried on the next tick.`,
		Example:   "  pkgsync index deb --suite nightly --run-id 1234\n  pkgsync index rpm --suite stable --run-id continuous --every 15m",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(service.FlavourDeb), string(service.FlavourRPM)},
		RunE: func(cmd *cobra.Command, args []string) error {
			req := service.IndexRequest{
				Flavour: service.Flavour(args[0]),
				Suite:   domain.Suite(suite),
				RunID:   runID,
			}
			if !req.Flavour.IsValid() {
				return fmt.Errorf("%w: flavour must be deb or rpm, got %q", domain.ErrConfigInvalid, args[0])
			}
			if !req.Suite.IsValid() {
				return fmt.Errorf("%w: suite must be %s or %s, got %q",
					domain.ErrConfigInvalid, domain.SuiteStable, domain.SuiteNightly, suite)
			}
			if every < 0 {
				return fmt.Errorf("%w: --every must be positive", domain.ErrConfigInvalid)
			}

			svc, cleanup, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if every > 0 {
				return svc.IndexEvery(cmd.Context(), req, every)
			}
			if err := svc.Index(cmd.Context(), req); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %s %s run %s\n", req.Flavour, req.Suite, req.RunID)
			return nil
		},
	}

	cmd.Flags().StringVar(&suite, "suite", "", "suite to publish (stable, nightly)")
	cmd.Flags().StringVar(&runID, "run-id", "", "CI run whose incoming packages are published")
	cmd.Flags().DurationVar(&every, "every", 0, "repeat the run on this interval until interrupted")
	cmd.MarkFlagRequired("suite")
	cmd.MarkFlagRequired("run-id")

	return cmd
}
