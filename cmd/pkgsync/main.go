package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/Ning0612/pkgsync/internal/config"
	"github.com/Ning0612/pkgsync/internal/domain"
	"github.com/Ning0612/pkgsync/internal/logger"
	"github.com/Ning0612/pkgsync/internal/progress"
	"github.com/Ning0612/pkgsync/internal/service"
)

// globalOptions are the persistent flags shared by every command
type globalOptions struct {
	configPath string
	logLevel   string
	logFormat  string
	progress   bool
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "pkgsync",
		Short:         "Mirror package repositories between remote storage and a local cache",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "config file (default: search "+fmt.Sprint(config.DefaultConfigPaths())+")")
	flags.StringVar(&opts.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
	flags.StringVar(&opts.logFormat, "log-format", "", "override logging.format (text, json)")
	flags.BoolVar(&opts.progress, "progress", isatty.IsTerminal(os.Stderr.Fd()), "print one line per synced path to stderr")

	root.AddCommand(
		newSyncCmd(opts, domain.OperationPull),
		newSyncCmd(opts, domain.OperationPush),
		newSyncCmd(opts, domain.OperationSnapshot),
		newIndexCmd(opts),
		newHistoryCmd(opts),
		newStatusCmd(opts),
		newUnlockCmd(opts),
	)

	return root
}

// open loads the config, starts logging and creates the service.
// The returned cleanup closes both.
func (o *globalOptions) open(cmd *cobra.Command) (*service.SyncService, func(), error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	if o.logFormat != "" {
		cfg.Logging.Format = o.logFormat
	}

	if err := logger.Init(cfg.LoggerConfig()); err != nil {
		return nil, nil, err
	}
	if o.logLevel != "" {
		logger.SetLevel(logger.ParseLevel(o.logLevel))
	}

	svc, err := service.NewSyncService(cfg)
	if err != nil {
		logger.Shutdown()
		return nil, nil, err
	}
	if o.progress {
		svc.SetProgressReporter(progress.NewWriterReporter(cmd.ErrOrStderr()))
	}

	cleanup := func() {
		if err := svc.Close(); err != nil {
			logger.Get().Warn("Failed to close service.", "error", err)
		}
		logger.Shutdown()
	}
	return svc, cleanup, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
