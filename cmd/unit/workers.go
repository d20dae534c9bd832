package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/avast/labmanager-unit-vsphere/internal/hostinfo"
	"github.com/avast/labmanager-unit-vsphere/internal/logging"
	"github.com/avast/labmanager-unit-vsphere/internal/reaper"
	"github.com/avast/labmanager-unit-vsphere/internal/ticketing"
	"github.com/avast/labmanager-unit-vsphere/internal/worker"
	"github.com/spf13/cobra"
)

// deployWorkerCmd runs the deploy worker as a standalone process: one of
// this system's several single-purpose daemons, grounded on the
// original per-loop script layout (one OS process per worker type
// rather than one monolith).
func deployWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deploy-worker",
		Short: "claim and dispatch deploy Actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdownObs, err := initObservability(ctx, cfg)
			if err != nil {
				return err
			}
			defer shutdownObs()

			runner, closeStore, err := openRunner(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			w := &worker.DeployWorker{
				Name:            "deploy-worker",
				Runner:          runner,
				Adapter:         buildAdapter(),
				Notifier:        buildNotifier(cfg, false),
				Cfg:             cfg.DeployWorker,
				HostsFolderName: cfg.Ticketing.HostsFolderName,
			}
			logging.Op().Info("deploy worker starting")
			return w.Run(ctx)
		},
	}
}

// opsWorkerCmd runs the ops worker (every non-deploy Action: undeploy,
// start/stop/restart, get_info, snapshot, screenshot) as a standalone
// process.
func opsWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ops-worker",
		Short: "claim and dispatch undeploy/power/get-info/snapshot/screenshot Actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdownObs, err := initObservability(ctx, cfg)
			if err != nil {
				return err
			}
			defer shutdownObs()

			runner, closeStore, err := openRunner(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			w := &worker.OpsWorker{
				Name:     "ops-worker",
				Runner:   runner,
				Adapter:  buildAdapter(),
				Notifier: buildNotifier(cfg, false),
				Cfg:      cfg.OpsWorker,
			}
			logging.Op().Info("ops worker starting")
			return w.Run(ctx)
		},
	}
}

// reaperCmd runs the delayed reaper as a standalone process.
func reaperCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reaper",
		Short: "re-arm or time out sleeping Actions past their retry deadline",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdownObs, err := initObservability(ctx, cfg)
			if err != nil {
				return err
			}
			defer shutdownObs()

			runner, closeStore, err := openRunner(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			r := &reaper.Reaper{Runner: runner, Sleep: cfg.Reaper.Sleep}
			logging.Op().Info("reaper starting")
			return r.Run(ctx)
		},
	}
}

// ticketeerCmd runs the deploy ticket scheduler as a standalone process.
func ticketeerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ticketeer",
		Short: "grant deploy tickets up to the configured slot limit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdownObs, err := initObservability(ctx, cfg)
			if err != nil {
				return err
			}
			defer shutdownObs()

			runner, closeStore, err := openRunner(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			s := &ticketing.Scheduler{Runner: runner, SlotLimit: cfg.Ticketing.SlotLimit, Sleep: cfg.Ticketing.Sleep}
			logging.Op().Info("ticket scheduler starting")
			return s.Run(ctx)
		},
	}
}

// obtainerCmd runs the host-info obtainer as a standalone process.
func obtainerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "obtainer",
		Short: "refresh host runtime info from the hypervisor adapter",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdownObs, err := initObservability(ctx, cfg)
			if err != nil {
				return err
			}
			defer shutdownObs()

			runner, closeStore, err := openRunner(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			o := &hostinfo.Obtainer{Runner: runner, Adapter: buildAdapter(), Sleep: cfg.HostInfo.Sleep, FolderName: cfg.Ticketing.HostsFolderName}
			logging.Op().Info("host-info obtainer starting")
			return o.Run(ctx)
		},
	}
}
