package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avast/labmanager-unit-vsphere/internal/api"
	"github.com/avast/labmanager-unit-vsphere/internal/config"
	"github.com/avast/labmanager-unit-vsphere/internal/hostinfo"
	"github.com/avast/labmanager-unit-vsphere/internal/hypervisor"
	"github.com/avast/labmanager-unit-vsphere/internal/logging"
	"github.com/avast/labmanager-unit-vsphere/internal/queue"
	"github.com/avast/labmanager-unit-vsphere/internal/reaper"
	"github.com/avast/labmanager-unit-vsphere/internal/store"
	"github.com/avast/labmanager-unit-vsphere/internal/ticketing"
	"github.com/avast/labmanager-unit-vsphere/internal/worker"
	"github.com/spf13/cobra"
)

var standaloneWorkers bool

// serveCmd runs the HTTP Intake. With --standalone it also starts every
// background loop (deploy worker, ops worker, reaper, ticket scheduler,
// host-info obtainer) in-process, the all-in-one shape a single-box
// deployment wants; without it, those loops are expected to run as
// their own processes (deploy-worker, ops-worker, reaper, ticketeer,
// obtainer) sharing the same Postgres store and, typically, a Redis
// notifier to relay wakeups across processes.
func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the HTTP intake (and, with --standalone, every worker loop in-process)",
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

			notifier := buildNotifier(cfg, standaloneWorkers)
			caps := buildCapabilities(cfg, runner)

			httpServer := api.StartHTTPServer(cfg.Daemon.HTTPAddr, api.ServerConfig{
				Runner:       runner,
				Capabilities: caps,
				Notifier:     notifier,
				AuthCfg:      &cfg.Auth,
				Labels:       cfg.Labels,
				StartedAt:    time.Now(),
			})
			logging.Op().Info("http intake listening", "addr", cfg.Daemon.HTTPAddr, "standalone", standaloneWorkers)

			if standaloneWorkers {
				adapter := buildAdapter()
				runLoops(ctx, cfg, runner, adapter, notifier)
			}

			<-ctx.Done()
			logging.Op().Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().BoolVar(&standaloneWorkers, "standalone", false, "also run every worker loop in this process instead of as separate binaries")
	return cmd
}

// runLoops starts every background loop as its own goroutine, logging
// (not failing the process on) any individual loop's terminal error —
// a single loop's Postgres hiccup shouldn't take the HTTP intake down
// with it.
func runLoops(ctx context.Context, cfg *config.Config, runner store.Runner, adapter hypervisor.Adapter, notifier queue.Notifier) {
	deployWorker := &worker.DeployWorker{
		Name:            "deploy-worker-standalone",
		Runner:          runner,
		Adapter:         adapter,
		Notifier:        notifier,
		Cfg:             cfg.DeployWorker,
		HostsFolderName: cfg.Ticketing.HostsFolderName,
	}
	opsWorker := &worker.OpsWorker{
		Name:     "ops-worker-standalone",
		Runner:   runner,
		Adapter:  adapter,
		Notifier: notifier,
		Cfg:      cfg.OpsWorker,
	}
	delayedReaper := &reaper.Reaper{Runner: runner, Sleep: cfg.Reaper.Sleep}
	ticketScheduler := &ticketing.Scheduler{Runner: runner, SlotLimit: cfg.Ticketing.SlotLimit, Sleep: cfg.Ticketing.Sleep}
	obtainer := &hostinfo.Obtainer{Runner: runner, Adapter: adapter, Sleep: cfg.HostInfo.Sleep, FolderName: cfg.Ticketing.HostsFolderName}

	loops := map[string]func(context.Context) error{
		"deploy-worker": deployWorker.Run,
		"ops-worker":    opsWorker.Run,
		"reaper":        delayedReaper.Run,
		"ticketeer":     ticketScheduler.Run,
		"obtainer":      obtainer.Run,
	}
	for name, run := range loops {
		name, run := name, run
		go func() {
			if err := run(ctx); err != nil {
				logging.Op().Error("loop exited", "loop", name, "error", err)
			}
		}()
	}
}
