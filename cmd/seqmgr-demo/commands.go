package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	sequencemanager "github.com/Swind/go-sequence-manager"
	"github.com/Swind/go-sequence-manager/config"
	"github.com/Swind/go-sequence-manager/core"
	obs "github.com/Swind/go-sequence-manager/observability/prometheus"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
)

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "run the workload, serve /metrics and exit when it drained",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "tasks",
				Aliases: []string{"n"},
				Value:   50,
				Usage:   "tasks posted per queue",
			},
			&cli.IntFlag{
				Name:  "history",
				Value: 10,
				Usage: "number of finished tasks to print",
			},
			&cli.DurationFlag{
				Name:  "linger",
				Value: 0,
				Usage: "keep serving metrics this long after the workload drained",
			},
		},
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	logger := cfg.Log.NewLogger(os.Stderr)

	reg := prom.NewRegistry()
	var exporter *obs.MetricsExporter
	settings := cfg.ToSettings(logger, nil)
	if cfg.Metrics.Enabled {
		exporter, err = obs.NewMetricsExporter(cfg.Metrics.Namespace, reg, obs.ExporterOptions{})
		if err != nil {
			return cli.Exit(fmt.Sprintf("Failed to register metrics: %v", err), 1)
		}
		settings.Metrics = exporter
		settings.NestingObserver = exporter
	}

	thread := sequencemanager.NewThread(cfg.Manager.Name, settings)
	if err := thread.Start(); err != nil {
		return cli.Exit(fmt.Sprintf("Failed to start thread: %v", err), 1)
	}
	defer thread.Stop()

	history := core.NewExecutionHistory(c.Int("history"))
	if err := thread.AddTaskObserver(c.Context, history); err != nil {
		return cli.Exit(fmt.Sprintf("Failed to observe tasks: %v", err), 1)
	}
	if exporter != nil {
		if err := thread.AddTaskObserver(c.Context, exporter); err != nil {
			return cli.Exit(fmt.Sprintf("Failed to observe tasks: %v", err), 1)
		}
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
	defer stop()

	if cfg.Metrics.Enabled {
		poller, err := obs.NewSnapshotPoller(reg, cfg.Metrics.PollInterval, logger)
		if err != nil {
			return cli.Exit(fmt.Sprintf("Failed to register poller: %v", err), 1)
		}
		poller.AddManager(cfg.Manager.Name, thread)
		poller.Start(ctx)
		defer poller.Stop()

		server := serveMetrics(cfg.Metrics.Listen, reg, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	w, err := newWorkload(thread)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to create queues: %v", err), 1)
	}
	w.post(c.Int("tasks"))

	if err := drain(ctx, thread); err != nil {
		return cli.Exit(fmt.Sprintf("Workload interrupted: %v", err), 1)
	}
	fmt.Printf("✓ Ran %d tasks\n", w.completed.Load())
	printHistory(history)

	if linger := c.Duration("linger"); linger > 0 {
		select {
		case <-time.After(linger):
		case <-ctx.Done():
		}
	}
	return nil
}

// drain waits until no task, delayed ones included, is left on the thread.
func drain(ctx context.Context, thread *sequencemanager.Thread) error {
	for {
		if err := thread.WaitIdle(ctx); err != nil {
			return err
		}
		stats, err := thread.Stats(ctx)
		if err != nil {
			return err
		}
		if stats.Pending == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func printHistory(history *core.ExecutionHistory) {
	fmt.Println("Last tasks (newest first):")
	for _, r := range history.Recent(0) {
		var waited time.Duration
		if !r.QueueTime.IsZero() {
			waited = r.StartedAt.Sub(r.QueueTime)
		}
		fmt.Printf("  %-10s %-14s %-11s waited %-10v ran %v\n",
			r.QueueName, r.Name, r.Priority, waited.Round(time.Microsecond), r.Duration.Round(time.Microsecond))
	}
	if panicked := history.Panicked(); len(panicked) > 0 {
		fmt.Printf("%d recent tasks panicked\n", len(panicked))
	}
}

func serveMetrics(addr string, reg *prom.Registry, logger core.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", core.F("addr", addr), core.F("error", err))
		}
	}()
	logger.Info("serving metrics", core.F("addr", addr))
	return server
}

func describeCommand() *cli.Command {
	return &cli.Command{
		Name:  "describe",
		Usage: "post the workload to a blocked thread and print its pending tasks as JSON",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "tasks",
				Aliases: []string{"n"},
				Value:   3,
				Usage:   "tasks posted per queue",
			},
		},
		Action: describeAction,
	}
}

func describeAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	thread := sequencemanager.NewThread(cfg.Manager.Name, cfg.ToSettings(cfg.Log.NewLogger(os.Stderr), nil))
	if err := thread.Start(); err != nil {
		return cli.Exit(fmt.Sprintf("Failed to start thread: %v", err), 1)
	}
	defer thread.Stop()

	w, err := newWorkload(thread)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to create queues: %v", err), 1)
	}
	if err := w.block(c.Context); err != nil {
		return cli.Exit(fmt.Sprintf("Failed to fence queues: %v", err), 1)
	}
	w.post(c.Int("tasks"))

	out, err := thread.DescribeAllPendingTasks(c.Context)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}
	fmt.Println(out)
	return nil
}

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "print the resolved configuration",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			fmt.Printf("%+v\n", *cfg)
			return nil
		},
	}
}
