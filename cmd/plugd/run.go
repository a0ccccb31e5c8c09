package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kingrea/plugd/internal/config"
	"github.com/kingrea/plugd/internal/eventbus"
	"github.com/kingrea/plugd/internal/introspect"
	"github.com/kingrea/plugd/internal/lifecycle"
	"github.com/kingrea/plugd/internal/logbook"
	"github.com/kingrea/plugd/internal/logging"
	"github.com/kingrea/plugd/internal/metrics"
	"github.com/kingrea/plugd/internal/plugin"
	"github.com/kingrea/plugd/internal/registry"
	"github.com/kingrea/plugd/internal/tui"
	"github.com/kingrea/plugd/plugins"
)

const shutdownTimeout = 5 * time.Second

type runOptions struct {
	tui  bool
	once bool
}

func (c *cli) newRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start every plugin in order and serve until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runStartup(ctx, cfg, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().BoolVar(&opts.tui, "tui", false, "show startup progress in a terminal UI")
	cmd.Flags().BoolVar(&opts.once, "once", false, "exit after startup instead of serving")
	cmd.Flags().Duration("timeout", 0, "per-plugin readiness timeout (default from config)")
	_ = c.v.BindPFlag("startup.readiness_timeout", cmd.Flags().Lookup("timeout"))
	return cmd
}

// runStartup drives the whole startup sequence. With opts.once it returns as
// soon as every plugin has been started, reporting failed plugins as an error.
func runStartup(ctx context.Context, cfg *config.Config, opts runOptions, out, errOut io.Writer) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	console := errOut
	if opts.tui {
		console = io.Discard
	}
	logger, err := logging.New(logging.Options{
		Level:   cfg.Project.Log.Level,
		File:    cfg.LogFile(),
		Console: console,
	})
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
		err = multierr.Append(err, logger.Close())
	}()
	log := logger.Logger

	reg := registry.New(registry.WithLogger(log.Named("registry")))
	declared, err := plugins.RegisterDeclared(reg, cfg)
	if err != nil {
		return err
	}
	if err := reg.Lock(); err != nil {
		return err
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector, err := metrics.New(promReg)
	if err != nil {
		return err
	}

	bus := eventbus.New(eventbus.WithLogger(log.Named("eventbus")))
	orch := lifecycle.New(reg,
		lifecycle.WithLogger(log.Named("lifecycle")),
		lifecycle.WithDispatcher(bus),
		lifecycle.WithReadinessTimeout(cfg.ReadinessTimeout()),
	)
	server := introspect.NewServer(introspect.SettingsFromConfig(cfg), reg,
		introspect.WithLogger(log.Named("introspect")),
		introspect.WithGatherer(promReg),
		introspect.WithStateSource(orch),
	)

	book, err := logbook.New(cfg.LogbookFile())
	if err != nil {
		return err
	}

	// Subscriptions must exist before the first event is dispatched.
	metricsSub := bus.Subscribe()
	trackSub := bus.Subscribe()
	bookSub := bus.Subscribe()
	var progressSub eventbus.Subscription
	if opts.tui {
		progressSub = bus.Subscribe(lifecycle.KindPluginSucceeded, lifecycle.KindPluginFailed, lifecycle.KindAllReady)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		collector.Consume(gctx, metricsSub.Events)
		return nil
	})
	g.Go(func() error {
		server.Track(gctx, trackSub.Events)
		return nil
	})
	g.Go(func() error {
		if err := book.Consume(gctx, bookSub.Events); err != nil {
			log.Warn("startup journal disabled", zap.Error(err))
			bookSub.Close()
		}
		return nil
	})

	if err := server.Start(ctx); err != nil && !errors.Is(err, introspect.ErrDisabled) {
		bus.Close()
		_ = g.Wait()
		return err
	}
	if addr := server.BaseURL(); addr != "" {
		fmt.Fprintf(out, "introspection: %s\n", addr)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err = multierr.Combine(err,
			server.Shutdown(shutdownCtx),
			plugins.StopAll(shutdownCtx, declared),
		)
		bus.Close()
		_ = g.Wait()
	}()

	pctx := plugin.NewContext(ctx, cfg, log, reg)
	if err := orch.Init(pctx); err != nil {
		return err
	}
	if err := orch.BeforeServerStart(pctx); err != nil {
		return err
	}

	if opts.tui {
		names := make([]string, 0, reg.Len())
		for _, p := range reg.Ordered() {
			names = append(names, p.Name())
		}
		program := tea.NewProgram(tui.NewProgress(names, progressSub.Events),
			tea.WithContext(ctx),
			tea.WithOutput(out),
		)
		g.Go(func() error {
			if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
				log.Warn("progress view stopped", zap.Error(err))
			}
			progressSub.Close()
			return nil
		})
	}

	g.Go(func() error {
		if err := orch.BeforeProcessStart(pctx); err != nil {
			log.Error("process start aborted", zap.Error(err))
		}
		return nil
	})

	select {
	case <-orch.Ready():
	case <-ctx.Done():
		return nil
	}
	orch.WaitReady()

	state := orch.State()
	log.Info("startup finished", zap.String("state", state.String()), zap.Int("plugins", reg.Len()))
	if opts.once {
		if state == lifecycle.StateProcessPartiallyFailed {
			return fmt.Errorf("startup finished with failed plugins")
		}
		return nil
	}

	<-ctx.Done()
	log.Info("shutting down")
	return nil
}
