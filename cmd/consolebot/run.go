package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"consolebot-go/internal/config"
	"consolebot-go/internal/console"
	"consolebot-go/internal/events"
	"consolebot-go/internal/logs"
	"consolebot-go/internal/processlock"
	"consolebot-go/internal/restapi"
	"consolebot-go/internal/server"
	"consolebot-go/internal/shutdown"
	"consolebot-go/internal/upstream"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start a lifecycle manager for every configured group",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return run(ctx, cfg, opts.configPath)
		},
	}
}

func run(ctx context.Context, cfg *config.Config, configPath string) error {
	if len(cfg.Groups) == 0 {
		return errors.New("no groups configured")
	}

	logger, level, err := logs.SetupLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}

	lockAddr := ""
	if cfg.StatusFeed.Enabled {
		lockAddr = cfg.StatusFeed.Listen
	}
	lock, err := processlock.New(cfg.DataDir, logger)
	if err != nil {
		return err
	}
	if err := lock.Acquire(lockAddr); err != nil {
		return err
	}

	coordinator := shutdown.NewCoordinator(logger)
	coordinator.AddFunc("process-lock", shutdown.PhaseCleanup, func(context.Context) error {
		return lock.Release()
	})
	coordinator.Add(shutdown.Step{
		Name:     "logger",
		Phase:    shutdown.PhaseCleanup,
		Priority: -100,
		Stop: func(context.Context) error {
			_ = logger.Sync()
			return nil
		},
	})

	if err := start(ctx, cfg, configPath, logger, level, coordinator); err != nil {
		logger.Error("Startup failed", zap.Error(err))
		_ = coordinator.Shutdown(context.Background())
		return err
	}

	<-ctx.Done()
	logger.Info("Shutdown signal received")

	return coordinator.Shutdown(context.Background())
}

// start wires every component and registers its teardown with coordinator
func start(ctx context.Context, cfg *config.Config, configPath string, logger *zap.Logger, level zap.AtomicLevel, coordinator *shutdown.Coordinator) error {
	traffic, err := logs.NewTrafficLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to set up traffic logging: %w", err)
	}
	coordinator.AddFunc("traffic-log", shutdown.PhaseCleanup, func(context.Context) error {
		return traffic.Close()
	})

	client, err := restapi.NewClient(restapi.Config{
		BaseURL:     cfg.APIURL,
		AccessToken: cfg.AccessToken,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	bus := events.NewBus(logger)
	coordinator.AddFunc("event-bus", shutdown.PhaseBus, func(context.Context) error {
		bus.Close()
		return nil
	})

	var feed *server.StatusFeed
	if cfg.StatusFeed.Enabled {
		feed = server.NewStatusFeed(bus, logger)
		if err := feed.Start(cfg.StatusFeed.Listen); err != nil {
			return err
		}
		coordinator.AddFunc("status-feed", shutdown.PhaseStatusFeed, feed.Shutdown)
	}

	poller := upstream.NewStatusPoller(client, bus, cfg.StatusPollInterval.Duration(), cfg.StatusSweepWorkers, logger)
	coordinator.AddFunc("status-poller", shutdown.PhasePollers, poller.Stop)

	dialerOpts := console.OptionsFromConfig(cfg.Console)
	dialerOpts.Logger = logger
	dialerOpts.Traffic = traffic
	dialer := &upstream.ConsoleDialer{
		Options: dialerOpts,
		OnOpen:  upstream.SubscribeAndLog(cfg.Console.Subscriptions, logger),
	}

	started := 0
	for _, groupID := range cfg.Groups {
		m, err := startGroup(ctx, cfg, groupID, client, bus, dialer, logger)
		if err != nil {
			logger.Error("Failed to start group manager",
				zap.Int("group_id", groupID),
				zap.Error(err))
			continue
		}
		started++

		coordinator.AddFunc(fmt.Sprintf("group-%d", groupID), shutdown.PhaseManagers, m.Dispose)
		poller.Track(m)
		if feed != nil {
			feed.AddGroup(m)
		}
	}
	if started == 0 {
		return errors.New("no group manager could be started")
	}

	if cfg.StatusPollInterval.Duration() > 0 {
		poller.Start()
	}

	if configPath != "" {
		if err := watchConfig(configPath, logger, level, coordinator); err != nil {
			logger.Warn("Configuration hot reload disabled", zap.Error(err))
		}
	}

	logger.Info("consolebot running",
		zap.String("version", version),
		zap.Int("groups", started))
	return nil
}

func startGroup(ctx context.Context, cfg *config.Config, groupID int, client *restapi.Client, bus *events.Bus, dialer upstream.Dialer, logger *zap.Logger) (*upstream.Manager, error) {
	group, err := client.GetGroupInfo(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch group: %w", err)
	}
	member, err := client.GetGroupMember(ctx, groupID, cfg.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch membership: %w", err)
	}

	return upstream.NewManager(ctx, upstream.Options{
		GroupID:          groupID,
		UserID:           cfg.UserID,
		Group:            group,
		Member:           member,
		Metadata:         client,
		Bus:              bus,
		Dialer:           dialer,
		Publisher:        bus,
		HeartbeatTimeout: cfg.HeartbeatTimeout.Duration(),
		StatusWorkers:    cfg.StatusSweepWorkers,
		Logger:           logger,
	})
}

// watchConfig applies log level changes from the config file at runtime
func watchConfig(path string, logger *zap.Logger, level zap.AtomicLevel, coordinator *shutdown.Coordinator) error {
	loader, err := config.NewLoader(path, logger)
	if err != nil {
		return err
	}
	if _, err := loader.Load(); err != nil {
		_ = loader.Stop()
		return err
	}

	err = loader.StartWatching(func(cfg *config.Config) error {
		next := logs.ParseLevel(cfg.Logging.Level)
		if next != level.Level() {
			logger.Info("Log level changed",
				zap.String("from", level.Level().String()),
				zap.String("to", next.String()))
			level.SetLevel(next)
		}
		return nil
	})
	if err != nil {
		_ = loader.Stop()
		return err
	}

	coordinator.AddFunc("config-watcher", shutdown.PhaseCleanup, func(context.Context) error {
		return loader.Stop()
	})
	return nil
}
