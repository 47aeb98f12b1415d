package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"escalation/internal/adapter"
	"escalation/internal/clock"
	"escalation/internal/config"
	"escalation/internal/ingest"
	"escalation/internal/logging"
	"escalation/internal/notify"
	"escalation/internal/processor"
	"escalation/internal/state"
)

// Service composes runtime dependencies and process lifecycle.
// Params: config source and shared runtime components.
// Returns: runnable escalation service.
type Service struct {
	source    config.ConfigSource
	cfg       config.Config
	logger    *slog.Logger
	closeLog  func()
	store     state.Store
	holder    *PolicyHolder
	manager   *Manager
	httpSrv   *ingest.HTTPServer
	natsSub   interface{ Close() error }
	watcher   interface{ Close() error }
	pollers   []adapter.SourceAdapter
	readyFlag atomic.Bool
	clock     clock.Clock
}

// NewService builds a service instance from a config source.
// Params: config source and clock implementation.
// Returns: initialized service or setup error.
func NewService(source config.ConfigSource, clk clock.Clock) (*Service, error) {
	cfg, err := config.LoadSnapshot(source)
	if err != nil {
		return nil, err
	}

	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	store, err := buildStore(cfg)
	if err != nil {
		closeLog()
		return nil, err
	}

	holder := NewPolicyHolder(cfg.Policy)
	notifier := notify.NewNotifier(cfg.Notify, clk, logger)
	proc := processor.New(holder, notifier, clk, logger)
	manager := NewManager(store, proc, clk, logger)

	service := &Service{
		source:   source,
		cfg:      cfg,
		logger:   logger,
		closeLog: closeLog,
		store:    store,
		holder:   holder,
		manager:  manager,
		clock:    clk,
	}
	service.pollers = buildPollers(cfg.Sources.Poller)

	webhooks := []adapter.SourceAdapter{
		adapter.NewMetricsWebhook(),
		adapter.NewCloudAlarm(),
	}
	service.httpSrv = ingest.NewHTTPServer(
		cfg.Ingest.HTTP, manager, manager, webhooks, service.readyFlag.Load, logger)

	if cfg.Ingest.NATS.Enabled {
		subscriber, err := ingest.NewNATSSubscriber(cfg.Ingest.NATS, manager, logger)
		if err != nil {
			service.cleanupInitResources()
			return nil, err
		}
		service.natsSub = subscriber
	}

	if cfg.Service.ReloadEnabled {
		watcher, err := WatchPolicy(source, holder, logger)
		if err != nil {
			service.cleanupInitResources()
			return nil, err
		}
		service.watcher = watcher
	}

	return service, nil
}

// Run starts the service lifecycle and blocks until a shutdown signal.
// Params: root context for service runtime.
// Returns: terminal run error.
func (s *Service) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errChan := make(chan error, 1)
	if s.cfg.Ingest.HTTP.Enabled {
		go func() {
			s.logger.Info("http server starting", "listen", s.cfg.Ingest.HTTP.Listen)
			if err := s.httpSrv.Start(); err != nil {
				errChan <- err
			}
		}()
	}

	sweepInterval := time.Duration(s.cfg.Service.CheckIntervalSec) * time.Second
	go s.runTicker(runCtx, sweepInterval, "sweep", s.manager.Sweep)

	if len(s.pollers) > 0 {
		pollInterval := time.Duration(s.cfg.Service.PollIntervalSec) * time.Second
		go s.runTicker(runCtx, pollInterval, "poll", s.pollAll)
	}

	s.readyFlag.Store(true)
	s.logger.Info("service started",
		"name", s.cfg.Service.Name,
		"state_mode", s.cfg.State.Mode,
		"sweep_interval", sweepInterval.String())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-errChan:
		_ = s.shutdown()
		return fmt.Errorf("http server failed: %w", err)
	case <-sigChan:
		return s.shutdown()
	}
}

// runTicker drives one periodic job until the run context ends.
// Params: run context, interval, job name, and callback.
// Returns: none; job errors are logged.
func (s *Service) runTicker(ctx context.Context, interval time.Duration, name string, job func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := job(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error(name+" failed", "error", err.Error())
			}
		}
	}
}

// pollAll runs one pull cycle over every polling adapter.
// Params: run context.
// Returns: first pull error.
func (s *Service) pollAll(ctx context.Context) error {
	var firstErr error
	for _, poller := range s.pollers {
		if err := s.manager.PollOnce(ctx, poller); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// shutdown closes runtime resources in dependency order.
// Params: none.
// Returns: first close error.
func (s *Service) shutdown() error {
	s.readyFlag.Store(false)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var firstErr error
	markErr := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("http shutdown failed", "error", err.Error())
		markErr(fmt.Errorf("http shutdown: %w", err))
	}
	if s.natsSub != nil {
		if err := s.natsSub.Close(); err != nil {
			s.logger.Error("nats subscriber close failed", "error", err.Error())
			markErr(fmt.Errorf("nats subscriber close: %w", err))
		}
	}
	if s.watcher != nil {
		if err := s.watcher.Close(); err != nil {
			s.logger.Error("config watcher close failed", "error", err.Error())
			markErr(fmt.Errorf("config watcher close: %w", err))
		}
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("store close failed", "error", err.Error())
		markErr(fmt.Errorf("store close: %w", err))
	}
	if s.closeLog != nil {
		s.closeLog()
	}
	return firstErr
}

// cleanupInitResources closes partially initialized resources on startup failures.
// Params: none.
// Returns: all acquired resources closed best-effort.
func (s *Service) cleanupInitResources() {
	if s.watcher != nil {
		_ = s.watcher.Close()
		s.watcher = nil
	}
	if s.natsSub != nil {
		_ = s.natsSub.Close()
		s.natsSub = nil
	}
	if s.store != nil {
		_ = s.store.Close()
		s.store = nil
	}
	if s.closeLog != nil {
		s.closeLog()
		s.closeLog = nil
	}
}

// buildStore creates the runtime state backend from config.
// Params: root config snapshot.
// Returns: selected store backend.
func buildStore(cfg config.Config) (state.Store, error) {
	if cfg.State.Mode == config.StateModeNATS {
		return state.NewNATSStore(cfg.Ingest.NATS.URL, cfg.State)
	}
	return state.NewMemoryStore(), nil
}

// buildPollers creates one polling adapter per configured endpoint.
// Params: poller source config.
// Returns: pull adapters, empty when the poller is disabled.
func buildPollers(cfg config.PollerConfig) []adapter.SourceAdapter {
	if !cfg.Enabled {
		return nil
	}
	rules := make([]adapter.ThresholdRule, 0, len(cfg.Rules))
	for _, rule := range cfg.Rules {
		rules = append(rules, adapter.ThresholdRule{
			Metric:    rule.Metric,
			Labels:    rule.Labels,
			Op:        rule.Op,
			Value:     rule.Value,
			AlertName: rule.AlertName,
			Severity:  rule.Severity,
			System:    rule.System,
			Unit:      rule.Unit,
		})
	}
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	pollers := make([]adapter.SourceAdapter, 0, len(cfg.Endpoints))
	for _, endpoint := range cfg.Endpoints {
		pollers = append(pollers, adapter.NewMetricsPoller(endpoint, rules, timeout))
	}
	return pollers
}
