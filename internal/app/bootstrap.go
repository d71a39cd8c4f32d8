package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"stock_bot/internal/domain"
	"stock_bot/internal/execution"
	"stock_bot/internal/infra"
	"stock_bot/internal/infra/storage"
	"stock_bot/internal/infra/stream"
	"stock_bot/internal/ingest"
	"stock_bot/internal/service"
	"stock_bot/internal/strategy"
	"stock_bot/internal/window"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config   *infra.Config
	Registry *prometheus.Registry
	Metrics  *infra.Metrics
	Storage  *storage.Storage
	Reader   *window.Reader
	TxLog    *execution.TxLog
	Values   *execution.ValueLog
	Ledger   *execution.Ledger
	Bots     []*Bot
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// PriceDir is where the per-ticker append logs live.
func PriceDir(cfg *infra.Config) string {
	return filepath.Join(cfg.App.DataDir, "prices")
}

// Initialize performs core system initialization (config, logger, DB, logs).
func (b *Bootstrap) Initialize(configPath string) error {
	// 1. Load Config
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	slog.SetDefault(infra.NewLogger(cfg))
	slog.Info("🚀 Bootstrapping Stock Bot...", slog.String("config", configPath))

	// 3. Metrics
	b.Registry = prometheus.NewRegistry()
	b.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	b.Metrics = infra.NewMetrics(b.Registry)

	// 4. Initialize Storage (DB)
	store, err := storage.NewStorage(cfg.Portfolio.DBPath)
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("✅ Database initialized", slog.String("path", cfg.Portfolio.DBPath))

	// 5. Window reader doubles as the ledger's price lookup
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	b.Reader = window.NewReader(PriceDir(cfg), loc, cfg.Window.InitialChunk, b.Metrics)

	// 6. Ledger and its logs
	b.TxLog = execution.NewTxLog(cfg.Portfolio.LogDir, loc, 0)
	b.Values = execution.NewValueLog(cfg.Portfolio.LogDir, loc)
	b.Ledger = execution.NewLedger(store, b.Reader, b.TxLog, b.Metrics)
	slog.Info("✅ Ledger ready", slog.String("log_dir", cfg.Portfolio.LogDir))

	return nil
}

// BuildBots creates one strategy instance per configured bot.
func (b *Bootstrap) BuildBots() error {
	bots := make([]*Bot, 0, len(b.Config.Bots))
	for _, bc := range b.Config.Bots {
		s, err := strategy.Build(bc.Strategy, strategy.Params(bc.Params))
		if err != nil {
			return fmt.Errorf("bot %s: %w", bc.Name, err)
		}
		bots = append(bots, &Bot{Name: bc.Name, Strategy: s, Risk: bc.Risk})
	}
	b.Bots = bots
	slog.Info("✅ Bots configured", slog.Int("count", len(bots)))
	return nil
}

// SyncPortfolios makes sure every bot has a portfolio, creating missing ones
// with the configured starting cash.
func (b *Bootstrap) SyncPortfolios(ctx context.Context) error {
	slog.Info("🔄 Syncing portfolios...")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	semaphore := make(chan struct{}, 5) // Limit concurrent DB writes

	for _, bot := range b.Bots {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			select {
			case <-ctx.Done():
				return
			case semaphore <- struct{}{}: // Acquire
			}
			defer func() { <-semaphore }() // Release

			if _, err := b.Ledger.EnsurePortfolio(name, b.Config.Portfolio.StartingCash); err != nil {
				slog.Error("Failed to ensure portfolio", slog.String("bot", name), slog.Any("error", err))
				mu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("portfolio %s: %w", name, err)
				}
				mu.Unlock()
			}
		}(bot.Name)
	}

	wg.Wait()
	if firstErr != nil {
		return firstErr
	}
	slog.Info("✨ Portfolio sync completed", slog.Int("bots", len(b.Bots)))
	return ctx.Err()
}

// Universe returns the screener when one is configured, else the static ticker list.
func (b *Bootstrap) Universe() domain.UniverseProvider {
	static := NewStaticUniverse(b.Config.Tickers)
	u := b.Config.Universe
	if u.ScreenerURL == "" {
		return static
	}
	slog.Info("✅ Using screener universe", slog.String("url", u.ScreenerURL), slog.Int("limit", u.Limit))
	return infra.NewScreenerClient(u.ScreenerURL, u.Limit, u.Timeout, static.tickers)
}

// Run wires the streaming pipeline and the scheduler and blocks until the
// scheduler finishes or ctx is done. The worker is stopped before the writer
// drains, so queued ticks are flushed before it returns.
func (b *Bootstrap) Run(ctx context.Context) error {
	cfg := b.Config
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	session, err := cfg.MarketSession()
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	queue := ingest.NewQueue(cfg.Ingest.QueueCapacity, b.Metrics)
	writer := ingest.NewWriter(ingest.WriterConfig{
		Dir:         PriceDir(cfg),
		Location:    loc,
		Interval:    cfg.Ingest.FlushInterval,
		ReportEvery: cfg.Ingest.ReportEvery,
	}, queue, ingest.NewRotator(PriceDir(cfg), cfg.Ingest.Retain), b.Metrics)

	worker := stream.NewWorker(stream.ConfigFrom(cfg), queue, b.Metrics)
	watchdog := stream.NewWatchdog(worker, cfg.Stream.StallTimeout, cfg.Stream.MaxSession, cfg.Stream.PollInterval, b.Metrics)

	runner := NewRunner(RunnerConfig{
		Interval:         cfg.Scheduler.Interval,
		OpenWait:         cfg.Scheduler.OpenWait,
		NoBuyBeforeClose: cfg.Scheduler.NoBuyBeforeClose,
		UniverseRefresh:  cfg.Scheduler.UniverseRefresh,
		MaxConcurrent:    cfg.Scheduler.MaxConcurrent,
		Session:          session,
		IgnoreHours:      cfg.Scheduler.IgnoreHours,
	}, b.Bots, service.NewDataCache(b.Reader, cfg.Window.Workers), b.Ledger, b.Values,
		b.Universe(), worker, b.Metrics)

	// The writer outlives the stream worker so its final drain sees every pushed tick.
	writerCtx, stopWriter := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWriter()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return writer.Run(writerCtx) })
	g.Go(func() error {
		watchdog.Run(gctx)
		return nil
	})
	g.Go(func() error {
		b.Metrics.LogSnapshots(gctx, cfg.Metrics.ReportInterval)
		return nil
	})
	if cfg.Metrics.Addr != "" {
		g.Go(func() error {
			if err := infra.ServeMetrics(gctx, cfg.Metrics.Addr, b.Registry); err != nil {
				slog.Error("Metrics server failed", slog.Any("error", err))
			}
			return nil
		})
	}
	g.Go(func() error {
		// the scheduler owns the lifetime of everything else:
		// stop the worker, then drain the queue, then cancel the rest
		defer cancel()
		defer stopWriter()
		defer worker.Stop()
		return runner.Run(gctx)
	})

	slog.InfoContext(ctx, "✨ Stock Bot fully operational. Press Ctrl+C to exit.")
	return g.Wait()
}

// Close releases every resource opened by Initialize.
func (b *Bootstrap) Close() {
	b.TxLog.Close()
	if b.Values != nil {
		b.Values.Close()
	}
	if b.Storage != nil {
		if err := b.Storage.Close(); err != nil {
			slog.Warn("Failed to close database", slog.Any("error", err))
		}
	}
}
