package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"stock_bot/internal/app"
	"stock_bot/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v3"

	_ "net/http/pprof" // For pprof profiling
)

// withBootstrap initializes the application for one command and releases it afterwards.
func withBootstrap(cmd *cli.Command, fn func(b *app.Bootstrap) error) error {
	b := app.NewBootstrap()
	defer b.Close()
	if err := b.Initialize(cmd.String("config")); err != nil {
		return fmt.Errorf("bootstrapping failed: %w", err)
	}
	return fn(b)
}

// runAction starts streaming, persistence and the trading scheduler.
func runAction(ctx context.Context, cmd *cli.Command) error {
	return withBootstrap(cmd, func(b *app.Bootstrap) error {
		if addr := cmd.String("pprof"); addr != "" {
			go func() {
				slog.Info("🕵️ Pprof server started", slog.String("addr", addr))
				if err := http.ListenAndServe(addr, nil); err != nil {
					slog.Error("Pprof server failed", slog.Any("error", err))
				}
			}()
		}

		if err := b.BuildBots(); err != nil {
			return err
		}
		if err := b.SyncPortfolios(ctx); err != nil {
			return err
		}

		err := b.Run(ctx)
		slog.Info("👋 Shutting down gracefully...")
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
}

// barsAction prints the reconstructed minute bars of one ticker.
func barsAction(_ context.Context, cmd *cli.Command) error {
	ticker := cmd.Args().First()
	if ticker == "" {
		return errors.New("usage: bars <ticker>")
	}
	return withBootstrap(cmd, func(b *app.Bootstrap) error {
		table, err := b.Reader.ReadWindow(ticker, int(cmd.Int("minutes")))
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
		fmt.Fprintln(w, "TIME\tOPEN\tHIGH\tLOW\tCLOSE\tVOLUME\t")
		for _, bar := range table.Bars {
			fmt.Fprintf(w, "%s\t%.4f\t%.4f\t%.4f\t%.4f\t%.0f\t\n",
				bar.Time.Format("15:04"), bar.Open, bar.High, bar.Low, bar.Close, bar.Volume)
		}
		return w.Flush()
	})
}

func portfolioListAction(_ context.Context, cmd *cli.Command) error {
	return withBootstrap(cmd, func(b *app.Bootstrap) error {
		names, err := b.Storage.ListPortfolios()
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return nil
	})
}

func portfolioShowAction(_ context.Context, cmd *cli.Command) error {
	bot := cmd.Args().First()
	if bot == "" {
		return errors.New("usage: portfolio show <bot>")
	}
	return withBootstrap(cmd, func(b *app.Bootstrap) error {
		p, err := b.Ledger.Portfolio(bot)
		if err != nil {
			return err
		}
		total, missing, err := b.Ledger.Value(bot, nil)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "portfolio\t%s\n", p.Name)
		fmt.Fprintf(w, "free cash\t%s\n", p.FreeCash.StringFixed(2))
		for _, t := range p.Tickers() {
			fmt.Fprintf(w, "%s\t%d\n", t, p.Holdings[t])
		}
		fmt.Fprintf(w, "value\t%s\n", total.StringFixed(2))
		if len(missing) > 0 {
			fmt.Fprintf(w, "unpriced\t%v\n", missing)
		}
		return w.Flush()
	})
}

func portfolioCreateAction(_ context.Context, cmd *cli.Command) error {
	bot := cmd.Args().First()
	if bot == "" {
		return errors.New("usage: portfolio create <bot> [--cash X]")
	}
	return withBootstrap(cmd, func(b *app.Bootstrap) error {
		cash := b.Config.Portfolio.StartingCash
		if s := cmd.String("cash"); s != "" {
			v, err := decimal.NewFromString(s)
			if err != nil || v.IsNegative() {
				return &domain.ConfigError{Field: "cash", Err: fmt.Errorf("invalid amount %q", s)}
			}
			cash = v
		}
		created, err := b.Ledger.EnsurePortfolio(bot, cash)
		if err != nil {
			return err
		}
		if !created {
			fmt.Printf("portfolio %s already exists\n", bot)
			return nil
		}
		fmt.Printf("portfolio %s created with %s\n", bot, cash.StringFixed(2))
		return nil
	})
}

func main() {
	// Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := &cli.Command{
		Name:  "stock_bot",
		Usage: "Stream ticks, build minute bars and paper-trade technical strategies",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML configuration",
				Value:   "configs/config.yaml",
			},
		},
		Action: runAction,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Start streaming and trading (default)",
				Action: runAction,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "pprof",
						Usage: "Serve pprof on `ADDR` (localhost only recommended)",
						Value: "localhost:6060",
					},
				},
			},
			{
				Name:      "bars",
				Usage:     "Print the minute bars reconstructed from a ticker's log",
				ArgsUsage: "<ticker>",
				Action:    barsAction,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "minutes",
						Aliases: []string{"m"},
						Usage:   "Window length in minutes",
						Value:   60,
					},
				},
			},
			{
				Name:  "portfolio",
				Usage: "Inspect and create bot portfolios",
				Commands: []*cli.Command{
					{Name: "list", Usage: "List portfolios", Action: portfolioListAction},
					{Name: "show", Usage: "Show cash, holdings and value", ArgsUsage: "<bot>", Action: portfolioShowAction},
					{
						Name:      "create",
						Usage:     "Create a portfolio",
						ArgsUsage: "<bot>",
						Action:    portfolioCreateAction,
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "cash", Usage: "Starting cash, defaults to portfolio.starting_cash"},
						},
					},
				},
			},
		},
	}

	if err := cmd.Run(ctx, os.Args); err != nil {
		slog.Error("❌ Command failed", slog.Any("error", err))
		os.Exit(1)
	}
}
