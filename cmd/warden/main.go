// Command warden runs the coordination core of the paper-trading system:
// a market feeder, a signal producer, the execution coordinator and the risk
// governor, each as an independently scheduled loop coordinating only through
// the shared state store and the signal channel.
//
// Usage:
//
//	warden --config config.yaml
//	warden --config config.yaml --override pause --reason "maintenance"
//	warden --config config.yaml --override resume
//
// The advisor API key may be supplied via the ADVISOR_API_KEY environment
// variable instead of the config file.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tradewarden/warden/config"
	"github.com/tradewarden/warden/internal/clients"
	"github.com/tradewarden/warden/internal/domain"
	"github.com/tradewarden/warden/internal/runner"
	"github.com/tradewarden/warden/internal/services/executor"
	"github.com/tradewarden/warden/internal/services/feeder"
	"github.com/tradewarden/warden/internal/services/governor"
	"github.com/tradewarden/warden/internal/services/producer"
	"github.com/tradewarden/warden/internal/signalchan"
	"github.com/tradewarden/warden/internal/storage/postgres"
	"github.com/tradewarden/warden/pkg/retrier"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to yaml config")
	override := flag.String("override", "", "manual governance override: pause or resume")
	reason := flag.String("reason", "manual override", "reason recorded with --override")
	flag.Parse()

	cfg, err := config.Get(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := connectStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to connect to shared state store", zap.Error(err))
	}
	defer closeStore()

	if err := store.InitState(ctx, cfg.InitialBalance); err != nil {
		logger.Fatal("failed to initialize shared state", zap.Error(err))
	}

	if *override != "" {
		if err := manualOverride(ctx, store, *override, *reason); err != nil {
			logger.Fatal("manual override failed", zap.Error(err))
		}
		logger.Info("manual override applied", zap.String("override", *override), zap.String("reason", *reason))
		return
	}

	if err := run(ctx, cfg, store, logger); err != nil && !isShutdown(err) {
		logger.Fatal("warden stopped with error", zap.Error(err))
	}
	logger.Info("warden stopped")
}

func connectStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*postgres.Store, func(), error) {
	r := retrier.New(retrier.WithMaxRetries(5))
	client, err := retrier.DoWithData(r, ctx, func(ctx context.Context) (*postgres.Client, error) {
		return postgres.NewClient(postgres.Option{
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			Database: cfg.Postgres.Database,
			SSLMode:  cfg.Postgres.SSLMode,
		})
	})
	if err != nil {
		return nil, nil, err
	}

	closeFn := func() {
		if cerr := client.Close(); cerr != nil {
			logger.Warn("failed to close store connection", zap.Error(cerr))
		}
	}
	return postgres.NewStore(client, logger.Named("store")), closeFn, nil
}

func run(ctx context.Context, cfg *config.Config, store *postgres.Store, logger *zap.Logger) error {
	channel, err := signalchan.New(cfg.SignalFile)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.RunsService(config.ServiceFeeder) {
		source, err := buildPriceSource(cfg)
		if err != nil {
			return err
		}
		f := feeder.New(logger.Named("feeder"), cfg.Symbol, source, store)
		loop := &runner.Loop{
			Name:     config.ServiceFeeder,
			Interval: cfg.FeederInterval,
			Fn:       f.Tick,
			Logger:   logger,
		}
		g.Go(func() error { return loop.Run(gctx) })
	}

	if cfg.RunsService(config.ServiceProducer) {
		p := producer.New(logger.Named("producer"), producer.Config{Symbol: cfg.Symbol}, store, channel)
		if err := p.Initialize(ctx); err != nil {
			return err
		}
		loop := &runner.Loop{
			Name:     config.ServiceProducer,
			Interval: cfg.ProducerInterval,
			Fn: func(ctx context.Context) error {
				if err := p.Tick(ctx); err != nil && !errors.Is(err, domain.ErrNoData) {
					return err
				}
				return nil
			},
			Logger: logger,
		}
		g.Go(func() error { return loop.Run(gctx) })
	}

	if cfg.RunsService(config.ServiceExecutor) {
		ex, err := executor.New(logger.Named("executor"), executor.Config{
			Symbol:                cfg.Symbol,
			InitialBalance:        cfg.InitialBalance,
			OrderSizePercent:      cfg.OrderSizePercent,
			MaxTradesPerWindow:    cfg.MaxTradesPerWindow,
			RiskWindow:            cfg.RiskWindow,
			MaxCapitalLossPercent: cfg.MaxCapitalLossPercent,
			StaleSignalThreshold:  cfg.StaleSignalThreshold,
		}, store, channel, cfg.WalDir)
		if err != nil {
			return err
		}
		defer ex.Close()

		if err := ex.Initialize(ctx); err != nil {
			return err
		}
		loop := &runner.Loop{
			Name:     config.ServiceExecutor,
			Interval: cfg.ExecutorInterval,
			Fn: func(ctx context.Context) error {
				_, err := ex.Tick(ctx)
				if executor.IsSkip(err) {
					return nil
				}
				return err
			},
			Logger: logger,
		}
		g.Go(func() error { return loop.Run(gctx) })
	}

	if cfg.RunsService(config.ServiceGovernor) {
		advisor := clients.NewOpenAICompatibleAdvisor(
			cfg.Advisor.APIURL, cfg.Advisor.APIKey, cfg.Advisor.Model,
			cfg.Advisor.Timeout, cfg.Advisor.MaxRetries)
		gov := governor.New(logger.Named("governor"), governor.Config{
			Symbol:                cfg.Symbol,
			InitialBalance:        cfg.InitialBalance,
			MaxCapitalLossPercent: cfg.MaxCapitalLossPercent,
			MaxTradesPerWindow:    cfg.MaxTradesPerWindow,
			RiskWindow:            cfg.RiskWindow,
			AdvisoryTimeout:       cfg.Advisor.Timeout,
		}, store, advisor)
		loop := &runner.Loop{
			Name:        config.ServiceGovernor,
			Interval:    cfg.GovernorInterval,
			TickTimeout: cfg.Advisor.Timeout + 30*time.Second,
			Fn:          gov.Cycle,
			Logger:      logger,
		}
		g.Go(func() error { return loop.Run(gctx) })
	}

	logger.Info("warden started",
		zap.String("symbol", cfg.Symbol),
		zap.Strings("services", cfg.Services),
		zap.String("initial_balance", cfg.InitialBalance.String()))

	return g.Wait()
}

func buildPriceSource(cfg *config.Config) (feeder.PriceSource, error) {
	switch cfg.PriceSource {
	case "binance":
		return feeder.NewBinancePriceSource(binance.NewClient("", "")), nil
	case "bybit":
		return feeder.NewBybitPriceSource(bybit.NewClient()), nil
	case "randomwalk":
		return feeder.NewRandomWalkSource(decimal.NewFromInt(100), decimal.NewFromFloat(0.5), time.Now().UnixNano()), nil
	default:
		return nil, fmt.Errorf("unknown price source %q", cfg.PriceSource)
	}
}

// manualOverride is the explicit operator path allowed to write governance
// status besides the governor, using the same check-and-set protocol.
func manualOverride(ctx context.Context, store *postgres.Store, override, reason string) error {
	var target domain.GovernanceState
	switch override {
	case "pause":
		target = domain.GovernancePaused
	case "resume":
		target = domain.GovernanceActive
	default:
		return fmt.Errorf("unknown override %q, want pause or resume", override)
	}

	status, err := store.GovernanceStatus(ctx)
	if err != nil {
		return err
	}
	next := domain.GovernanceStatus{State: target, Reason: reason}
	return store.WriteGovernanceStatus(ctx, next, status.Version)
}

func isShutdown(err error) bool {
	return errors.Is(err, context.Canceled)
}
