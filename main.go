package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os/signal"
	"syscall"

	"niftyPulse/config"
	"niftyPulse/internal/adapters/angelone"
	"niftyPulse/internal/adapters/binanceclient"
	"niftyPulse/internal/adapters/gateway"
	"niftyPulse/internal/adapters/logger"
	"niftyPulse/internal/adapters/redisbridge"
	"niftyPulse/internal/adapters/scripmaster"
	"niftyPulse/internal/adapters/sqlite"
	"niftyPulse/internal/aggregator"
	"niftyPulse/internal/app"
	"niftyPulse/internal/normalizer"
	"niftyPulse/internal/ports"
	"niftyPulse/internal/pubsub"
	"niftyPulse/internal/recorder"
	"niftyPulse/internal/registry"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Initialize Logger
	appLogger, err := logger.NewZapLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	defer func() { _ = appLogger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize the instrument directory (needed for option chains and
	// exchange-segment routing; only the Angel One feed uses it)
	var directory ports.InstrumentDirectory
	var scripDir *scripmaster.Directory
	if cfg.FeedVendor == config.VendorAngelOne {
		scripDir, err = scripmaster.New(scripmaster.Config{Logger: appLogger})
		if err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to initialize scrip master directory")
			log.Fatalf("FATAL: Failed to initialize scrip master directory: %v", err)
		}
		if err := scripDir.Load(ctx); err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to load scrip master")
			log.Fatalf("FATAL: Failed to load scrip master: %v", err)
		}
		directory = scripDir
	}

	// 4. Initialize the feed adapter
	var feed ports.FeedSource
	var historical ports.HistoricalSource
	switch cfg.FeedVendor {
	case config.VendorAngelOne:
		angelClient, err := angelone.New(angelone.Config{
			APIKey:               cfg.AngelAPIKey,
			ClientID:             cfg.AngelClientID,
			Password:             cfg.AngelClientPassword,
			TOTPSecret:           cfg.AngelTOTPSecret,
			Logger:               appLogger,
			Directory:            directory,
			ReconnectDelay:       cfg.ReconnectDelay,
			MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		})
		if err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to initialize Angel One client")
			log.Fatalf("FATAL: Failed to initialize Angel One client: %v", err)
		}
		feed = angelClient
		historical = angelClient
	case config.VendorBinance:
		binanceFeed, err := binanceclient.New(binanceclient.Config{
			Logger:               appLogger,
			ReconnectDelay:       cfg.ReconnectDelay,
			MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		})
		if err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to initialize Binance client")
			log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
		}
		feed = binanceFeed
	}
	appLogger.Info(ctx, "Feed adapter initialized", map[string]interface{}{"vendor": cfg.FeedVendor})

	// 5. Initialize the aggregation core
	norm, err := normalizer.New(cfg.ReferenceTimezone)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize normalizer")
		log.Fatalf("FATAL: Failed to initialize normalizer: %v", err)
	}
	agg, err := aggregator.New(aggregator.Config{Period: cfg.Period, Logger: appLogger})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize aggregator")
		log.Fatalf("FATAL: Failed to initialize aggregator: %v", err)
	}
	hub, err := pubsub.New(pubsub.Config{QueueCapacity: cfg.SubscriberQueueCapacity, Logger: appLogger})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize pubsub hub")
		log.Fatalf("FATAL: Failed to initialize pubsub hub: %v", err)
	}

	// 6. Initialize Application Service
	service, err := app.NewMarketDataService(cfg, appLogger, feed, norm, agg, hub, registry.New(), directory)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize market data service")
		log.Fatalf("FATAL: Failed to initialize market data service: %v", err)
	}

	// 7. Optional collaborators: candle recorder and redis bridge
	var store ports.CandleStore
	if cfg.RecordCandles {
		repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
		if err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to initialize candle store")
			log.Fatalf("FATAL: Failed to initialize candle store: %v", err)
		}
		defer func() {
			if err := repo.Close(); err != nil {
				appLogger.Error(ctx, err, "Error closing candle store")
			}
		}()
		store = repo

		rec, err := recorder.New(store, appLogger)
		if err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to initialize recorder")
			log.Fatalf("FATAL: Failed to initialize recorder: %v", err)
		}
		go func() {
			if err := rec.Run(ctx, hub); err != nil {
				appLogger.Error(ctx, err, "Candle recorder exited")
			}
		}()
	}

	if cfg.RedisAddr != "" {
		bridge, err := redisbridge.New(ctx, redisbridge.Config{
			Addr:          cfg.RedisAddr,
			ChannelPrefix: cfg.RedisChannelPrefix,
			Logger:        appLogger,
		})
		if err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to initialize redis bridge")
			log.Fatalf("FATAL: Failed to initialize redis bridge: %v", err)
		}
		defer func() {
			if err := bridge.Close(); err != nil {
				appLogger.Error(ctx, err, "Error closing redis bridge")
			}
		}()
		go bridge.Run(ctx, hub)
	}

	// 8. Initialize and start the gateway
	gw, err := gateway.NewServer(gateway.Config{
		ListenAddr: cfg.ListenAddr,
		Logger:     appLogger,
		Service:    service,
		Historical: historical,
		Store:      store,
		Period:     cfg.Period,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize gateway")
		log.Fatalf("FATAL: Failed to initialize gateway: %v", err)
	}
	gatewayErr := make(chan error, 1)
	go func() { gatewayErr <- gw.Start(ctx) }()

	// 9. Run the ingestion loop until a signal arrives
	serviceErr := make(chan error, 1)
	go func() { serviceErr <- service.Start(ctx) }()

	select {
	case err := <-serviceErr:
		if err != nil {
			appLogger.Error(ctx, err, "Market data service exited with error")
		}
	case err := <-gatewayErr:
		if err != nil {
			appLogger.Error(ctx, err, "Gateway exited with error")
		}
	case <-ctx.Done():
	}
	stop()

	appLogger.Info(context.Background(), "Application finished gracefully.")
}
