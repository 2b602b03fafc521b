package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"execgateway/internal/config"
	"execgateway/internal/events"
	"execgateway/internal/exchange"
	"execgateway/internal/orders"
	"execgateway/internal/persistence"
	"execgateway/internal/service"
	"execgateway/internal/telemetry"
	"execgateway/pkg/utils"
)

const storageWriteTimeout = 5 * time.Second

// app - собранные компоненты процесса
type app struct {
	cfg   *config.Config
	in    io.Reader
	out   io.Writer
	store *orders.Store
	svc   service.OrderServiceInterface

	// closers выполняются в обратном порядке
	closers []func()
}

// newApp открывает хранилище, восстанавливает ордера и запускает фоновые очереди
func newApp(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer) (_ *app, err error) {
	a := &app{cfg: cfg, in: in, out: out}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	db, err := persistence.Open(ctx, cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("open storage %s (%s): %w", cfg.Database.Driver, cfg.Database.DSNWithoutPassword(), err)
	}
	a.closers = append(a.closers, func() {
		if err := db.Close(); err != nil {
			utils.Warn("storage close failed", utils.Err(err))
		}
	})

	restored, err := db.ListOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("load orders: %w", err)
	}

	tel, err := telemetry.NewSink(telemetry.Config{
		MinLevel:   cfg.Telemetry.MinLevel,
		Capacity:   cfg.Queues.LogCapacity,
		FilePath:   cfg.Telemetry.File,
		MaxSizeMB:  cfg.Telemetry.MaxSizeMB,
		MaxBackups: cfg.Telemetry.MaxBackups,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	tel.Start()
	a.closers = append(a.closers, tel.Stop)

	sink, err := persistence.NewSink(db, cfg.Queues.PersistCapacity, storageWriteTimeout)
	if err != nil {
		return nil, err
	}
	sink.Start()
	a.closers = append(a.closers, func() {
		sink.Stop()
		if d := sink.Dropped(); d > 0 {
			utils.Warn("persistence dropped snapshots", utils.Int64("dropped", int64(d)))
		}
	})

	a.store = orders.NewStore(sink, tel)
	loaded := a.store.Load(restored...)
	utils.Info("orders restored", utils.Int("count", loaded), utils.String("driver", cfg.Database.Driver))

	if cfg.Events.Enabled() {
		pub, err := events.NewPublisher(
			events.NewKafkaWriter(cfg.Events.Brokers, cfg.Events.Topic),
			cfg.Queues.EventCapacity, storageWriteTimeout)
		if err != nil {
			return nil, err
		}
		pub.Start()
		a.store.RegisterUpdateListener(pub)
		a.closers = append(a.closers, func() {
			if err := pub.Stop(); err != nil {
				utils.Warn("event writer close failed", utils.Err(err))
			}
		})
	}

	httpCfg := exchange.DefaultHTTPClientConfig()
	httpCfg.TotalTimeout = cfg.Exchange.HTTPTimeout

	maxRetries := cfg.Exchange.MaxRetries
	if maxRetries == 0 {
		maxRetries = exchange.NoRetries
	}

	gw := exchange.NewDeribitGateway(exchange.DeribitConfig{
		BaseURL:      cfg.Exchange.RestURL,
		ClientID:     cfg.Exchange.APIKey,
		ClientSecret: cfg.Exchange.APISecret,
		MaxRetries:   maxRetries,
		BaseBackoff:  cfg.Exchange.RetryBackoff,
		RateLimit:    cfg.Exchange.RateLimitRPS,
		Burst:        cfg.Exchange.RateLimitBurst,
		HTTP:         httpCfg,
	}, exchange.WithLatencyRecorder(sink), exchange.WithTelemetry(tel))
	a.closers = append(a.closers, gw.Close)

	if !cfg.Exchange.HasCredentials() {
		utils.Warn("DERIBIT_KEY/DERIBIT_SECRET are not set, private calls will fail")
	}

	a.svc = service.NewOrderService(a.store, gw, tel)
	return a, nil
}

// Close останавливает очереди (с дренажем) и закрывает хранилище
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
