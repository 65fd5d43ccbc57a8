package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/Zhima-Mochi/minishop-saga/internal/application"
	appCompensation "github.com/Zhima-Mochi/minishop-saga/internal/application/compensation"
	appDataPlatform "github.com/Zhima-Mochi/minishop-saga/internal/application/dataplatform"
	appOrder "github.com/Zhima-Mochi/minishop-saga/internal/application/order"
	appPayment "github.com/Zhima-Mochi/minishop-saga/internal/application/payment"
	appReconciliation "github.com/Zhima-Mochi/minishop-saga/internal/application/reconciliation"
	"github.com/Zhima-Mochi/minishop-saga/internal/config"
	domcoupon "github.com/Zhima-Mochi/minishop-saga/internal/domain/coupon"
	domorder "github.com/Zhima-Mochi/minishop-saga/internal/domain/order"
	dompayment "github.com/Zhima-Mochi/minishop-saga/internal/domain/payment"
	dompoint "github.com/Zhima-Mochi/minishop-saga/internal/domain/point"
	domstock "github.com/Zhima-Mochi/minishop-saga/internal/domain/stock"
	"github.com/Zhima-Mochi/minishop-saga/internal/domain/tx"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/id"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/kafka"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/memory"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/mysql"
	infraObservability "github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/observability"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/observability/oteltrace"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/observability/prometrics"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/observability/zaplogger"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/outbox"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/pg"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/redislock"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability"
	"github.com/Zhima-Mochi/minishop-saga/internal/pkg/logging"
	httppresentation "github.com/Zhima-Mochi/minishop-saga/internal/presentation/http"
	workerpresentation "github.com/Zhima-Mochi/minishop-saga/internal/presentation/worker"
)

const (
	serviceOrder          = "order-service"
	servicePayment        = "payment-service"
	serviceCompensation   = "compensation-worker"
	serviceReconciliation = "reconciliation-scheduler"
	serviceDataPlatform   = "dataplatform-worker"
)

// store is the set of repositories one storage driver provides.
type store struct {
	tx       tx.Manager
	orders   domorder.Repository
	stocks   domstock.Repository
	points   dompoint.Repository
	coupons  domcoupon.Repository
	payments dompayment.Repository
	catalog  appOrder.Catalog
	buyers   appOrder.BuyerDirectory
	backlog  appReconciliation.ResultBacklog
	close    func() error
}

func serve(parent context.Context, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	baseLogger, err := logging.NewLogger(cfg.Service.Name, cfg.Service.Env, cfg.Service.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = baseLogger.Sync() }()
	logger := zaplogger.New(baseLogger)
	systemLogger := logger.With(
		observability.F("trace_id", logging.SystemTraceID),
		observability.F("span_id", logging.SystemSpanID),
	)

	if cfg.Tracing.Enabled {
		shutdown, terr := oteltrace.InstallProvider(oteltrace.ProviderConfig{
			ServiceName: cfg.Service.Name,
			Environment: cfg.Service.Env,
			SampleRatio: cfg.Tracing.SampleRatio,
		})
		if terr != nil {
			return fmt.Errorf("tracing: %w", terr)
		}
		defer func() { _ = shutdown(context.Background()) }()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	tel := infraObservability.New(oteltrace.New(cfg.Service.Name), logger, prometrics.NewRegistry(reg))

	st, err := openStore(cfg, systemLogger)
	if err != nil {
		return err
	}
	defer func() { _ = st.close() }()

	// The sender is closed after the bus has drained.
	var sender appDataPlatform.Sender = appDataPlatform.LogSender{Log: logger}
	if len(cfg.Kafka.Brokers) > 0 {
		ks := kafka.NewSender(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.WriteTimeout)
		defer func() { _ = ks.Close() }()
		sender = ks
	}

	bus := outbox.NewBus(logger, tel)
	bus.Start(ctx)
	defer bus.Stop(context.WithoutCancel(ctx))

	gateway := pg.NewClient(pg.Config{
		BaseURL:        cfg.PG.BaseURL,
		ConnectTimeout: cfg.PG.ConnectTimeout,
		ReadTimeout:    cfg.PG.ReadTimeout,
		Breaker: pg.BreakerConfig{
			ConsecutiveFailures: cfg.PG.Breaker.ConsecutiveFailures,
			OpenTimeout:         cfg.PG.Breaker.OpenTimeout,
			HalfOpenRequests:    cfg.PG.Breaker.HalfOpenRequests,
			Interval:            cfg.PG.Breaker.Interval,
		},
		StatusRetry: pg.RetryConfig{
			Attempts: cfg.PG.StatusRetry.Attempts,
			Backoff:  cfg.PG.StatusRetry.Backoff,
		},
	}, tel)

	paymentIn := application.NewInstruments(tel, servicePayment)
	settler := appPayment.NewSettler(st.payments, bus, paymentIn)
	starter := appPayment.NewStartPaymentUseCase(gateway, settler, cfg.PG.CallbackURL, paymentIn)
	callback := appPayment.NewCallbackUseCase(settler, paymentIn)
	statusCheck := appPayment.NewStatusCheckUseCase(st.payments, gateway, settler, paymentIn)

	orderIn := application.NewInstruments(tel, serviceOrder)
	placeOrder := appOrder.NewPlaceOrderUseCase(appOrder.Dependencies{
		Tx:       st.tx,
		Orders:   st.orders,
		Stocks:   st.stocks,
		Points:   st.points,
		Coupons:  st.coupons,
		Payments: st.payments,
		Catalog:  st.catalog,
		Buyers:   st.buyers,
		IDs:      id.NewGenerator(),
		Payer:    starter,
		Events:   bus,
	}, orderIn)

	appOrder.NewWorker(st.orders, workerpresentation.NewSubscriber(bus, logger, appOrder.WorkerService), orderIn).Start()

	compensation := appCompensation.NewUseCase(appCompensation.Dependencies{
		Tx:      st.tx,
		Orders:  st.orders,
		Stocks:  st.stocks,
		Points:  st.points,
		Coupons: st.coupons,
	}, application.NewInstruments(tel, serviceCompensation))
	appCompensation.NewWorker(workerpresentation.NewSubscriber(bus, logger, serviceCompensation), compensation).Start()

	appDataPlatform.NewWorker(
		workerpresentation.NewSubscriber(bus, logger, serviceDataPlatform),
		sender,
		application.NewInstruments(tel, serviceDataPlatform),
	).Start()

	handler := httppresentation.NewHandler(httppresentation.Deps{
		PlaceOrder:  placeOrder,
		Callback:    callback,
		StatusCheck: statusCheck,
		Gateway:     gateway,
		Metrics:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}, tel)
	server := &http.Server{
		Addr:    cfg.Service.HTTPAddr,
		Handler: handler.Router(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		systemLogger.Info("http_server_start", observability.F("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Service.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			systemLogger.Error("http_server_shutdown_error", observability.F("error", err.Error()))
			return err
		}
		systemLogger.Info("http_server_stopped")
		return nil
	})

	if cfg.Reconciliation.Enabled {
		var locker appReconciliation.Locker
		if cfg.Redis.Addr != "" {
			rdb := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			defer func() { _ = rdb.Close() }()
			locker = redislock.New(rdb)
		}
		// Each scheduler attempt is a single PG lookup; retries live in the
		// scheduler's own backoff.
		scheduler := appReconciliation.NewScheduler(st.payments, gateway.WithoutRetry(), settler, locker, st.backlog, appReconciliation.Config{
			Interval:    cfg.Reconciliation.Interval,
			StaleAfter:  cfg.Reconciliation.StaleAfter,
			Attempts:    cfg.Reconciliation.Attempts,
			Backoff:     cfg.Reconciliation.Backoff,
			Concurrency: cfg.Reconciliation.Concurrency,
			BatchSize:   cfg.Reconciliation.BatchSize,
			LockTTL:     cfg.Reconciliation.LockTTL,
			ResultGrace: cfg.Reconciliation.ResultGrace,
		}, application.NewInstruments(tel, serviceReconciliation))
		g.Go(func() error { return scheduler.Run(gctx) })
	}

	return g.Wait()
}

func mysqlConfig(cfg config.Config) mysql.Config {
	return mysql.Config{
		DSN:             cfg.Storage.DSN,
		MaxOpenConns:    cfg.Storage.MaxOpenConns,
		MaxIdleConns:    cfg.Storage.MaxIdleConns,
		ConnMaxLifetime: cfg.Storage.ConnMaxLifetime,
		LockWaitTimeout: cfg.Ledger.PointLockTimeout,
	}
}

func openStore(cfg config.Config, log observability.Logger) (*store, error) {
	if cfg.Storage.Driver == config.DriverMySQL {
		db, err := mysql.Open(mysqlConfig(cfg))
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		log.Info("storage_opened", observability.F("driver", config.DriverMySQL))
		payments := mysql.NewPaymentRepository(db)
		return &store{
			tx:       mysql.NewTxManager(db),
			orders:   mysql.NewOrderRepository(db),
			stocks:   mysql.NewStockRepository(db),
			points:   mysql.NewPointRepository(db),
			coupons:  mysql.NewCouponRepository(db),
			payments: payments,
			catalog:  mysql.NewCatalog(db),
			buyers:   mysql.NewBuyers(db),
			backlog:  payments,
			close:    sqlDB.Close,
		}, nil
	}

	stocks := memory.NewStockRepository()
	points := memory.NewPointRepository(cfg.Ledger.PointLockTimeout)
	coupons := memory.NewCouponRepository()
	catalog := memory.NewCatalog()
	buyers := memory.NewBuyers()
	if err := seedMemory(cfg.Seed, stocks, points, coupons, catalog, buyers); err != nil {
		return nil, err
	}
	log.Info("storage_opened",
		observability.F("driver", config.DriverMemory),
		observability.F("seed_products", len(cfg.Seed.Products)),
		observability.F("seed_buyers", len(cfg.Seed.Buyers)),
	)
	orders := memory.NewOrderRepository()
	payments := memory.NewPaymentRepository()
	return &store{
		tx:       memory.NewTxManager(),
		orders:   orders,
		stocks:   stocks,
		points:   points,
		coupons:  coupons,
		payments: payments,
		catalog:  catalog,
		buyers:   buyers,
		backlog:  memory.NewResultBacklog(orders, payments),
		close:    func() error { return nil },
	}, nil
}

func seedMemory(
	seed config.Seed,
	stocks *memory.StockRepository,
	points *memory.PointRepository,
	coupons *memory.CouponRepository,
	catalog *memory.Catalog,
	buyers *memory.Buyers,
) error {
	for _, p := range seed.Products {
		row, err := domstock.New(p.ID, p.Quantity)
		if err != nil {
			return fmt.Errorf("seed product %s: %w", p.ID, err)
		}
		name := p.Name
		if name == "" {
			name = p.ID
		}
		catalog.Put(appOrder.Product{ID: p.ID, Name: name, Price: p.Price})
		stocks.Put(row)
	}
	for _, b := range seed.Buyers {
		bal, err := dompoint.New(b.ID, b.Points)
		if err != nil {
			return fmt.Errorf("seed buyer %s: %w", b.ID, err)
		}
		buyers.Add(b.ID)
		points.Put(bal)
	}
	for _, c := range seed.Coupons {
		kind, err := domcoupon.ParseKind(c.Kind)
		if err != nil {
			return fmt.Errorf("seed coupon %s: %w", c.ID, err)
		}
		name := c.Name
		if name == "" {
			name = c.ID
		}
		cp, err := domcoupon.New(c.ID, c.Owner, name, kind, c.Value)
		if err != nil {
			return fmt.Errorf("seed coupon %s: %w", c.ID, err)
		}
		coupons.Put(cp)
	}
	return nil
}
