package main

import (
	"context"
	"database/sql"
	"io"
	"net/http"
	"os"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"
	"golang.org/x/exp/slog"

	"kiosk/internal/app"
	"kiosk/internal/config"
	"kiosk/internal/events"
	"kiosk/internal/gateway"
	internalRedis "kiosk/internal/redis"
	"kiosk/internal/repository/postgres"
	"kiosk/internal/sdk"
	"kiosk/internal/service"
	"kiosk/internal/useragent"
)

// kiosk holds the wired session core. Close releases everything it opened.
type kiosk struct {
	bus      *events.Bus
	sim      *sdk.Simulator
	auth     *service.AuthSessionManager
	readers  *service.ReaderConnectionManager
	payments *service.PaymentTransactionManager
	catalog  *service.CatalogService
	receipts *service.ReceiptService

	db          *sql.DB
	redisClient *redis.Client
	idempotency internalRedis.IdempotencyStoreInterface
	nrApp       *newrelic.Application

	closers []func()
}

// wireOptions lets commands swap the pieces that differ between the daemon
// and one-shot commands.
type wireOptions struct {
	userAgent service.UserAgent
	storage   bool // Connect PostgreSQL and Redis when enabled in config
}

func newNewRelic(cfg config.NewRelicConfig, logger *slog.Logger) *newrelic.Application {
	if !cfg.Enabled || cfg.LicenseKey == "" {
		return nil
	}
	nrApp, err := newrelic.NewApplication(
		newrelic.ConfigAppName(cfg.AppName),
		newrelic.ConfigLicense(cfg.LicenseKey),
		newrelic.ConfigDistributedTracerEnabled(true),
		newrelic.ConfigAppLogForwardingEnabled(true),
	)
	if err != nil {
		logger.Warn("failed to initialize New Relic", slog.Any("err", err))
		return nil
	}
	logger.Info("New Relic enabled", slog.String("app", cfg.AppName))
	return nrApp
}

// wireKiosk builds the session core. Managers that learn state only from
// events are constructed before the ones that publish it.
func wireKiosk(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts wireOptions) (*kiosk, error) {
	k := &kiosk{bus: events.NewBus(logger)}

	if opts.storage {
		k.nrApp = newNewRelic(cfg.NewRelic, logger)
		if k.nrApp != nil {
			unsubscribe := app.RecordSessionEvents(k.bus, k.nrApp)
			k.closers = append(k.closers, unsubscribe, func() { k.nrApp.Shutdown(shutdownTimeout) })
		}
	}

	var paymentOpts []service.PaymentOption
	var cache internalRedis.CacheStoreInterface

	if opts.storage && cfg.Database.Enabled {
		db, err := app.NewDatabase(ctx, cfg.Database, k.nrApp)
		if err != nil {
			k.Close()
			return nil, err
		}
		k.db = db
		k.closers = append(k.closers, func() { _ = db.Close() })
		paymentOpts = append(paymentOpts, service.WithJournal(postgres.NewAttemptRepository(db)))
		logger.Info("attempt journal enabled")
	}

	if opts.storage && cfg.Redis.Enabled {
		client, err := app.NewRedisClient(ctx, cfg.Redis, k.nrApp)
		if err != nil {
			k.Close()
			return nil, err
		}
		k.redisClient = client
		k.closers = append(k.closers, func() { _ = client.Close() })
		cache = internalRedis.NewCacheStore(client, cfg.Redis.CacheTTL)
		k.idempotency = internalRedis.NewIdempotencyStore(client, 0)
		paymentOpts = append(paymentOpts, service.WithTerminalLock(internalRedis.NewLockStore(client)))
		logger.Info("redis enabled", slog.String("addr", cfg.Redis.Addr))
	}

	gw := gateway.New(cfg.Backend.BaseURL, &http.Client{Timeout: cfg.Backend.Timeout})
	k.sim = sdk.NewSimulator(sdk.Options{
		PairingDelay: cfg.Reader.PairingDelay,
		CaptureDelay: cfg.Reader.CaptureDelay,
		Bluetooth:    cfg.Reader.Bluetooth,
		Location:     cfg.Reader.Location,
		Offline:      cfg.Reader.Offline,
	}, logger)

	k.payments = service.NewPaymentTransactionManager(service.PaymentConfig{
		Flow:         service.PaymentFlow(cfg.Payment.Flow),
		Currency:     cfg.Payment.Currency,
		TerminalID:   cfg.Payment.TerminalID,
		OrderTimeout: cfg.Payment.OrderTimeout,
		LockTTL:      cfg.Payment.LockTTL,
	}, gw, k.sim, k.bus, logger, paymentOpts...)
	k.catalog = service.NewCatalogService(gw, cache, k.bus, logger)
	k.receipts = service.NewReceiptService(gw, k.payments, k.bus, logger)

	userAgent := opts.userAgent
	if userAgent == nil {
		userAgent = useragent.Printer{W: os.Stdout}
	}
	k.auth = service.NewAuthSessionManager(service.AuthConfig{
		OrganizationID: cfg.Auth.OrganizationID,
		CallbackScheme: cfg.Auth.CallbackScheme,
		PollInterval:   cfg.Auth.PollInterval,
		PollTimeout:    cfg.Auth.PollTimeout,
	}, gw, userAgent, k.bus, logger)
	k.readers = service.NewReaderConnectionManager(k.sim, k.sim, k.bus, logger)

	return k, nil
}

// Close detaches the managers and releases storage connections in reverse
// order of acquisition.
func (k *kiosk) Close() {
	if k.readers != nil {
		k.readers.Close()
	}
	if k.auth != nil {
		k.auth.Close()
	}
	if k.receipts != nil {
		k.receipts.Close()
	}
	if k.catalog != nil {
		k.catalog.Close()
	}
	if k.payments != nil {
		k.payments.Close()
	}
	for i := len(k.closers) - 1; i >= 0; i-- {
		k.closers[i]()
	}
	k.closers = nil
}

func userAgentFor(cfg *config.Config, logger *slog.Logger, out io.Writer) service.UserAgent {
	if cfg.Auth.OpenBrowser {
		return useragent.NewBrowser(logger)
	}
	return useragent.Printer{W: out}
}
