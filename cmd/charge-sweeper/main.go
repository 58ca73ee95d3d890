// Command charge-sweeper reconciles purchases whose Shopify return redirect
// never reached the API, for example because the merchant closed the tab
// after approving the charge.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/fitroom/fitroom-api/internal/config"
	"github.com/fitroom/fitroom-api/internal/domain/billing"
	"github.com/fitroom/fitroom-api/internal/domain/credit"
	"github.com/fitroom/fitroom-api/internal/domain/shop"
	"github.com/fitroom/fitroom-api/internal/pkg/database"
	"github.com/fitroom/fitroom-api/internal/pkg/logger"
	"github.com/fitroom/fitroom-api/internal/pkg/realtime"
	"github.com/fitroom/fitroom-api/internal/pkg/shopify"
	"github.com/fitroom/fitroom-api/internal/pkg/tokencrypt"
	"github.com/fitroom/fitroom-api/internal/stores"
)

const (
	batchSize    = 50
	idleLogEvery = 30 * time.Minute
)

// sweeper is the part of billing.Service the loop drives.
type sweeper interface {
	SweepPending(ctx context.Context, olderThan time.Duration, limit int) (billing.SweepResult, error)
}

func main() {
	cfg := config.Load()
	logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env})

	log.Info().
		Dur("interval", cfg.SweepInterval).
		Dur("min_age", cfg.SweepMinAge).
		Msg("Starting charge-sweeper")

	if cfg.StoreDriver == config.StoreMemory {
		log.Fatal().Msg("charge-sweeper needs a persistent STORE_DRIVER (bolt or postgres)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	set, err := stores.Open(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open stores")
	}
	defer set.Close()

	ledger := credit.NewLedger(set.Credits, cfg.WelcomeCredits)

	// Balance events reach the API instances through Redis.
	if cfg.RedisURL != "" {
		rdb, err := database.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			log.Warn().Err(err).Msg("Redis unavailable, balance events are not published")
		} else {
			defer database.CloseRedis(rdb)
			ledger = ledger.WithNotifier(publisher{hub: realtime.NewHub(rdb)})
		}
	}

	sealer, err := tokencrypt.NewSealer(cfg.TokenEncKey)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create token sealer")
	}
	shopService := shop.NewService(set.Shops, sealer, cfg.RateLimitPerDay)

	price, err := decimal.NewFromString(cfg.CustomCreditPrice)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid CUSTOM_CREDIT_PRICE")
	}
	catalog := billing.DefaultCatalog(price, cfg.CustomMinCredits, cfg.Currency)
	if cfg.PacksFile != "" {
		if catalog, err = billing.LoadCatalog(cfg.PacksFile, catalog); err != nil {
			log.Fatal().Err(err).Msg("Failed to load credit packs")
		}
	}

	gateway := billing.NewShopifyGateway(shopify.NewBillingClient(cfg.ShopifyAPIVersion, shopService, 15*time.Second))
	svc := billing.NewService(set.Charges, gateway, ledger, catalog, billing.Config{
		AppURL:   cfg.AppURL,
		TestMode: cfg.BillingTestMode,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigChan
		log.Info().Msg("Shutdown signal received")
		cancel()
	}()

	loop(ctx, svc, cfg.SweepInterval, cfg.SweepMinAge)
	log.Info().Msg("charge-sweeper stopped")
}

// loop runs one pass immediately and then one per interval until ctx ends.
func loop(ctx context.Context, s sweeper, interval, minAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastIdleLog := time.Time{}

	for {
		start := time.Now()
		res, err := s.SweepPending(ctx, minAge, batchSize)
		switch {
		case err != nil && ctx.Err() == nil:
			log.Error().Err(err).Msg("Sweep failed")
		case res.Checked > 0:
			log.Info().
				Int("checked", res.Checked).
				Int("applied", res.Applied).
				Int("declined", res.Declined).
				Int("pending", res.Pending).
				Int("failed", res.Failed).
				Dur("took", time.Since(start)).
				Msg("Sweep done")
		default:
			if lastIdleLog.IsZero() || time.Since(lastIdleLog) >= idleLogEvery {
				log.Info().Msg("Idle: no pending charges")
				lastIdleLog = time.Now()
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

type publisher struct {
	hub *realtime.Hub
}

func (p publisher) NotifyBalance(ctx context.Context, ev credit.BalanceEvent) {
	p.hub.Publish(ctx, realtime.Event{
		Type:    realtime.EventBalance,
		Shop:    ev.ShopKey,
		Balance: ev.Balance,
		Delta:   ev.Delta,
		Kind:    string(ev.Kind),
	})
}
