package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/fitroom/fitroom-api/internal/config"
	"github.com/fitroom/fitroom-api/internal/domain/billing"
	"github.com/fitroom/fitroom-api/internal/domain/credit"
	"github.com/fitroom/fitroom-api/internal/domain/generation"
	"github.com/fitroom/fitroom-api/internal/domain/shop"
	"github.com/fitroom/fitroom-api/internal/middleware"
	"github.com/fitroom/fitroom-api/internal/pkg/database"
	"github.com/fitroom/fitroom-api/internal/pkg/imaging"
	"github.com/fitroom/fitroom-api/internal/pkg/inference"
	"github.com/fitroom/fitroom-api/internal/pkg/logger"
	pkgresponse "github.com/fitroom/fitroom-api/internal/pkg/response"
	"github.com/fitroom/fitroom-api/internal/pkg/realtime"
	"github.com/fitroom/fitroom-api/internal/pkg/shopify"
	"github.com/fitroom/fitroom-api/internal/pkg/storage"
	"github.com/fitroom/fitroom-api/internal/pkg/tokencrypt"
	"github.com/fitroom/fitroom-api/internal/stores"
)

const version = "1.0.0"

// apiBodyLimit caps every /api body except try-on uploads.
const apiBodyLimit = 1 << 20

func main() {
	cfg := config.Load()
	setupLogger(cfg)

	log.Info().Str("env", cfg.Env).Str("store", cfg.StoreDriver).Msg("Starting FitRoom API")

	ctx := context.Background()

	set, err := stores.Open(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open stores")
	}
	defer set.Close()

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = database.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			log.Warn().Err(err).Msg("Redis unavailable, using in-process rate limits and events")
			rdb = nil
		} else {
			defer database.CloseRedis(rdb)
		}
	}

	a, err := newApp(cfg, set, rdb)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire application")
	}
	go a.hub.Run()
	defer a.hub.Stop()

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      a.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.InferenceTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
		return
	}

	log.Info().Msg("Server exited properly")
}

func setupLogger(cfg *config.Config) {
	logger.Init(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Env,
	})
}

// app holds the wired handlers served by the router.
type app struct {
	cfg *config.Config

	hub      *realtime.Hub
	verifier *shopify.SessionVerifier
	shops    *shop.Service
	files    *storage.LocalStorage

	oauthHandler      *shop.OAuthHandler
	webhookHandler    *shop.WebhookHandler
	dashboardHandler  *shop.DashboardHandler
	creditHandler     *credit.Handler
	billingHandler    *billing.Handler
	generationHandler *generation.Handler
}

func newApp(cfg *config.Config, set *stores.Set, rdb *redis.Client) (*app, error) {
	hub := realtime.NewHub(rdb)

	// ---------- Credits ----------
	ledger := credit.NewLedger(set.Credits, cfg.WelcomeCredits).
		WithNotifier(balanceNotifier{hub: hub})

	// ---------- Shops ----------
	sealer, err := tokencrypt.NewSealer(cfg.TokenEncKey)
	if err != nil {
		return nil, fmt.Errorf("token sealer: %w", err)
	}
	shopService := shop.NewService(set.Shops, sealer, cfg.RateLimitPerDay)
	stateSigner := shop.NewStateSigner(cfg.ShopifyAPISecret)
	verifier := shopify.NewSessionVerifier(cfg.ShopifyAPIKey, cfg.ShopifyAPISecret)

	// ---------- Billing ----------
	catalog, err := loadCatalog(cfg)
	if err != nil {
		return nil, err
	}
	billingClient := shopify.NewBillingClient(cfg.ShopifyAPIVersion, shopService, 15*time.Second)
	billingService := billing.NewService(set.Charges, billing.NewShopifyGateway(billingClient), ledger, catalog, billing.Config{
		AppURL:   cfg.AppURL,
		TestMode: cfg.BillingTestMode,
	})

	// ---------- Generation ----------
	store, err := storage.New(storage.Config{
		S3Endpoint:   cfg.S3Endpoint,
		S3Region:     cfg.S3Region,
		S3Bucket:     cfg.S3Bucket,
		S3AccessKey:  cfg.S3AccessKey,
		S3SecretKey:  cfg.S3SecretKey,
		S3PublicURL:  cfg.S3PublicURL,
		LocalPath:    cfg.LocalStoragePath,
		LocalBaseURL: cfg.AppURL + "/files",
	})
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	if store == nil {
		log.Warn().Msg("No object storage configured, try-on images are sent inline")
	}
	local, _ := store.(*storage.LocalStorage)

	if !cfg.InferenceConfigured() {
		log.Warn().Msg("INFERENCE_BASE_URL is not set, every generation will fail")
	}
	provider := generation.NewInferenceProvider(
		inference.NewClient(cfg.InferenceBaseURL, cfg.InferenceAPIKey, cfg.InferenceTimeout, "fitroom-api/"+version),
	)

	var limiter generation.Limiter
	if rdb != nil {
		limiter = generation.NewRedisLimiter(rdb, generation.DefaultWindow)
	} else {
		limiter = generation.NewMemoryLimiter(generation.DefaultWindow)
	}

	gate := generation.NewGate(ledger, shopService, limiter, imaging.NewProcessor(imaging.DefaultConfig()), store, provider, generation.Config{
		InferenceTimeout: cfg.InferenceTimeout,
	})

	return &app{
		cfg:      cfg,
		hub:      hub,
		verifier: verifier,
		shops:    shopService,
		files:    local,

		oauthHandler: shop.NewOAuthHandler(shopService, stateSigner, ledger, shop.OAuthConfig{
			APIKey:    cfg.ShopifyAPIKey,
			APISecret: cfg.ShopifyAPISecret,
			Scopes:    cfg.ShopifyScopes,
			AppURL:    cfg.AppURL,
		}),
		webhookHandler:    shop.NewWebhookHandler(shopService, cfg.ShopifyAPISecret, ledger, billingService),
		dashboardHandler:  shop.NewDashboardHandler(shopService, ledger),
		creditHandler:     credit.NewHandler(ledger),
		billingHandler:    billing.NewHandler(billingService, cfg.ShopifyAPIKey),
		generationHandler: generation.NewHandler(gate),
	}, nil
}

func loadCatalog(cfg *config.Config) (*billing.Catalog, error) {
	price, err := decimal.NewFromString(cfg.CustomCreditPrice)
	if err != nil {
		return nil, fmt.Errorf("CUSTOM_CREDIT_PRICE: %w", err)
	}
	catalog := billing.DefaultCatalog(price, cfg.CustomMinCredits, cfg.Currency)
	if cfg.PacksFile == "" {
		return catalog, nil
	}
	catalog, err = billing.LoadCatalog(cfg.PacksFile, catalog)
	if err != nil {
		return nil, fmt.Errorf("load packs: %w", err)
	}
	log.Info().Str("file", cfg.PacksFile).Int("packs", len(catalog.Packs())).Msg("Loaded credit packs")
	return catalog, nil
}

func (a *app) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP(a.cfg.TrustedProxyHops))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(a.cfg.AllowedOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		pkgresponse.OK(w, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	r.Handle("/metrics", promhttp.Handler())

	if a.files != nil {
		r.Handle("/files/*", http.StripPrefix("/files/", http.FileServer(http.Dir(a.files.BasePath()))))
	}

	r.Get("/auth/install", a.oauthHandler.Install)
	r.Get("/auth/callback", a.oauthHandler.Callback)
	r.Get("/billing/callback", a.billingHandler.Callback)
	r.Mount("/webhooks", a.webhookHandler.Routes())

	r.Route("/api", func(r chi.Router) {
		auth := middleware.ShopAuth(a.verifier, a.shops, shop.Resolve)

		// Body caps come before ShopAuth, which may parse a form to find the shop.
		r.Group(func(r chi.Router) {
			r.Use(middleware.BodyLimit(apiBodyLimit))
			r.Use(auth)

			r.Get("/get-credits", a.creditHandler.GetCredits)
			r.Get("/credit-history", a.creditHandler.History)
			r.Get("/stats", a.dashboardHandler.Stats)
			r.Post("/save-settings", a.dashboardHandler.SaveSettings)
			r.Post("/buy-credits", a.billingHandler.BuyCredits)
			r.Get("/ws", a.serveWS)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.BodyLimit(generation.MaxRequestSize))
			r.Use(auth)

			r.Post("/generate", a.generationHandler.Generate)
		})
	})

	return r
}

func (a *app) serveWS(w http.ResponseWriter, r *http.Request) {
	shopKey := middleware.GetShop(r.Context())
	if err := a.hub.ServeWS(w, r, shopKey); err != nil {
		// the upgrader already wrote the error response
		logger.FromContext(r.Context()).Warn().Err(err).Str("shop", shopKey).Msg("Websocket upgrade failed")
	}
}

// balanceNotifier pushes applied ledger mutations to connected admin sessions.
type balanceNotifier struct {
	hub *realtime.Hub
}

func (n balanceNotifier) NotifyBalance(ctx context.Context, ev credit.BalanceEvent) {
	n.hub.Publish(ctx, realtime.Event{
		Type:    realtime.EventBalance,
		Shop:    ev.ShopKey,
		Balance: ev.Balance,
		Delta:   ev.Delta,
		Kind:    string(ev.Kind),
	})
}
