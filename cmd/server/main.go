package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/bivex/purchasekit/internal/domain/service"
	"github.com/bivex/purchasekit/internal/infrastructure/bridge"
	"github.com/bivex/purchasekit/internal/infrastructure/config"
	"github.com/bivex/purchasekit/internal/infrastructure/external/appstore"
	"github.com/bivex/purchasekit/internal/infrastructure/external/iap"
	"github.com/bivex/purchasekit/internal/infrastructure/external/playstore"
	"github.com/bivex/purchasekit/internal/infrastructure/logging"
	app_handler "github.com/bivex/purchasekit/internal/interfaces/http/handlers"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logging.Init(&cfg.Sentry); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logging.Sync()

	logging.Logger.Info("Starting purchasekit server",
		zap.Int("port", cfg.Server.Port),
		zap.String("platform", cfg.Platform),
		zap.String("environment", cfg.Sentry.Environment),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The bridge session is the single process-wide channel to the host
	// application's native SDKs.
	session := bridge.NewSession(logging.Logger)

	adapter, verifier, err := buildProvider(ctx, cfg, session)
	if err != nil {
		logging.Logger.Fatal("Failed to build provider", zap.Error(err))
	}

	engine := service.NewReconciler(adapter, verifier, logging.Logger)
	go engine.Run(ctx)

	storefront := service.NewStorefront(engine)

	storefrontHandler := app_handler.NewStorefrontHandler(storefront)
	bridgeHandler := app_handler.NewBridgeHandler(
		session,
		cfg.Bridge.AllowedOrigins,
		func() { engine.StartupReconcile(ctx) },
		logging.Logger,
	)

	if cfg.Sentry.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(
		gin.Recovery(),
		logging.RequestMiddleware(logging.Logger),
	)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":          "ok",
			"bridge_attached": session.Attached(),
		})
	})

	// Host application's native bridge (no auth, loopback only)
	router.GET("/bridge", bridgeHandler.Attach)

	v1 := router.Group("/v1")
	{
		v1.GET("/products", storefrontHandler.GetProducts)
		v1.POST("/purchases", storefrontHandler.PurchaseProduct)
		v1.POST("/purchases/restore", storefrontHandler.RestorePurchases)
		v1.GET("/subscriptions/:productId", storefrontHandler.GetSubscriptionStatus)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logging.Logger.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Logger.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logging.Logger.Info("Server exited")
}

// buildProvider wires the configured platform's adapter and, when credentials
// are present, its receipt verifier. Without credentials the verifier is nil
// and subscription expiry stays unknown rather than being made up.
func buildProvider(ctx context.Context, cfg *config.Config, session *bridge.Session) (service.ProviderAdapter, service.ReceiptVerifier, error) {
	switch cfg.Platform {
	case config.PlatformAppStore:
		queue := bridge.NewPaymentQueue(session, logging.Logger)
		adapter := appstore.NewAdapter(queue, logging.Logger)

		var verifier service.ReceiptVerifier
		if cfg.IAP.AppleSharedSecret != "" {
			verifier = iap.NewAppleVerifier(cfg.IAP.AppleSharedSecret)
		} else {
			logging.Logger.Warn("no Apple shared secret configured, expiry derivation disabled")
		}
		return adapter, verifier, nil

	case config.PlatformPlayStore:
		client := bridge.NewBillingClient(session, logging.Logger)
		adapter := playstore.NewAdapter(client, cfg.IAP.GooglePackageName, logging.Logger)

		var verifier service.ReceiptVerifier
		if cfg.IAP.GoogleKeyJSON != "" {
			v, err := iap.NewGoogleVerifier(ctx, cfg.IAP.GoogleKeyJSON)
			if err != nil {
				return nil, nil, err
			}
			verifier = v
		} else {
			logging.Logger.Warn("no Google service account configured, expiry derivation disabled")
		}
		return adapter, verifier, nil
	}
	return nil, nil, fmt.Errorf("unsupported platform %q", cfg.Platform)
}
