package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-redis/redis/v8"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/frahmantamala/shop-orders/internal"
	"github.com/frahmantamala/shop-orders/internal/auth"
	authpostgres "github.com/frahmantamala/shop-orders/internal/auth/postgres"
	"github.com/frahmantamala/shop-orders/internal/core/events"
	"github.com/frahmantamala/shop-orders/internal/notification"
	"github.com/frahmantamala/shop-orders/internal/order"
	orderpostgres "github.com/frahmantamala/shop-orders/internal/order/postgres"
	"github.com/frahmantamala/shop-orders/internal/payment"
	paymentpostgres "github.com/frahmantamala/shop-orders/internal/payment/postgres"
	paymentredis "github.com/frahmantamala/shop-orders/internal/payment/redis"
	"github.com/frahmantamala/shop-orders/internal/paymentgateway"
	"github.com/frahmantamala/shop-orders/internal/profile"
	profilepostgres "github.com/frahmantamala/shop-orders/internal/profile/postgres"
	"github.com/frahmantamala/shop-orders/internal/shipping"
	shippingpostgres "github.com/frahmantamala/shop-orders/internal/shipping/postgres"
	"github.com/frahmantamala/shop-orders/internal/transport"
	"github.com/frahmantamala/shop-orders/internal/transport/middleware"
	"github.com/frahmantamala/shop-orders/internal/transport/rest"
	"github.com/frahmantamala/shop-orders/internal/transport/swagger"
	"github.com/frahmantamala/shop-orders/internal/user"
	userpostgres "github.com/frahmantamala/shop-orders/internal/user/postgres"
	"github.com/frahmantamala/shop-orders/pkg/logger"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle API requests`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

// Dependencies is the wired application shared by the server and the operator commands.
type Dependencies struct {
	Config *internal.Config
	DB     *sqlx.DB
	Gorm   *gorm.DB
	Logger *slog.Logger

	EventBus        *events.EventBus
	Ledger          *paymentpostgres.PaymentRepository
	PaymentService  *payment.Service
	OrderService    *order.Service
	ShippingService *shipping.Service
	AuthService     *auth.Service
	UserService     *user.Service

	healthChecks []rest.HealthCheck
	closers      []func() error
}

func (d *Dependencies) Close() {
	// subscribers may still be writing to kafka
	d.EventBus.Close()
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			d.Logger.Error("failed to close dependency", "error", err)
		}
	}
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	router := chi.NewRouter()
	rest.RegisterAllRoutes(router, deps.DB.DB, buildHandlers(deps), deps.Logger)

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	deps.Logger.Info("Starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: deps.Config.Server.ReadHeaderTimeout,
		ReadTimeout:       deps.Config.Server.ReadTimeout,
		WriteTimeout:      deps.Config.Server.WriteTimeout,
		IdleTimeout:       deps.Config.Server.IdleTimeout,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		deps.Logger.Info("Received signal, shutting down...", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			deps.Logger.Error("Server shutdown error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			deps.Logger.Error("Server failed to start", "error", err)
			deps.Close()
			os.Exit(1)
		}
	}

	deps.Close()
	deps.Logger.Info("Server stopped")
}

func buildHandlers(deps *Dependencies) rest.Handlers {
	cfg := deps.Config
	return rest.Handlers{
		Auth:           auth.NewHandler(deps.AuthService),
		RBAC:           auth.NewRBACAuthorization(auth.NewPermissionChecker(), deps.Logger),
		User:           user.NewHandler(deps.UserService),
		Payment:        payment.NewHandler(deps.PaymentService),
		Webhook:        payment.NewWebhookHandler(transport.NewBaseHandler(deps.Logger), deps.PaymentService, cfg.Security.WebhookSecret, deps.Logger),
		Shipping:       shipping.NewHandler(deps.ShippingService),
		EnsureLimiter:  middleware.NewRateLimiter(cfg.RateLimit.EnsureRPS, cfg.RateLimit.EnsureBurst, deps.Logger),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		HealthChecks:   deps.healthChecks,
		APISpec:        loadAPISpec(deps.Logger),
	}
}

// loadAPISpec returns nil when the document is missing or invalid; the API runs without docs then.
func loadAPISpec(lg *slog.Logger) *swagger.Spec {
	spec, err := swagger.LoadSpec(context.Background(), swagger.DefaultSpecPath)
	if err != nil {
		lg.Warn("openapi document unavailable, swagger ui disabled", "error", err)
		return nil
	}
	lg.Info("openapi document loaded", "title", spec.Title(), "version", spec.Version(), "paths", len(spec.Paths()))
	return spec
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	lg := logger.LoggerWrapper()

	db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	gdb, err := initGorm(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize gorm: %w", err)
	}

	deps := &Dependencies{
		Config:   config,
		DB:       db,
		Gorm:     gdb,
		Logger:   lg,
		EventBus: events.NewEventBus(lg),
		closers:  []func() error{db.Close},
	}

	registry, err := buildRegistry(config.Payment, lg)
	if err != nil {
		deps.Close()
		return nil, err
	}

	deps.OrderService = order.NewService(orderpostgres.NewOrderRepository(gdb), lg)

	profiles := profile.NewService(profilepostgres.NewRepository(db), lg)
	deps.ShippingService = shipping.NewService(
		orderpostgres.NewOrderRepository(gdb),
		shippingpostgres.NewDraftRepository(gdb),
		shipping.NewRecipientResolver(profiles, lg),
		config.Shipping,
		lg,
	)
	shipping.NewEventHandler(deps.ShippingService, lg).RegisterEventHandlers(deps.EventBus)

	if config.Notification.Enabled {
		writer := notification.NewKafkaWriter(config.Notification)
		dispatcher := notification.NewKafkaDispatcher(writer, lg)
		dispatcher.RegisterEventHandlers(deps.EventBus)
		deps.closers = append(deps.closers, dispatcher.Close)
		deps.healthChecks = append(deps.healthChecks, rest.HealthCheck{
			Name:  "kafka",
			Probe: notification.BrokerProbe(config.Notification.Brokers),
		})
		lg.Info("order notifications enabled", "topic", config.Notification.Topic, "brokers", config.Notification.Brokers)
	}

	deps.Ledger = paymentpostgres.NewPaymentRepository(gdb)
	deps.PaymentService = payment.NewService(
		deps.Ledger,
		registry,
		deps.OrderService,
		notification.NewBusNotifier(deps.EventBus, lg),
		initStatusCache(config.Redis, deps, lg),
		config.Reconciliation,
		lg,
	)

	authRepo := authpostgres.NewRepository(gdb)
	tokenGen := auth.NewJWTTokenGenerator(
		config.Security.AccessTokenSecret,
		config.Security.RefreshTokenSecret,
		config.Security.AccessTokenDuration,
		config.Security.RefreshTokenDuration,
	)
	deps.AuthService = auth.NewService(authRepo, tokenGen, config.Security.BCryptCost, lg)
	deps.UserService = user.NewService(userpostgres.NewUserRepository(gdb), config.Security.BCryptCost, lg)

	return deps, nil
}

func buildRegistry(cfg internal.PaymentConfig, lg *slog.Logger) (*payment.Registry, error) {
	var processors []payment.Processor
	if cfg.PayPal.Enabled {
		processors = append(processors, paymentgateway.NewPayPalClient(cfg.PayPal, cfg.ProcessorTimeout, lg))
	}
	if cfg.Stripe.Enabled {
		sc, err := paymentgateway.NewStripeClient(cfg.Stripe, nil, lg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize stripe: %w", err)
		}
		processors = append(processors, sc)
	}
	if len(processors) == 0 {
		return nil, errors.New("no payment provider enabled")
	}

	registry := payment.NewRegistry(cfg.DefaultProvider, processors...)
	if _, err := registry.Get(""); err != nil {
		return nil, fmt.Errorf("default provider %q is not enabled", cfg.DefaultProvider)
	}
	lg.Info("payment providers ready", "providers", registry.Providers(), "default", registry.Default())
	return registry, nil
}

// initStatusCache uses Redis when configured and reachable, the process memory otherwise.
func initStatusCache(cfg internal.RedisConfig, deps *Dependencies, lg *slog.Logger) payment.StatusCache {
	if !cfg.Enabled {
		return payment.NewMemoryStatusCache()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		lg.Warn("redis unreachable, using in-memory ensure cache", "addr", cfg.Addr, "error", err)
		_ = client.Close()
		return payment.NewMemoryStatusCache()
	}

	deps.closers = append(deps.closers, client.Close)
	deps.healthChecks = append(deps.healthChecks, rest.HealthCheck{
		Name:  "redis",
		Probe: func(ctx context.Context) error { return client.Ping(ctx).Err() },
	})
	return paymentredis.NewStatusCache(client)
}

// initDB initializes the database connection
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}

// initGorm shares the sqlx pool with gorm so both see the same connections.
func initGorm(db *sqlx.DB) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{Conn: db.DB}), &gorm.Config{
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
}
