package di

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/hanko-field/commerce/internal/platform/config"
	pfirestore "github.com/hanko-field/commerce/internal/platform/firestore"
	"github.com/hanko-field/commerce/internal/platform/idempotency"
	"github.com/hanko-field/commerce/internal/platform/jobs"
	"github.com/hanko-field/commerce/internal/platform/observability"
	"github.com/hanko-field/commerce/internal/repositories"
	firestorerepo "github.com/hanko-field/commerce/internal/repositories/firestore"
	"github.com/hanko-field/commerce/internal/repositories/memory"
	"github.com/hanko-field/commerce/internal/services"
)

// Repositories bundles the storage ports the services are built on.
type Repositories struct {
	Products     repositories.ProductRepository
	Ledger       repositories.StockLedger
	Reservations repositories.ReservationRepository
	Carts        repositories.CartRepository
	Orders       repositories.OrderRepository
	Counters     repositories.CounterRepository
	Idempotency  idempotency.Store

	// Checks are readiness probes for the storage backend.
	Checks []repositories.DependencyCheck

	close func(context.Context) error
}

// FirestoreRepositories builds every repository on a shared Firestore provider.
func FirestoreRepositories(provider *pfirestore.Provider) (Repositories, error) {
	if provider == nil {
		return Repositories{}, errors.New("firestore provider is required")
	}
	inventory, err := firestorerepo.NewInventoryRepository(provider)
	if err != nil {
		return Repositories{}, fmt.Errorf("build inventory repository: %w", err)
	}
	carts, err := firestorerepo.NewCartRepository(provider)
	if err != nil {
		return Repositories{}, fmt.Errorf("build cart repository: %w", err)
	}
	orders, err := firestorerepo.NewOrderRepository(provider)
	if err != nil {
		return Repositories{}, fmt.Errorf("build order repository: %w", err)
	}
	counters, err := firestorerepo.NewCounterRepository(provider)
	if err != nil {
		return Repositories{}, fmt.Errorf("build counter repository: %w", err)
	}
	return Repositories{
		Products:     inventory,
		Ledger:       inventory,
		Reservations: inventory,
		Carts:        carts,
		Orders:       orders,
		Counters:     counters,
		Idempotency:  idempotency.NewFirestoreStore(provider),
		Checks: []repositories.DependencyCheck{{
			Name:     "firestore",
			Critical: true,
			Check:    provider.Ping,
		}},
		close: provider.Close,
	}, nil
}

// MemoryRepositories builds process-local repositories. Inventory returns the store so callers
// can seed products.
func MemoryRepositories() (Repositories, *memory.Inventory) {
	inventory := memory.NewInventory()
	return Repositories{
		Products:     inventory,
		Ledger:       inventory,
		Reservations: inventory,
		Carts:        memory.NewCartStore(),
		Orders:       memory.NewOrderStore(),
		Counters:     memory.NewCounter(),
		Idempotency:  idempotency.NewMemoryStore(),
	}, inventory
}

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Inventory  services.InventoryService
	Catalog    services.CatalogService
	Promotions services.PromotionService
	Pricing    services.PricingEngine
	Counters   services.CounterService
	Cart       services.CartService
	Placement  services.PlacementService
	Orders     services.OrderService
	System     services.SystemService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Logger       *zap.Logger
	Repositories Repositories
	Notifier     services.NotificationSink
	Services     Services

	draining atomic.Bool
	closers  []func(context.Context) error
}

// ContainerOption customises NewContainer.
type ContainerOption func(*containerOptions)

type containerOptions struct {
	notifier services.NotificationSink
	checks   []repositories.DependencyCheck
	build    services.BuildInfo
	clock    func() time.Time
}

// WithNotifier overrides the notification sink selected from configuration.
func WithNotifier(n services.NotificationSink) ContainerOption {
	return func(o *containerOptions) {
		o.notifier = n
	}
}

// WithHealthChecks adds readiness probes.
func WithHealthChecks(checks ...repositories.DependencyCheck) ContainerOption {
	return func(o *containerOptions) {
		o.checks = append(o.checks, checks...)
	}
}

// WithBuildInfo sets the build metadata reported by health endpoints.
func WithBuildInfo(info services.BuildInfo) ContainerOption {
	return func(o *containerOptions) {
		o.build = info
	}
}

// WithClock overrides the clock handed to every service.
func WithClock(clock func() time.Time) ContainerOption {
	return func(o *containerOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// NewContainer constructs the runtime dependencies on top of the supplied repositories.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger, repos Repositories, opts ...ContainerOption) (*Container, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	options := containerOptions{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	c := &Container{
		Config:       cfg,
		Logger:       logger,
		Repositories: repos,
	}
	if repos.close != nil {
		c.closers = append(c.closers, repos.close)
	}

	notifier, checks, err := c.buildNotifier(ctx, options.notifier)
	if err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	c.Notifier = notifier

	healthChecks := append(append(append([]repositories.DependencyCheck(nil), repos.Checks...), checks...), options.checks...)
	if options.build.Environment == "" {
		options.build.Environment = cfg.Environment
	}
	svc, err := c.buildServices(healthChecks, options.build, options.clock)
	if err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	c.Services = svc
	return c, nil
}

// StartDraining makes readiness report error so traffic moves away before shutdown.
func (c *Container) StartDraining() {
	c.draining.Store(true)
}

// Close flushes the notifier and releases storage clients. Closers run in reverse order.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func (c *Container) buildNotifier(ctx context.Context, override services.NotificationSink) (services.NotificationSink, []repositories.DependencyCheck, error) {
	if override != nil {
		return override, nil, nil
	}
	cfg := c.Config.Notify
	switch cfg.Driver {
	case config.NotifyDriverPubSub:
		client, err := pubsub.NewClient(ctx, c.Config.Firestore.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("build pubsub client: %w", err)
		}
		c.closers = append(c.closers, func(context.Context) error { return client.Close() })
		notifier, err := jobs.NewPubSubNotifier(client.Topic(cfg.PubSubTopic))
		if err != nil {
			return nil, nil, fmt.Errorf("build pubsub notifier: %w", err)
		}
		c.closers = append(c.closers, func(context.Context) error { return notifier.Close() })
		return notifier, []repositories.DependencyCheck{{Name: "notifications", Check: notifier.Ping}}, nil
	case config.NotifyDriverKafka:
		notifier, err := jobs.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, nil, fmt.Errorf("build kafka notifier: %w", err)
		}
		c.closers = append(c.closers, func(context.Context) error { return notifier.Close() })
		return notifier, []repositories.DependencyCheck{{Name: "notifications", Check: notifier.Ping}}, nil
	default:
		return jobs.NewLogNotifier(c.Logger), nil, nil
	}
}

func (c *Container) buildServices(checks []repositories.DependencyCheck, build services.BuildInfo, clock func() time.Time) (Services, error) {
	var svc Services
	cfg := c.Config
	repos := c.Repositories
	logEvent := observability.EventLogger(c.Logger)

	inventorySvc, err := services.NewInventoryService(services.InventoryServiceDeps{
		Ledger:            repos.Ledger,
		Reservations:      repos.Reservations,
		ReservationTTL:    cfg.Inventory.ReservationTTL,
		Clock:             clock,
		Logger:            logEvent,
		LowStockThreshold: cfg.Inventory.LowStockWarnFrom,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build inventory service: %w", err)
	}
	svc.Inventory = inventorySvc

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Products: repos.Products,
		Clock:    clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalogSvc

	promotionSvc, err := services.NewPromotionService(services.PromotionServiceDeps{Codes: cfg.Promotions.Codes})
	if err != nil {
		return Services{}, fmt.Errorf("build promotion service: %w", err)
	}
	svc.Promotions = promotionSvc

	pricing, err := services.NewCartPricingEngine(services.CartPricingEngineDeps{
		Currency:              cfg.Pricing.Currency,
		TaxRate:               &cfg.Pricing.TaxRate,
		FreeShippingThreshold: &cfg.Pricing.FreeShippingThreshold,
		FlatShippingFee:       &cfg.Pricing.FlatShippingFee,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build pricing engine: %w", err)
	}
	svc.Pricing = pricing

	counterSvc, err := services.NewCounterService(services.CounterServiceDeps{
		Repository: repos.Counters,
		Clock:      clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build counter service: %w", err)
	}
	svc.Counters = counterSvc

	cache := memory.NewCartCache(cfg.Cart.CacheTTL, cfg.Cart.CacheCapacity, memory.WithCartCacheClock(clock))
	store, err := services.NewTieredCartStore(repos.Carts, cache, logEvent)
	if err != nil {
		return Services{}, fmt.Errorf("build cart store: %w", err)
	}
	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Store:         store,
		Catalog:       catalogSvc,
		Promotions:    promotionSvc,
		Pricer:        pricing,
		Notifications: c.Notifier,
		Clock:         clock,
		Logger:        logEvent,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}
	svc.Cart = cartSvc

	stockChangedRetries := cfg.Placement.StockChangedRetries
	placementSvc, err := services.NewPlacementService(services.PlacementServiceDeps{
		Inventory:           inventorySvc,
		Orders:              repos.Orders,
		Counter:             counterSvc,
		Pricer:              pricing,
		Carts:               cartSvc,
		Idempotency:         repos.Idempotency,
		Notifications:       c.Notifier,
		Timeout:             cfg.Placement.Timeout,
		ReservationTTL:      cfg.Inventory.ReservationTTL,
		IdempotencyTTL:      cfg.Idempotency.TTL,
		RetryAttempts:       cfg.Placement.RetryAttempts,
		RetryInitial:        cfg.Placement.RetryInitial,
		RetryMax:            cfg.Placement.RetryMax,
		StockChangedRetries: &stockChangedRetries,
		Clock:               clock,
		Logger:              logEvent,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build placement service: %w", err)
	}
	svc.Placement = placementSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:        repos.Orders,
		Inventory:     inventorySvc,
		Notifications: c.Notifier,
		Clock:         clock,
		Logger:        logEvent,
		RetryAttempts: cfg.Placement.RetryAttempts,
		RetryInitial:  cfg.Placement.RetryInitial,
		RetryMax:      cfg.Placement.RetryMax,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	if len(checks) > 0 {
		healthRepo, err := repositories.NewDependencyHealthRepository(checks, repositories.WithDependencyClock(clock))
		if err != nil {
			return Services{}, fmt.Errorf("build health repository: %w", err)
		}
		if build.StartedAt.IsZero() {
			build.StartedAt = clock().UTC()
		}
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            clock,
			Build:            build,
			Draining:         c.draining.Load,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
