package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pitabwire/frame"
	"github.com/pitabwire/frame/cache"
	"github.com/pitabwire/frame/cache/jetstreamkv"
	"github.com/pitabwire/frame/cache/valkey"
	"github.com/pitabwire/frame/config"
	"github.com/pitabwire/frame/data"
	"github.com/pitabwire/frame/datastore"
	"github.com/pitabwire/frame/datastore/pool"
	"github.com/pitabwire/util"

	rtconfig "github.com/eldonrey0531/agrismart-sub001/apps/realtime/config"
	"github.com/eldonrey0531/agrismart-sub001/apps/realtime/service/business"
	"github.com/eldonrey0531/agrismart-sub001/apps/realtime/service/handlers"
	"github.com/eldonrey0531/agrismart-sub001/apps/realtime/service/queues"
	"github.com/eldonrey0531/agrismart-sub001/apps/realtime/service/repository"
	"github.com/eldonrey0531/agrismart-sub001/internal/health"
	"github.com/eldonrey0531/agrismart-sub001/internal/resilience"
)

const (
	gracefulShutdownTimeout = 30 * time.Second
	healthCheckTimeout      = 2 * time.Second
)

func main() {
	ctx := context.Background()

	// Initialize configuration
	cfg, err := config.LoadWithOIDC[rtconfig.RealtimeConfig](ctx)
	if err != nil {
		util.Log(ctx).With("err", err).Error("could not process configs")
		return
	}

	// Validate configuration (fail-fast on invalid config)
	if err = cfg.Validate(); err != nil {
		util.Log(ctx).With("err", err).Error("invalid configuration")
		return
	}

	if cfg.Name() == "" {
		cfg.ServiceName = "service_realtime"
	}

	rawCache, err := setupCache(ctx, cfg)
	if err != nil {
		util.Log(ctx).WithError(err).Fatal("could not setup cache")
	}

	// Create service
	ctx, svc := frame.NewServiceWithContext(ctx, frame.WithConfig(&cfg),
		frame.WithCache(cfg.CacheName, rawCache), frame.WithDatastore())
	defer svc.Stop(ctx)
	log := svc.Log(ctx)

	workMan := svc.WorkManager()
	qManager := svc.QueueManager()

	dbManager := svc.DatastoreManager()
	dbPool := dbManager.GetPool(ctx, datastore.DefaultPoolName)

	// Handle database migration if requested
	if cfg.DoDatabaseMigrate() {
		if err = repository.Migrate(ctx, svc, cfg.GetDatabaseMigrationPath()); err != nil {
			log.WithError(err).Fatal("main -- Could not migrate successfully")
		}
		return
	}

	participantRepo := repository.NewConversationParticipantRepository(ctx, dbPool, workMan)
	notificationRepo := repository.NewNotificationRepository(ctx, dbPool, workMan)

	// Membership lookups sit on the broadcast hot path; a persistence outage
	// must fail broadcasts fast rather than stall every fan-out.
	participantStore := business.NewResilientParticipantStore(
		participantRepo,
		resilience.NewCircuitBreaker(resilience.DefaultSettings("participant-store")),
	)

	registry := business.NewRegistry(int32(cfg.MaxConnections))
	router := business.NewRouter(registry, participantStore)
	presence := business.NewPresencePublisher(router, rawCache)
	bridge := business.NewDeliveryBridge(router, notificationRepo, workMan).
		WithOfflinePushQueue(qManager, cfg.QueueOfflinePushName)

	// No token verifier is configured here: the perimeter proxy authenticates
	// requests before they reach the websocket endpoint.
	gate := business.NewAuthGate(registry, presence, bridge, nil,
		time.Duration(cfg.AuthGraceSec)*time.Second)

	heartbeat := business.NewHeartbeatMonitor(registry,
		time.Duration(cfg.HeartbeatIntervalSec)*time.Second)
	heartbeat.Start(ctx)
	defer heartbeat.Stop()

	// Graceful shutdown: drain connections and stop background tasks.
	// Defers run LIFO: the registry shuts down before svc.Stop.
	defer func() {
		drainCtx, drainCancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer drainCancel()
		registry.DrainConnections(drainCtx)
		if shutdownErr := registry.Shutdown(drainCtx); shutdownErr != nil {
			util.Log(drainCtx).WithError(shutdownErr).Error("registry shutdown error")
		}
	}()

	offlinePushQueuePublisher := frame.WithRegisterPublisher(
		cfg.QueueOfflinePushName,
		cfg.QueueOfflinePushURI,
	)

	eventIngressQueueSubscriber := frame.WithRegisterSubscriber(
		cfg.QueueEventIngressName, cfg.QueueEventIngressURI,
		queues.NewEventIngressQueueHandler(&cfg, bridge),
	)

	httpHandler := setupHTTPHandler(svc, gate, registry, dbPool, cfg.MaxConnections)

	// Initialize the service with all options
	svc.Init(ctx, eventIngressQueueSubscriber, offlinePushQueuePublisher,
		frame.WithHTTPHandler(httpHandler))

	// Start the service
	err = svc.Run(ctx, "")
	if err != nil {
		log.WithError(err).Fatal("could not run Server")
	}
}

func setupCache(_ context.Context, cfg rtconfig.RealtimeConfig) (cache.RawCache, error) {
	cacheDSN := data.DSN(cfg.CacheURI)

	cacheOptions := []cache.Option{
		cache.WithDSN(cacheDSN),
	}

	if cfg.CacheCredentialsFile != "" {
		cacheOptions = append(cacheOptions, cache.WithCredsFile(cfg.CacheCredentialsFile))
	}

	switch {
	case cacheDSN.IsNats():
		// Last-seen presence records live in a jetstream bucket
		return jetstreamkv.New(cacheOptions...)
	case cacheDSN.IsRedis():
		return valkey.New(cacheOptions...)
	default:
		return cache.NewInMemoryCache(), nil
	}
}

// setupHTTPHandler assembles the websocket endpoint and the health probes.
func setupHTTPHandler(
	svc *frame.Service,
	gate *business.AuthGate,
	registry *business.Registry,
	dbPool pool.Pool,
	maxConnections int,
) http.Handler {
	healthHandler := health.NewHandler()
	healthHandler.AddChecker(health.NewDatabaseChecker(dbPool, healthCheckTimeout))
	healthHandler.AddChecker(health.CheckerFunc{
		CheckerName: "connection_capacity",
		Fn: func(_ context.Context) health.CheckResult {
			size := int(registry.Size())
			if size >= maxConnections {
				return health.CheckResult{
					Status: health.StatusDegraded,
					Error:  fmt.Sprintf("at connection ceiling: %d/%d", size, maxConnections),
				}
			}
			return health.CheckResult{Status: health.StatusHealthy}
		},
	})

	realtimeServer := handlers.NewRealtimeServer(svc, gate)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.Handle("/", realtimeServer.Handler())
	return mux
}
