/**
 * @description
 * This is the main entry point for the aggregation-service. It is responsible
 * for initializing all components of the service, including configuration,
 * database connection, the bank gateway client, caches, the message broker,
 * repositories, the core application service, and the HTTP server. It wires
 * everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Cache backing store.
 * - internal/api, internal/app, internal/cache, internal/config,
 *   internal/domain, internal/store: Internal packages for the service.
 * - pkg/bankapi: The bank gateway client.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/bankhub/aggregation-service/internal/api"
	"github.com/bankhub/aggregation-service/internal/app"
	"github.com/bankhub/aggregation-service/internal/cache"
	"github.com/bankhub/aggregation-service/internal/config"
	"github.com/bankhub/aggregation-service/internal/domain"
	"github.com/bankhub/aggregation-service/internal/store"
	"github.com/bankhub/aggregation-service/pkg/bankapi"
	rmrabbit "github.com/bankhub/aggregation-service/pkg/rabbitmq"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.AuthJWTSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"auth jwt secret must be configured\" env=AUTH_JWT_SECRET")
	}

	log.Printf("level=info component=bootstrap msg=\"starting aggregation-service\" port=%s permissive=%t simulate=%t", cfg.ServerPort, cfg.PermissiveMode, cfg.SimulateBanks)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Redis backs the token/consent/data caches and the payment rate limiter.
	// An unreachable Redis degrades to an in-process store rather than
	// blocking boot.
	var redisClient *redis.Client
	var cacheStore cache.Store
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; using in-process cache\" env=REDIS_URL")
		cacheStore = cache.NewMemoryStore()
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; using in-process cache\" err=%v", parseErr)
			cacheStore = cache.NewMemoryStore()
		} else {
			redisClient = redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; using in-process cache\" err=%v", pingErr)
				redisClient.Close()
				redisClient = nil
				cacheStore = cache.NewMemoryStore()
			} else {
				defer redisClient.Close()
				cacheStore = cache.NewRedisStore(redisClient)
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// Initialize the RabbitMQ producer to publish settled-payment events.
	var rabbitProducer rmrabbit.Publisher
	producer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		rabbitProducer = &rmrabbit.EventProducerFallback{}
	} else {
		defer producer.Close()
		rabbitProducer = producer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Select the bank transport strategy. SIMULATE_BANKS runs fully
	// simulated; otherwise the live backend is primary, with a simulated
	// fallback in permissive mode.
	baseURLs := map[domain.Bank]string{}
	for _, bank := range domain.AllBanks() {
		baseURLs[bank] = bank.DefaultBaseURL()
	}
	if cfg.VBankBaseURL != "" {
		baseURLs[domain.BankVBank] = cfg.VBankBaseURL
	}
	if cfg.SBankBaseURL != "" {
		baseURLs[domain.BankSBank] = cfg.SBankBaseURL
	}
	if cfg.ABankBaseURL != "" {
		baseURLs[domain.BankABank] = cfg.ABankBaseURL
	}

	var backend, fallback bankapi.Backend
	if cfg.SimulateBanks {
		backend = bankapi.NewSimulatedBackend()
	} else {
		backend = bankapi.NewLiveBackend(baseURLs, cfg.TeamClientID, cfg.TeamClientSecret)
		if cfg.PermissiveMode {
			fallback = bankapi.NewSimulatedBackend()
		}
	}

	gateway := bankapi.NewClient(bankapi.Config{
		Store:      cacheStore,
		Backend:    backend,
		Fallback:   fallback,
		ClientID:   cfg.TeamClientID,
		TokenTTL:   time.Duration(cfg.TokenTTLSeconds) * time.Second,
		ConsentTTL: time.Duration(cfg.ConsentTTLSeconds) * time.Second,
	})
	dataCache := app.NewAccountDataCache(cacheStore, gateway, time.Duration(cfg.DataTTLSeconds)*time.Second)

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the core application service with its dependencies.
	service := app.NewService(
		repository,
		gateway,
		dataCache,
		rabbitProducer,
		cfg.PermissiveMode,
		decimal.NewFromInt(int64(cfg.PremiumPriceRUB)),
	)

	var limiter *app.RedisPaymentRateLimiter
	if redisClient != nil {
		limiter = app.NewRedisPaymentRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
	}

	// Initialize the API handlers.
	handlers := api.NewHandlers(service, limiter)

	// Set up the HTTP router and define the API routes.
	router := chi.NewRouter()
	router.Mount("/", api.Routes(handlers, cfg.AuthJWTSecret))

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
