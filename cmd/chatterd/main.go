// Package main is the chatterd entry point.
//
// Usage:
//
//	chatterd          run migrations, then serve
//	chatterd migrate  run migrations and exit
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/pressly/goose/v3"
	"github.com/redis/go-redis/v9"

	"github.com/johndosdos/chatterd/internal/auth"
	"github.com/johndosdos/chatterd/internal/broker"
	"github.com/johndosdos/chatterd/internal/broker/worker"
	"github.com/johndosdos/chatterd/internal/config"
	"github.com/johndosdos/chatterd/internal/coordinator"
	"github.com/johndosdos/chatterd/internal/gateway"
	"github.com/johndosdos/chatterd/internal/handler"
	"github.com/johndosdos/chatterd/internal/presence"
	"github.com/johndosdos/chatterd/internal/push"
	"github.com/johndosdos/chatterd/internal/queue"
	ratelimiter "github.com/johndosdos/chatterd/internal/rate_limiter"
	"github.com/johndosdos/chatterd/internal/status"
	ws "github.com/johndosdos/chatterd/internal/websocket"
	"github.com/johndosdos/chatterd/sql/schema"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.SetOutput(os.Stdout)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	log.Println("Starting application...")
	ctx, cancel := context.WithCancel(context.Background())

	// Init DB
	log.Println("Initializing Database connection...")
	dbPool, err := pgxpool.New(ctx, cfg.DBURL)
	if err != nil {
		log.Fatalf("could not connect to the postgresql database: %v", err)
	}

	if err := migrate(dbPool); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		dbPool.Close()
		log.Println("Migrations applied")
		return
	}

	health := map[string]handler.Pinger{"postgres": dbPool}

	// hub.Run is our central hub that is always listening for client related events.
	hub := ws.NewHub(logger.With("component", "hub"))
	go hub.Run(ctx)

	gw := gateway.Fanout{hub}

	// Init NATS
	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		log.Println("Initializing NATS connection...")
		natsConn, err = connectNATS(cfg)
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}

		js, err := jetstream.New(natsConn)
		if err != nil {
			log.Fatalf("failed to create jetstream instance: %v", err)
		}

		stream, err := broker.EnsureStream(ctx, js)
		if err != nil {
			log.Fatalf("failed to create/update stream: %v", err)
		}

		node := cfg.NodeID
		if node == "" {
			node = uuid.NewString()
		}
		gw = append(gw, broker.NewPublisher(js, node))

		relay := worker.Relay(hub, logger.With("component", "relay"))
		if err := broker.Subscribe(ctx, stream, node, relay, logger.With("component", "broker")); err != nil {
			log.Fatalf("failed to subscribe to stream: %v", err)
		}

		health["nats"] = pingFunc(natsConn.FlushWithContext)
	}

	// Init Redis
	var lastSeen presence.LastSeenStore
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		log.Println("Initializing Redis connection...")
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("invalid REDIS_URL: %v", err)
		}
		rdb = redis.NewClient(opts)
		lastSeen = presence.NewRedisLastSeen(rdb, "", 0)
		health["redis"] = pingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}

	// Init RabbitMQ
	var notifier *push.RabbitNotifier
	var pushSink queue.PushNotifier
	if cfg.RabbitMQURL != "" {
		log.Println("Initializing RabbitMQ connection...")
		notifier, err = push.DialRabbit(cfg.RabbitMQURL, cfg.PushQueue, logger.With("component", "push"))
		if err != nil {
			log.Fatalf("failed to connect to rabbitmq: %v", err)
		}
		pushSink = notifier
	}

	coord := coordinator.New(coordinator.Deps{
		Gateway:     gw,
		QueueStore:  queue.NewPostgresStore(dbPool),
		StatusStore: status.NewPostgresStore(dbPool),
		LastSeen:    lastSeen,
		Push:        pushSink,
		Typing:      cfg.Typing,
		QueuePolicy: cfg.Queue,
		Logger:      logger,
	})
	coord.StartSweeper(cfg.QueueSweepInterval)

	limiter := ratelimiter.NewIPRateLimiter(20, time.Minute, ratelimiter.CleanupOpts{
		TTL:      10 * time.Minute,
		Interval: time.Minute,
	})

	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       30 * time.Second,
		Handler: handler.NewRouter(handler.RouterConfig{
			Hub:            hub,
			Service:        coord,
			Verifier:       auth.Verifier{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer},
			Limiter:        limiter,
			Limits:         handler.SessionLimits{Messages: 30, Typing: 20, Window: 10 * time.Second},
			OriginPatterns: cfg.AllowedOrigins,
			Health:         health,
		}),
	}

	go func() {
		log.Printf("Server starting at 0.0.0.0:%s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"chatterd": func(ctx context.Context) error {
				log.Printf("Shutdown signal received; shutting down...")

				// Stop accepting sessions before tearing down what they use.
				var errs []error
				if err := server.Shutdown(ctx); err != nil {
					errs = append(errs, fmt.Errorf("server shutdown: %w", err))
				}
				coord.Close()
				limiter.Cancel()
				cancel()

				if natsConn != nil {
					if err := natsConn.Drain(); err != nil {
						errs = append(errs, fmt.Errorf("couldn't drain NATS conn: %w", err))
					}
				}
				if notifier != nil {
					if err := notifier.Close(); err != nil {
						errs = append(errs, fmt.Errorf("rabbitmq close: %w", err))
					}
				}
				if rdb != nil {
					if err := rdb.Close(); err != nil {
						errs = append(errs, fmt.Errorf("redis close: %w", err))
					}
				}
				dbPool.Close()

				return errors.Join(errs...)
			},
		},
	)

	exitCode := <-wait
	log.Printf("Server stopped with code %d", exitCode)
	os.Exit(exitCode)
}

func connectNATS(cfg config.Config) (*nats.Conn, error) {
	var opts []nats.Option

	if cfg.NATSCred != "" {
		opts = append(opts, nats.UserCredentials(cfg.NATSCred))
	} else if cfg.NATSUser != "" && cfg.NATSPassword != "" {
		opts = append(opts, nats.UserInfo(cfg.NATSUser, cfg.NATSPassword))
	}

	opts = append(opts, nats.Timeout(5*time.Second))

	return nats.Connect(cfg.NATSURL, opts...)
}

func migrate(pool *pgxpool.Pool) error {
	goose.SetBaseFS(schema.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	return goose.Up(db, ".")
}
