// Package config reads process settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/johndosdos/chatterd/internal/queue"
	"github.com/johndosdos/chatterd/internal/typing"
)

type Config struct {
	Port string

	DBURL string

	NATSURL      string
	NATSCred     string
	NATSUser     string
	NATSPassword string
	NodeID       string

	RedisURL string

	RabbitMQURL string
	PushQueue   string

	JWTSecret string
	JWTIssuer string

	AllowedOrigins []string

	Typing             typing.Config
	Queue              queue.Policy
	QueueSweepInterval time.Duration
	ShutdownTimeout    time.Duration
}

// Load reads .env when present, then the environment. Backends whose URL is
// empty are disabled.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("failed to load .env file: %+v", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv.
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := Config{
		Port:         or(getenv("PORT"), "8080"),
		DBURL:        getenv("DB_URL"),
		NATSURL:      getenv("NATS_URL"),
		NATSCred:     getenv("NATS_CRED"),
		NATSUser:     getenv("NATS_USER"),
		NATSPassword: getenv("NATS_PASSWORD"),
		NodeID:       getenv("NODE_ID"),
		RedisURL:     getenv("REDIS_URL"),
		RabbitMQURL:  getenv("RABBITMQ_URL"),
		PushQueue:    or(getenv("PUSH_QUEUE"), "chat_push"),
		JWTSecret:    getenv("JWT_SECRET"),
		JWTIssuer:    getenv("JWT_ISS"),
	}

	if origins := getenv("ALLOWED_ORIGINS"); origins != "" {
		for o := range strings.SplitSeq(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}

	var errs []error
	dur := func(key string, def time.Duration) time.Duration {
		v := getenv(key)
		if v == "" {
			return def
		}
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q", key, v))
			return def
		}
		return d
	}

	cfg.Typing = typing.Config{
		Timeout:  dur("TYPING_TIMEOUT", typing.DefaultTimeout),
		Throttle: dur("TYPING_THROTTLE", typing.DefaultThrottle),
	}
	cfg.Queue = queue.Policy{
		Expiry:        dur("QUEUE_EXPIRY", queue.DefaultExpiry),
		PreviewMaxLen: queue.DefaultPreviewMaxLen,
	}
	cfg.QueueSweepInterval = dur("QUEUE_SWEEP_INTERVAL", 5*time.Minute)
	cfg.ShutdownTimeout = dur("SHUTDOWN_TIMEOUT", 10*time.Second)

	if v := getenv("PREVIEW_MAX_LEN"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			errs = append(errs, fmt.Errorf("PREVIEW_MAX_LEN: invalid length %q", v))
		} else {
			cfg.Queue.PreviewMaxLen = n
		}
	}

	if cfg.DBURL == "" {
		errs = append(errs, errors.New("DB_URL environment variable is not set"))
	}
	if cfg.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET environment variable is not set"))
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, fmt.Errorf("internal/config: %w", err)
	}
	return cfg, nil
}

func or(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
