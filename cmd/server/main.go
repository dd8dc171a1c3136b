package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/zns-dispatch/internal/api"
	"github.com/ignite/zns-dispatch/internal/config"
	"github.com/ignite/zns-dispatch/internal/dispatch"
	"github.com/ignite/zns-dispatch/internal/metrics"
	"github.com/ignite/zns-dispatch/internal/pkg/distlock"
	"github.com/ignite/zns-dispatch/internal/pkg/logger"
	"github.com/ignite/zns-dispatch/internal/recipients"
	"github.com/ignite/zns-dispatch/internal/runstore"
	"github.com/ignite/zns-dispatch/internal/service/sending"
	"github.com/ignite/zns-dispatch/internal/storage"
	"github.com/ignite/zns-dispatch/internal/zns"
)

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%s is already in use: %v\n"+
			"  Hint: Run 'lsof -i %s' to find the blocking process", addr, err, addr)
	}
	ln.Close()
	return nil
}

func main() {
	log.Println("ZNS dispatch server (cmd/server)")

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		log.Printf("[config] %s not found, using defaults and env", configPath)
		configPath = ""
	}

	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	logger.SetRedactPII(!cfg.Log.DisableRedaction)

	addr := cfg.Server.Addr()
	if err := checkPortAvailable(addr); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}

	// Redis holds run records, per-OA locks and the rotated refresh token.
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		log.Fatalf("Invalid REDIS_URL: %v", err)
	}
	redisClient := redis.NewClient(opts)
	defer redisClient.Close()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	pingCancel()
	log.Printf("Connected to Redis at %s", opts.Addr)

	tokenStore := zns.NewRedisTokenStore(redisClient, cfg.Redis.KeyPrefix, cfg.ZNS.AppID)
	tokens, err := zns.NewTokenSource(cfg.ZNS, tokenStore)
	if err != nil {
		log.Fatalf("ZNS credentials: %v", err)
	}
	client := zns.NewClient(cfg.ZNS, tokens)
	if cfg.ZNS.Development {
		log.Println("ZNS development mode: messages only reach OA admins")
	}

	m := metrics.New()
	queue, err := dispatch.New(cfg.Dispatch,
		dispatch.WithClassifier(zns.NewClassifier(cfg.ZNS.RateLimitCodes, cfg.ZNS.TransientCodes)),
		dispatch.WithObserver(m),
	)
	if err != nil {
		log.Fatalf("Failed to create dispatch queue: %v", err)
	}

	store := runstore.New(redisClient, cfg.Redis.KeyPrefix, cfg.Redis.RunTTL())
	lockTTL := cfg.Redis.LockTTL()
	locks := sending.LockFactoryFunc(func(key string) distlock.DistLock {
		return distlock.NewRedisLock(redisClient, key, lockTTL)
	})

	opener := &recipients.Opener{AllowLocal: cfg.Recipients.AllowLocalSources}
	var s3Client *s3.Client
	if cfg.S3.Region != "" {
		s3Client, err = recipients.NewS3Client(context.Background(), cfg.S3)
		if err != nil {
			log.Printf("WARNING: S3 disabled: %v", err)
			s3Client = nil
		} else {
			opener.S3 = s3Client
			log.Printf("S3 recipient sources enabled (region %s)", cfg.S3.Region)
		}
	}

	var objects storage.ObjectStore
	if s3Client != nil {
		objects = s3Client
	}
	archive, err := storage.New(cfg.Archive, objects)
	if err != nil {
		log.Fatalf("Failed to configure run archive: %v", err)
	}
	if archive != nil {
		log.Printf("Run archive enabled (%s)", cfg.Archive.Type)
	}

	dispatcher := sending.NewDispatcher(queue, client.SendFunc(), store, locks, lockTTL,
		sending.WithRunObserver(m),
		sending.WithArchiver(archive),
	)

	server := api.NewServer(cfg.Server, api.Deps{
		Runs:       dispatcher,
		Store:      store,
		Opener:     opener,
		Recipients: cfg.Recipients,
		OAID:       cfg.ZNS.OAID,
		Metrics:    m,
		Redis:      redisClient,
	})

	// Setup graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Starting server on %s", addr)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	log.Printf("Dispatch limits: %.1f req/s, batch %d, concurrency %d, max attempts %d",
		cfg.Dispatch.RequestsPerSecond, cfg.Dispatch.BatchSize,
		cfg.Dispatch.ConcurrentRequests, cfg.Dispatch.MaxRetries)

	<-done
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	// active runs resolve their unsent jobs as cancelled before exit
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		log.Printf("Dispatcher shutdown error: %v", err)
	}

	log.Println("Server stopped")
}
