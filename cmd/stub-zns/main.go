package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"
)

func envInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return def
}

func main() {
	log.Println("WARNING: This is a STUB ZNS provider for local load tests ONLY.")
	log.Println("Point ZNS_BASE_URL and zns.oauth_url at it; nothing is delivered.")

	opts := stubOptions{
		RequestsPerSecond: envFloat("STUB_RPS", 10),
		FailureRate:       envFloat("STUB_FAILURE_RATE", 0.02),
		Latency:           time.Duration(envInt("STUB_LATENCY_MS", 50)) * time.Millisecond,
		TokenTTL:          time.Duration(envInt("STUB_TOKEN_TTL_SECONDS", 3600)) * time.Second,
	}
	port := os.Getenv("PORT")
	if port == "" {
		port = "9090"
	}

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           newStub(opts),
		ReadHeaderTimeout: 15 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Stub ZNS listening on :%s (rps=%.1f failure_rate=%.2f latency=%s)",
			port, opts.RequestsPerSecond, opts.FailureRate, opts.Latency)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	log.Println("Shutting down stub...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	log.Println("Stub stopped")
}
