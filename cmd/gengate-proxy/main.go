// Command gengate-proxy fronts a generation backend with the governance
// layer: admission control and response caching for every forwarded call.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/storyforge/gengate/pkg/cache"
	"github.com/storyforge/gengate/pkg/gate"
	"github.com/storyforge/gengate/pkg/logging"
	"github.com/storyforge/gengate/pkg/ratelimit"
)

// endpoints are the logical generation endpoints the proxy governs.
var endpoints = []string{"chat", "speech", "transcribe"}

type config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	UpstreamURL string `env:"UPSTREAM_URL,required"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`

	RequestsPerMinute int           `env:"REQUESTS_PER_MINUTE" envDefault:"60"`
	BurstLimit        int           `env:"BURST_LIMIT" envDefault:"10"`
	QueueSize         int           `env:"QUEUE_SIZE" envDefault:"32"`
	MaxWait           time.Duration `env:"MAX_WAIT" envDefault:"30s"`

	CacheMaxEntries   int           `env:"CACHE_MAX_ENTRIES" envDefault:"1000"`
	CacheMaxSizeBytes int64         `env:"CACHE_MAX_SIZE_BYTES" envDefault:"67108864"`
	CacheTTL          time.Duration `env:"CACHE_TTL" envDefault:"10m"`
	SnapshotPath      string        `env:"CACHE_SNAPSHOT_PATH"`
	SnapshotInterval  time.Duration `env:"CACHE_SNAPSHOT_INTERVAL" envDefault:"1m"`

	// RedisURL switches snapshot persistence from file to Redis when set.
	RedisURL string `env:"REDIS_URL"`
}

func main() {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
		Output: os.Stderr,
	})

	snapshot, err := snapshotStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Snapshot store setup failed")
	}

	cacheSvc, err := cache.New(cache.Config{
		MaxEntries:       cfg.CacheMaxEntries,
		MaxSizeBytes:     cfg.CacheMaxSizeBytes,
		DefaultTTL:       cfg.CacheTTL,
		Snapshot:         snapshot,
		SnapshotInterval: cfg.SnapshotInterval,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Cache setup failed")
	}

	limiter := ratelimit.New(ratelimit.DefaultConfig())
	for _, ep := range endpoints {
		err := limiter.Configure(ep, ratelimit.EndpointConfig{
			RequestsPerMinute: cfg.RequestsPerMinute,
			BurstLimit:        cfg.BurstLimit,
			QueueSize:         cfg.QueueSize,
			MaxWait:           cfg.MaxWait,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("Limiter setup failed")
		}
	}

	g, err := gate.New(limiter, cacheSvc)
	if err != nil {
		logger.Fatal().Err(err).Msg("Gate setup failed")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/stats", statsHandler(g))
	mux.HandleFunc("/v1/generate/", generateHandler(g, cfg, logger))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: mux,
	}

	go func() {
		logger.Info().
			Str("addr", srv.Addr).
			Str("upstream", cfg.UpstreamURL).
			Msg("Starting gengate proxy")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Server shutdown incomplete")
	}
	limiter.Close()
	if err := cacheSvc.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Final cache snapshot failed")
	}
	logger.Info().Msg("Shutdown complete")
}

// snapshotStore picks the persistence backend: Redis when REDIS_URL is set,
// a snapshot file when CACHE_SNAPSHOT_PATH is set, otherwise none.
func snapshotStore(cfg config) (cache.SnapshotStore, error) {
	if cfg.RedisURL != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisURL, err)
		}
		return cache.NewRedisStore(client, ""), nil
	}
	if cfg.SnapshotPath != "" {
		return cache.NewFileStore(cfg.SnapshotPath), nil
	}
	return nil, nil
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// statsSnapshot is the /stats response payload.
type statsSnapshot struct {
	Endpoints map[string]ratelimit.EndpointMetrics `json:"endpoints"`
	Queues    map[string]int                       `json:"queues"`
	Cache     cache.Stats                          `json:"cache"`
}

func statsHandler(g *gate.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := statsSnapshot{
			Endpoints: make(map[string]ratelimit.EndpointMetrics, len(endpoints)),
			Queues:    g.Limiter().QueueStatus(),
			Cache:     g.Cache().GetStats(),
		}
		for _, ep := range endpoints {
			if m, err := g.Limiter().Metrics(ep); err == nil {
				snap.Endpoints[ep] = m
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(snap)
	}
}

// generateRequest is the cache key input for one forwarded call: the
// endpoint plus the request payload.
type generateRequest struct {
	Endpoint string          `json:"endpoint"`
	Payload  json.RawMessage `json:"payload"`
}

func generateHandler(g *gate.Gate, cfg config, logger zerolog.Logger) http.HandlerFunc {
	httpClient := &http.Client{Timeout: 60 * time.Second}

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		endpoint := strings.TrimPrefix(r.URL.Path, "/v1/generate/")
		if endpoint == "" || strings.Contains(endpoint, "/") {
			http.Error(w, "unknown endpoint", http.StatusNotFound)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "unreadable body", http.StatusBadRequest)
			return
		}

		priority := ratelimit.ParsePriority(r.Header.Get("X-Priority"))
		input := generateRequest{Endpoint: endpoint, Payload: body}

		result, err := gate.Call(r.Context(), g, endpoint, priority, input,
			func(ctx context.Context) (json.RawMessage, error) {
				return forward(ctx, httpClient, cfg.UpstreamURL, endpoint, body)
			}, cfg.CacheTTL)
		if err != nil {
			writeCallError(w, logger, endpoint, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(result)
	}
}

// forward posts the payload to the upstream generation service.
func forward(ctx context.Context, client *http.Client, upstream, endpoint string, body []byte) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		upstream+"/"+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream call: %w", err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upstream response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream status %d: %s", resp.StatusCode, out)
	}
	return out, nil
}

// writeCallError maps governance failures to HTTP statuses: shed and
// timed-out requests get 429/504 so clients can apply their own backoff.
func writeCallError(w http.ResponseWriter, logger zerolog.Logger, endpoint string, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, ratelimit.ErrQueueFull):
		status = http.StatusTooManyRequests
	case errors.Is(err, ratelimit.ErrAcquireTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, ratelimit.ErrNotConfigured):
		status = http.StatusNotFound
	}

	logger.Warn().
		Err(err).
		Str("endpoint", endpoint).
		Int("status", status).
		Msg("Governed call failed")
	http.Error(w, err.Error(), status)
}
