// Command perpcore runs the deterministic perpetual-futures core: it
// sequences transactions from NATS JetStream into the engine, commits
// versioned state roots on an interval, and republishes engine events
// for downstream consumers.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dbm "github.com/tendermint/tm-db"

	"perpcore/internal/engine"
	"perpcore/internal/ingestion"
	"perpcore/internal/observability"
	"perpcore/internal/state"
)

type Config struct {
	DataDir        string
	NATSURL        string
	HTTPAddr       string
	TxChanSize     int
	PublishBuffer  int
	CommitInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		DataDir:        envOrDefault("PERPCORE_DATA_DIR", "data"),
		NATSURL:        envOrDefault("PERPCORE_NATS_URL", "nats://localhost:4222"),
		HTTPAddr:       envOrDefault("PERPCORE_HTTP_ADDR", ":8080"),
		TxChanSize:     envIntOrDefault("PERPCORE_TX_CHAN_SIZE", 4096),
		PublishBuffer:  envIntOrDefault("PERPCORE_PUBLISH_BUFFER", 8192),
		CommitInterval: envDurationOrDefault("PERPCORE_COMMIT_INTERVAL", 500*time.Millisecond),
	}
}

func main() {
	log := observability.NewLogger("main")
	cfg := DefaultConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Persistent authenticated store.
	db, err := dbm.NewGoLevelDB("perpcore", cfg.DataDir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("open database")
	}
	defer db.Close()
	store, err := state.OpenStore(db)
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	log.Info().Int64("version", store.Version()).Msg("store opened")

	// NATS.
	nc, js, err := ingestion.Connect(cfg.NATSURL)
	if err != nil {
		log.Fatal().Err(err).Str("url", cfg.NATSURL).Msg("nats connect")
	}
	defer nc.Close()
	if err := ingestion.EnsureStreams(ctx, js); err != nil {
		log.Fatal().Err(err).Msg("ensure streams")
	}
	if err := ingestion.EnsureOutboundStream(ctx, js); err != nil {
		log.Fatal().Err(err).Msg("ensure outbound stream")
	}

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	publisher := ingestion.NewPublisher(js, cfg.PublishBuffer)

	// Engine: rebuild books from persisted orders before serving.
	eng := engine.New(store, publisher, metrics)
	eng.BeginBlock(uint64(store.Version())+1, uint64(time.Now().Unix()))
	if err := eng.Recover(); err != nil {
		log.Fatal().Err(err).Msg("recover books")
	}

	rawChan := make(chan ingestion.RawTx, cfg.TxChanSize)
	subscriber := ingestion.NewSubscriber(js, rawChan)
	if err := subscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		log.Fatal().Err(err).Msg("subscribe")
	}

	errChan := make(chan error, 4)
	go func() {
		errChan <- publisher.Run(ctx)
	}()
	go func() {
		errChan <- sequenceLoop(ctx, eng, rawChan, cfg.CommitInterval, uint64(store.Version())+1)
	}()

	// HTTP: metrics and probes.
	health := observability.NewHealthChecker()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.LivenessHandler)
	mux.HandleFunc("/readyz", health.ReadinessHandler)
	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		httpServer.Shutdown(shutCtx)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("http server: %w", err)
		}
	}()

	health.SetReady(true)
	log.Info().
		Str("http", cfg.HTTPAddr).
		Str("nats", cfg.NATSURL).
		Dur("commit_interval", cfg.CommitInterval).
		Msg("perpcore ready")

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		if err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("component failed, shutting down")
		}
	}

	cancel()
	subscriber.Stop()
	log.Info().Msg("perpcore stopped")
}

// sequenceLoop is the single writer: it parses inbound transactions,
// applies them in arrival order, and commits a version on each tick.
// Messages are acked once the engine has decided; rejections are final
// and never redelivered.
func sequenceLoop(ctx context.Context, eng *engine.Engine, rawChan <-chan ingestion.RawTx, commitInterval time.Duration, startHeight uint64) error {
	log := observability.NewLogger("sequencer")
	height := startHeight
	eng.BeginBlock(height, uint64(time.Now().Unix()))

	ticker := time.NewTicker(commitInterval)
	defer ticker.Stop()
	dirty := false

	for {
		select {
		case <-ctx.Done():
			if dirty {
				if _, _, err := eng.Commit(); err != nil {
					log.Error().Err(err).Msg("final commit failed")
				}
			}
			return ctx.Err()

		case <-ticker.C:
			if !dirty {
				continue
			}
			root, version, err := eng.Commit()
			if err != nil {
				return fmt.Errorf("commit version: %w", err)
			}
			log.Debug().Int64("version", version).Hex("root", root).Msg("committed")
			dirty = false
			height++
			eng.BeginBlock(height, uint64(time.Now().Unix()))

		case raw := <-rawChan:
			parsed, err := ingestion.ParseRawTx(raw)
			if err != nil {
				log.Warn().Err(err).Str("subject", raw.Subject).Msg("unparseable tx")
				raw.Ack()
				continue
			}
			if err := eng.Apply(parsed); err != nil {
				// Rejection is a final, deterministic outcome.
				log.Debug().Err(err).Str("kind", parsed.Kind()).Msg("tx rejected")
			} else {
				dirty = true
			}
			raw.Ack()
		}
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var i int
	if _, err := fmt.Sscanf(v, "%d", &i); err != nil {
		return def
	}
	return i
}

func envDurationOrDefault(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
