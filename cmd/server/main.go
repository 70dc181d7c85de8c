package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tenantguard/backend/internal/bridge"
	"github.com/tenantguard/backend/internal/cache"
	"github.com/tenantguard/backend/internal/config"
	"github.com/tenantguard/backend/internal/contextloop"
	"github.com/tenantguard/backend/internal/database"
	"github.com/tenantguard/backend/internal/events"
	"github.com/tenantguard/backend/internal/httpapi"
	"github.com/tenantguard/backend/internal/infra"
	"github.com/tenantguard/backend/internal/intake"
	"github.com/tenantguard/backend/internal/laws"
	"github.com/tenantguard/backend/internal/storage"
	"github.com/tenantguard/backend/internal/stream"
	"github.com/tenantguard/backend/internal/vault"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("TG_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	bus := events.NewBus(events.BusConfig{
		QueueHighWater:   cfg.Bus.QueueHighWater,
		HistoryPerType:   cfg.Bus.HistoryPerType,
		HistoryPerUser:   cfg.Bus.HistoryPerUser,
		ShutdownDeadline: cfg.ShutdownDeadline(),
	})

	provider, err := buildProvider(cfg)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	resilient := storage.NewResilientProvider(provider, storage.RetryConfig{
		CallTimeout: cfg.StorageTimeout(),
	})

	audit, err := vault.NewAuditLog(cfg.Audit.LogDir)
	if err != nil {
		log.Fatalf("audit log: %v", err)
	}
	vaultEngine := vault.NewEngine(resilient, vault.NewDirectory(), audit, bus)

	library := laws.DefaultCorpus()
	if cfg.Laws.CorpusPath != "" {
		library, err = laws.Load(cfg.Laws.CorpusPath)
		if err != nil {
			log.Fatalf("law corpus: %v", err)
		}
	}

	registry := intake.NewRegistry(cfg.Registry.OrgPrefix)
	pipeline := intake.NewPipeline(registry, intake.ReferenceClassifier{}, library, bus, intake.PipelineConfig{
		ClassifierTimeout: cfg.ClassifierTimeout(),
	})

	loop := contextloop.NewLoop(bus, contextloop.Config{
		Mailbox:       cfg.Bus.PerUserMailbox,
		IdleTTL:       cfg.IdleTTL(),
		DrainDeadline: cfg.ShutdownDeadline(),
		RollingWindow: cfg.Intensity.RollingWindow,
	})
	loop.Start()

	hub := stream.NewHub(bus)
	bus.RegisterSink(hub)

	// Redis snapshot cache, in-memory fallback when unconfigured.
	var redisClient cache.RedisClient = cache.NewMemory()
	if cfg.Redis.Addr != "" {
		adapter, err := infra.NewGoRedisAdapter(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			slog.Warn("redis unavailable, using in-memory snapshot cache", "error", err)
		} else {
			redisClient = adapter
			defer adapter.Close()
		}
	}
	snapshots := cache.NewSnapshots(redisClient, 5*time.Minute)

	// Postgres mirror, best-effort.
	if cfg.Postgres.DSN != "" {
		mirror, err := database.Open(cfg.Postgres.DSN)
		if err != nil {
			slog.Warn("postgres mirror unavailable", "error", err)
		} else {
			defer mirror.Close()
			audit.SetMirror(func(e vault.AuditEntry) {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := mirror.SaveAudit(ctx, e); err != nil {
					slog.Warn("audit mirror write failed", "error", err)
				}
			})
			bus.Subscribe(events.EventDocumentAdded, func(ctx context.Context, evt *events.Event) error {
				p, ok := evt.Payload.(events.DocumentPayload)
				if !ok {
					return nil
				}
				if doc := registry.Get(p.DocID); doc != nil {
					return mirror.SaveDocument(ctx, doc)
				}
				return nil
			})
		}
	}

	// Pub/Sub bridge, optional.
	if cfg.PubSub.ProjectID != "" && cfg.PubSub.Topic != "" {
		pb, err := bridge.NewPubSubBridge(cfg.PubSub.ProjectID, cfg.PubSub.Topic)
		if err != nil {
			slog.Warn("pubsub bridge unavailable", "error", err)
		} else {
			bus.RegisterSink(pb)
			defer pb.Close()
		}
	}

	api := &httpapi.Server{
		Bus:       bus,
		Loop:      loop,
		Hub:       hub,
		Pipeline:  pipeline,
		Vault:     vaultEngine,
		Snapshots: snapshots,
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      api.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("shutdown signal received")

		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownDeadline())
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown", "error", err)
		}
		if err := loop.Shutdown(ctx); err != nil {
			slog.Warn("context loop shutdown", "error", err)
		}
		if err := bus.Shutdown(ctx); err != nil {
			slog.Warn("bus shutdown", "error", err)
		}
		audit.Close()
	}()

	slog.Info("tenantguard api starting", "port", cfg.Server.Port, "env", cfg.Server.Env)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server failed: %v", err)
	}
	slog.Info("server stopped")
}

func buildProvider(cfg *config.Config) (storage.Provider, error) {
	switch cfg.Storage.Provider {
	case "supabase":
		return storage.NewSupabaseProvider(cfg.Storage.SupabaseURL, cfg.Storage.SupabaseKey, cfg.Storage.Bucket)
	default:
		return storage.NewLocalProvider(cfg.Storage.LocalRoot)
	}
}
