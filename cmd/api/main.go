package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"msgvault/api/internal/annotate"
	"msgvault/api/internal/app"
	"msgvault/api/internal/cache"
	"msgvault/api/internal/config"
	"msgvault/api/internal/extract"
	"msgvault/api/internal/index"
	"msgvault/api/internal/msg"
	"msgvault/api/internal/search"
	"msgvault/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	// Item source: MinIO bucket when configured, local folder otherwise.
	var source index.Source
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		log.Printf("Using MinIO item source at %s (bucket %s)", cfg.MinioEndpoint, cfg.MinioBucket)
		minioSource, err := index.NewMinioSource(index.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Fatalf("minio connection failed: %v", err)
		}
		source = minioSource
	} else {
		log.Printf("Using filesystem item source at %s", cfg.MsgDir)
		fsSource, err := index.NewFSSource(cfg.MsgDir)
		if err != nil {
			log.Fatalf("filesystem source failed: %v", err)
		}
		source = fsSource
	}
	ix := index.New(source)

	// Cache backend: Redis when configured, per-process memory otherwise.
	var cacheStore cache.Store
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis cache backend")
		redisStore, err := cache.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		cacheStore = redisStore
	} else {
		log.Printf("Using in-memory cache backend")
		cacheStore = cache.NewMemoryStore()
	}
	layer := cache.NewLayer(cacheStore)
	defer layer.Close()

	// Annotation persistence is optional; without a database annotations
	// live only as long as the process.
	var persister annotate.Persister
	var dbPinger interface {
		Ping(ctx context.Context) error
	}
	var restored map[string]annotate.Annotation
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("database connection failed: %v", err)
		}
		defer db.Close()

		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			log.Fatalf("migrations failed: %v", err)
		}

		annotations := store.NewAnnotations(db)
		persister = annotations
		dbPinger = annotations

		restored, err = annotations.LoadAll(ctx)
		if err != nil {
			log.Printf("WARNING: loading persisted annotations failed: %v", err)
		}
	} else {
		log.Printf("No DATABASE_URL configured, annotations are in-memory only")
	}

	annotations := annotate.NewStore(cache.InvalidateDocument(layer), persister)
	if len(restored) > 0 {
		annotations.Restore(restored)
		log.Printf("Restored %d persisted annotations", len(restored))
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient)

	decoder := msg.NewDecoder(ix)
	extractor := extract.New(decoder, annotations, cfg.ExtractWorkers, cfg.DecodeTimeout)

	service := app.New(cfg, ix, extractor, annotations, layer, searchService, dbPinger)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("MsgVault API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
