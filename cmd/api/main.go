package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"docuflow/api/internal/app"
	"docuflow/api/internal/config"
	"docuflow/api/internal/email"
	"docuflow/api/internal/files"
	"docuflow/api/internal/notify"
	"docuflow/api/internal/queue"
	"docuflow/api/internal/search"
	"docuflow/api/internal/session"
	"docuflow/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	var fileStore files.Storage
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		log.Printf("Using MinIO object storage at %s", cfg.MinioEndpoint)
		fileStore, err = files.NewObject(ctx, files.ObjectConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Fatalf("minio storage failed: %v", err)
		}
	} else {
		log.Printf("Using local file storage at %s", cfg.UploadsDir)
		fileStore, err = files.NewLocal(cfg.UploadsDir)
		if err != nil {
			log.Fatalf("local storage failed: %v", err)
		}
	}

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)
	go searchService.ReindexAllFromPG(ctx)

	emailService := email.NewService(app.EmailConfigSource(cfg, dataStore))

	opts := app.Options{
		Files:  fileStore,
		Search: searchService,
		Email:  emailService,
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		opts.Sessions = redisStore

		jobQueue, err := queue.NewFromURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("job queue failed: %v", err)
		}
		defer jobQueue.Close()
		opts.Queue = jobQueue

		hub, err := notify.NewHubFromURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("event hub failed: %v", err)
		}
		defer hub.Close()
		opts.Hub = hub

		dispatcher := notify.NewDispatcher(dataStore, hub, emailService)
		worker := queue.NewWorker(jobQueue, dispatcher.Handle)
		go worker.Run(ctx)

		log.Printf("Using Redis for sessions, jobs, and live events")
	} else {
		log.Printf("Redis not configured; notifications and emails are disabled")
	}

	service := app.New(cfg, dataStore, opts)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, cfg.CronSecret)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("DocuFlow API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
