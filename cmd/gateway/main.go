// cmd/gateway/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pulkita2007/meter-system/internal/ai"
	"github.com/pulkita2007/meter-system/internal/alerting"
	"github.com/pulkita2007/meter-system/internal/anomaly"
	"github.com/pulkita2007/meter-system/internal/api"
	"github.com/pulkita2007/meter-system/internal/auth"
	"github.com/pulkita2007/meter-system/internal/broker"
	"github.com/pulkita2007/meter-system/internal/cache"
	"github.com/pulkita2007/meter-system/internal/config"
	"github.com/pulkita2007/meter-system/internal/ingest"
	"github.com/pulkita2007/meter-system/internal/mqtt"
	"github.com/pulkita2007/meter-system/internal/notify"
	"github.com/pulkita2007/meter-system/internal/storage"
	"github.com/pulkita2007/meter-system/internal/websocket"
)

func main() {
	// --- Configuration ---
	configPath := flag.String("config", ".", "Path to the configuration file directory")
	flag.Parse()

	if err := config.LoadConfig(*configPath); err != nil {
		log.Printf("Error loading config, continuing with defaults: %v", err)
	}
	cfg := &config.AppConfig
	logger := config.GetLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Storage ---
	var store storage.Store
	if cfg.Database.URL != "" {
		pg, err := storage.NewPostgresStore(ctx, cfg.Database.URL)
		if err != nil {
			logger.Fatalf("postgres init error: %v", err)
		}
		if err := pg.InitSchema(ctx); err != nil {
			logger.Fatalf("schema init error: %v", err)
		}
		defer pg.Close()
		store = pg
	} else {
		logger.Println("no database URL configured, using in-memory store")
		store = storage.NewMemoryStore()
	}

	// --- Optional collaborators ---
	var readingCache *cache.ReadingCache
	if cfg.Redis.Enabled {
		var err error
		readingCache, err = cache.New(ctx, cfg.Redis.Addr, logger)
		if err != nil {
			logger.Printf("redis unavailable, continuing without cache: %v", err)
		} else {
			defer readingCache.Close()
		}
	}

	var events *broker.Publisher
	if cfg.Kafka.Enabled {
		events = broker.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.ReadingsTopic, cfg.Kafka.AlertsTopic, cfg.Kafka.DLQTopic)
		defer events.Close()
	}

	// --- Notification channels ---
	var emailSender notify.EmailSender
	if cfg.SMTP.Host != "" {
		sender, err := notify.NewSMTPSender(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.From)
		if err != nil {
			logger.Printf("email channel disabled: %v", err)
		} else {
			emailSender = sender
		}
	}
	var pushSender notify.PushSender
	if cfg.FCM.CredentialsFile != "" {
		sender, err := notify.NewFCMPush(ctx, cfg.FCM.CredentialsFile)
		if err != nil {
			logger.Printf("push channel disabled: %v", err)
		} else {
			pushSender = sender
		}
	}
	dispatcher := notify.NewDispatcher(emailSender, pushSender, logger)

	// --- Core pipeline ---
	hub := websocket.NewHub(logger)
	go hub.Run()

	detector := anomaly.NewDetector(store, cfg)
	alerter := alerting.NewAlerter(store, dispatcher, hub, logger)
	ingestSvc := ingest.NewService(store, detector, alerter, hub, readingCache, events,
		cfg.Ingest.DefaultUserID, cfg.Ingest.DefaultPowerRating, logger)

	predictor := ai.NewClient(cfg.AI.BaseURL, time.Duration(cfg.AI.TimeoutSeconds)*time.Second, store, logger)
	chatClient := ai.NewChatClient(cfg.Chatbot.BaseURL, cfg.Chatbot.APIKey, cfg.Chatbot.Model)

	authManager := auth.NewManager(auth.Config{
		JWTSecret: cfg.Auth.JWTSecret,
		APIKeys:   cfg.Auth.APIKeys,
	})

	apiHandler := api.NewAPIHandler(store, ingestSvc, alerter, predictor, chatClient, hub, readingCache, logger)

	// --- MQTT bridge ---
	if cfg.MQTT.Enabled {
		bridge := mqtt.NewBridge(ingestSvc, events, cfg.MQTT.Topic, logger)
		client := bridge.BuildClient(cfg)
		go bridge.ConnectWithBackoff(ctx, client, time.Second, 30*time.Second)
		defer client.Disconnect(250)
	}

	// --- HTTP servers ---
	dataServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.DataPort),
		Handler: api.SetupDataRouter(apiHandler, authManager),
	}
	apiServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.APIPort),
		Handler: api.SetupAPIRouter(apiHandler, authManager),
	}

	go func() {
		logger.Printf("Starting data ingestion server on port %d", cfg.Server.DataPort)
		if err := dataServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatalf("data server error: %v", err)
		}
	}()
	go func() {
		logger.Printf("Starting API server on port %d", cfg.Server.APIPort)
		if err := apiServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatalf("API server error: %v", err)
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Println("Shutting down servers...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := dataServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("data server shutdown error: %v", err)
	}
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("API server shutdown error: %v", err)
	}

	logger.Println("Servers gracefully stopped.")
}
