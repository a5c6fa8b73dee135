package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	"github.com/rs/zerolog/log"

	"github.com/eduzayn/conversa-insights-dash-sub001/config"
	"github.com/eduzayn/conversa-insights-dash-sub001/internal/adapters/botconversa"
	"github.com/eduzayn/conversa-insights-dash-sub001/internal/db"
	"github.com/eduzayn/conversa-insights-dash-sub001/internal/events"
	"github.com/eduzayn/conversa-insights-dash-sub001/internal/handlers"
	"github.com/eduzayn/conversa-insights-dash-sub001/internal/models"
	"github.com/eduzayn/conversa-insights-dash-sub001/internal/routing"
	"github.com/eduzayn/conversa-insights-dash-sub001/internal/scheduler"
	"github.com/eduzayn/conversa-insights-dash-sub001/internal/services"
	"github.com/eduzayn/conversa-insights-dash-sub001/pkg/logger"
)

func main() {
	logger.InitLogger()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	gdb, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	if err := db.Migrate(gdb, &models.User{}, &models.Lead{}, &models.Conversation{}, &models.Message{}); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	clients := make([]*botconversa.Client, 0, len(cfg.Accounts))
	for _, account := range cfg.Accounts {
		client, err := botconversa.NewClient(cfg.BotConversaBaseURL, account.APIKey, account.Name)
		if err != nil {
			log.Fatal().Err(err).Str("account", account.Name).Msg("Failed to initialize BotConversa client")
		}
		clients = append(clients, client)
	}

	router, err := routing.NewEngine(cfg, gdb)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize routing engine")
	}

	locks := services.NewKeyedMutex()
	reconciler, err := services.NewReconciler(gdb, router, locks)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize reconciler")
	}
	syncer, err := services.NewMessageSyncer(gdb)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize message syncer")
	}
	// Push-back goes through the first configured account; webhook deliveries
	// do not identify which account key to use and the tag tables are shared.
	statusSync, err := services.NewStatusSyncService(gdb, cfg.StatusTags, clients[0])
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize status sync")
	}

	publisher := events.NewPublisherFromEnv()
	defer publisher.Close()

	webhookHandler, err := handlers.NewWebhookHandler(reconciler, syncer, statusSync, publisher, cfg.PhoneRateLimit, cfg.PhoneRateWindow)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize webhook handler")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	accounts := make([]scheduler.RemoteAccount, 0, len(clients))
	for _, client := range clients {
		accounts = append(accounts, client)
	}
	sched, err := scheduler.New(accounts, reconciler, syncer, cfg.SyncInterval, cfg.SyncWorkers, cfg.ConversationStaleAfter)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize sync scheduler")
	}
	if err := sched.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start sync scheduler")
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", handlers.Healthz).Methods(http.MethodGet)
	r.HandleFunc(cfg.WebhookPath, webhookHandler.Handle).Methods(http.MethodPost)

	chain := alice.New(handlers.Recoverer, handlers.RequestLogger).Then(r)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           chain,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Str("webhookPath", cfg.WebhookPath).Msg("Server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}
}
