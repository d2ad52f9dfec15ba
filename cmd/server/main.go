package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/mailchat/mailchat/internal/api"
	"github.com/mailchat/mailchat/internal/auth"
	"github.com/mailchat/mailchat/internal/config"
	"github.com/mailchat/mailchat/internal/crypto"
	"github.com/mailchat/mailchat/internal/smtp"
	"github.com/mailchat/mailchat/internal/store"
	"github.com/mailchat/mailchat/internal/store/memory"
	"github.com/mailchat/mailchat/internal/store/postgres"
	"github.com/mailchat/mailchat/internal/sync"
	ws "github.com/mailchat/mailchat/internal/websocket"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	chatStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open chat store: %v", err)
	}
	defer chatStore.Close()

	encryptor, err := crypto.NewEncryptor(cfg.EncryptionKeyBase64)
	if err != nil {
		log.Fatalf("Failed to create encryptor: %v", err)
	}

	hub := ws.NewHub(10)
	dispatcher := smtp.NewDispatcher(chatStore, encryptor, cfg.NetworkTimeout)
	syncer := sync.NewSyncer(chatStore, encryptor, hub, cfg.NetworkTimeout)
	scheduler := sync.NewScheduler(syncer, chatStore, cfg.EnableIMAPIdle)

	go scheduler.Run(ctx)

	handler := NewServer(chatStore, encryptor, dispatcher, syncer, hub)
	if cfg.APIToken != "" {
		handler = auth.RequireToken(cfg.APIToken, handler)
	}

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown: %v", err)
		}
	}()

	log.Printf("mailchat server starting on :%s (environment: %s, storage: %s)",
		cfg.Port, cfg.Environment, cfg.StorageDriver)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed: %v", err)
	}
}

func openStore(ctx context.Context, cfg *config.Config) (store.ChatStore, error) {
	switch cfg.StorageDriver {
	case "memory":
		return memory.NewStore(), nil
	case "postgres":
		pool, err := postgres.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := postgres.RunMigrations(ctx, pool, cfg.MigrationsDir); err != nil {
			pool.Close()
			return nil, err
		}
		log.Printf("Connected to database %s", cfg.DBName)
		return postgres.NewStore(pool), nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
}

// NewServer creates the HTTP handler for the mailchat API.
func NewServer(chatStore store.ChatStore, encryptor *crypto.Encryptor, dispatcher *smtp.Dispatcher, syncer *sync.Syncer, hub *ws.Hub) http.Handler {
	accountsHandler := api.NewAccountsHandler(chatStore, encryptor)
	chatsHandler := api.NewChatsHandler(chatStore)
	contactsHandler := api.NewContactsHandler(chatStore)
	groupsHandler := api.NewGroupsHandler(chatStore)
	sendHandler := api.NewSendHandler(dispatcher)
	syncHandler := api.NewSyncHandler(syncer)
	settingsHandler := api.NewSettingsHandler(chatStore)
	wsHandler := api.NewWebSocketHandler(hub)

	mux := http.NewServeMux()

	mux.HandleFunc("/", handleRoot)

	mux.HandleFunc("GET /api/v1/accounts", accountsHandler.List)
	mux.HandleFunc("POST /api/v1/accounts", accountsHandler.Create)
	mux.HandleFunc("DELETE /api/v1/accounts/{id}", accountsHandler.Delete)

	mux.HandleFunc("GET /api/v1/chats", chatsHandler.ListChats)
	mux.HandleFunc("GET /api/v1/messages", chatsHandler.ListMessages)
	mux.HandleFunc("POST /api/v1/messages/read", chatsHandler.MarkRead)
	mux.HandleFunc("DELETE /api/v1/messages/{seq}", chatsHandler.DeleteMessage)

	mux.HandleFunc("GET /api/v1/contacts", contactsHandler.List)
	mux.HandleFunc("POST /api/v1/contacts", contactsHandler.Create)
	mux.HandleFunc("DELETE /api/v1/contacts/{email}", contactsHandler.Delete)

	mux.HandleFunc("GET /api/v1/groups", groupsHandler.List)
	mux.HandleFunc("POST /api/v1/groups", groupsHandler.Create)
	mux.HandleFunc("DELETE /api/v1/groups/{id}", groupsHandler.Delete)

	mux.HandleFunc("POST /api/v1/send", sendHandler.SendToContact)
	mux.HandleFunc("POST /api/v1/send_group", sendHandler.SendToGroup)

	mux.HandleFunc("POST /api/v1/sync", syncHandler.Trigger)
	mux.HandleFunc("GET /api/v1/sync/status", syncHandler.Status)

	mux.HandleFunc("GET /api/v1/settings", settingsHandler.Get)
	mux.HandleFunc("PUT /api/v1/settings", settingsHandler.Put)

	mux.HandleFunc("/api/v1/ws", wsHandler.Handle)

	return mux
}

func handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "mailchat API is running")
}
