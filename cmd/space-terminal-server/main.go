package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/xlab2016/space-terminal-public/internal/config"
	"github.com/xlab2016/space-terminal-public/internal/db"
	"github.com/xlab2016/space-terminal-public/internal/directory"
	"github.com/xlab2016/space-terminal-public/internal/store"
	"github.com/xlab2016/space-terminal-public/server"
)

func main() {
	cfg := config.Load()

	roster, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open roster database: %v", err)
	}
	defer roster.Close()

	dir, err := directory.New(roster)
	if err != nil {
		log.Fatalf("Failed to load client directory: %v", err)
	}

	commands := store.NewCommands()
	groups := store.NewGroups()

	registry := server.NewRegistry()
	router := server.NewRouter(registry, dir, commands, groups)
	registry.SetHandler(router)
	registry.SetCloseHook(router.SessionClosed)

	srv := server.NewServer(registry)
	admin := server.NewAdminHandler(dir, registry, commands, groups)

	mux := http.NewServeMux()

	// WebSocket endpoint
	mux.HandleFunc("/ws", srv.HandleWebSocket)

	// Diagnostics API
	mux.HandleFunc("/api/clients", admin.HandleClients)
	mux.HandleFunc("/api/clients/online", admin.HandleOnlineClients)
	mux.HandleFunc("/api/sessions", admin.HandleSessions)
	mux.HandleFunc("/api/commands", admin.HandleCommands)
	mux.HandleFunc("/api/groups", admin.HandleGroups)

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Println("Shutting down...")
		httpServer.Shutdown(context.Background())
	}()

	log.Printf("Space Terminal relay listening on %s", cfg.Addr)
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}
