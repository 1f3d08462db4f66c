package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/roomchat/internal/backend"
	"github.com/roomchat/internal/config"
	"github.com/roomchat/internal/handler"
	"github.com/roomchat/internal/logger"
	"github.com/roomchat/internal/startup"
	"github.com/roomchat/internal/storage"
	"github.com/roomchat/internal/storage/memory"
	redisstore "github.com/roomchat/internal/storage/redis"
	"github.com/roomchat/internal/typing"
	"github.com/roomchat/internal/ws"
)

const reapPeriod = 30 * time.Second

func main() {
	logger.SetPrefix("chat")
	dev := flag.Bool("dev", false, "in-memory realtime store (no Redis required)")
	flag.Parse()

	logger.Info("starting chat gateway")
	cfg := config.Load()

	var store storage.RealtimeStore
	var redisClient *redisstore.Client
	if *dev {
		logger.Info("using in-memory realtime store")
		store = memory.New()
	} else {
		redisClient = startup.ConnectStoreWithRetry(cfg.StoreURL, 60*time.Second, "")
		store = redisClient
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Errorf("store close: %v", err)
		}
	}()

	backendCli := backend.NewClient(cfg.BackendURL)
	typists := typing.NewCoordinatorExpiry(store, cfg.TypingExpiry)
	defer typists.Close()

	hubCtx, hubCancel := context.WithCancel(context.Background())
	hub := ws.NewHub(store, backendCli, typists, cfg.MaxWSConnections, cfg.TypingThrottle)

	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	// Apply fallback presence writes of clients that died without a clean
	// shutdown (crash, network loss).
	if redisClient != nil {
		hubWg.Add(1)
		go func() {
			defer hubWg.Done()
			ticker := time.NewTicker(reapPeriod)
			defer ticker.Stop()
			for {
				select {
				case <-hubCtx.Done():
					return
				case <-ticker.C:
					ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
					if err := redisClient.ReapDisconnected(ctx); err != nil {
						logger.Errorf("reap disconnected: %v", err)
					}
					cancel()
				}
			}
		}()
	}

	wsH := ws.NewHandler(hub, cfg.JWTSecret, cfg.CORSAllowedOrigins)
	roomsH := handler.NewRoomsHandler(backendCli)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.CORSAllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/api/chat/my-rooms", roomsH.MyRooms)
	r.Post("/api/chat/start", roomsH.StartChat)
	r.Get("/ws", wsH.ServeWS)

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("gateway listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hubCancel()
	hubWg.Wait()
	logger.Info("hub stopped")
	srvWg.Wait()
	logger.Info("server goroutine exited")
}
