// Package main provides the arena server binary: message routing with PvP
// effect processing and the spectator websocket fan-out.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/arena/internal/chain"
	"github.com/cory-johannsen/arena/internal/config"
	"github.com/cory-johannsen/arena/internal/crypto"
	"github.com/cory-johannsen/arena/internal/delivery"
	"github.com/cory-johannsen/arena/internal/game/message"
	"github.com/cory-johannsen/arena/internal/game/round"
	"github.com/cory-johannsen/arena/internal/game/router"
	"github.com/cory-johannsen/arena/internal/observability"
	"github.com/cory-johannsen/arena/internal/server"
	"github.com/cory-johannsen/arena/internal/storage/postgres"
	"github.com/cory-johannsen/arena/internal/ws"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting arena server",
		zap.String("addr", cfg.Server.Addr()),
	)

	dbStart := time.Now()
	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("connecting to database", zap.Error(err))
	}
	logger.Info("database connected",
		zap.String("host", cfg.Database.Host),
		zap.Duration("elapsed", time.Since(dbStart)),
	)

	roundRepo := postgres.NewRoundRepository(pool.DB())
	auditRepo := postgres.NewAuditRepository(pool.DB())

	signer, err := crypto.NewSigner(cfg.Signature.RouterKey)
	if err != nil {
		logger.Fatal("loading router signing key", zap.Error(err))
	}
	verifier, err := crypto.NewVerifier(cfg.Signature.AgentKeys)
	if err != nil {
		logger.Fatal("loading agent keys", zap.Error(err))
	}
	logger.Info("router identity ready",
		zap.String("public_key", signer.PublicKey()),
		zap.Int("agent_keys", len(cfg.Signature.AgentKeys)),
	)

	oracle := chain.NewOracle(chain.NewHTTPClient(cfg.Chain), logger)
	deliveryPool := delivery.NewPool(cfg.Delivery, logger)
	registry := ws.NewRegistry(cfg.Heartbeat, roundRepo, roundRepo, logger)
	wsServer := ws.NewServer(registry, logger)

	rounds := round.NewRegistry(roundRepo, logger)
	msgRouter := router.New(
		rounds,
		oracle,
		deliveryPool,
		auditRepo,
		registry,
		signer,
		verifier,
		cfg.Signature.Window,
		logger,
	)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /messages/agent", processHandler(msgRouter.ProcessAgentMessage, logger))
	mux.HandleFunc("POST /messages/gm", processHandler(msgRouter.ProcessGmMessage, logger))
	mux.HandleFunc("POST /messages/observation", processHandler(msgRouter.ProcessObservationMessage, logger))
	mux.HandleFunc("GET /ws", wsServer.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Health(r.Context(), 5*time.Second); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	heartbeatCtx, cancelHeartbeat := context.WithCancel(ctx)
	reconcileCtx, cancelReconcile := context.WithCancel(ctx)

	lifecycle := server.NewLifecycle(logger)
	lifecycle.Add("delivery-pool", deliveryService(deliveryPool))
	lifecycle.Add("heartbeat", &server.FuncService{
		StartFn: func() error {
			registry.RunHeartbeat(heartbeatCtx)
			return nil
		},
		StopFn: cancelHeartbeat,
	})
	lifecycle.Add("count-reconciler", &server.FuncService{
		StartFn: func() error {
			registry.RunReconciler(reconcileCtx)
			return nil
		},
		StopFn: cancelReconcile,
	})
	lifecycle.Add("http", &server.FuncService{
		StartFn: func() error {
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
		StopFn: func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = httpServer.Shutdown(shutdownCtx)
		},
	})

	logger.Info("wiring complete", zap.Duration("elapsed", time.Since(start)))

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("lifecycle failed", zap.Error(err))
	}
	pool.Close()
}

func deliveryService(p *delivery.Pool) server.Service {
	return &server.FuncService{
		StartFn: p.Start,
		StopFn:  p.Stop,
	}
}

// processHandler adapts one router operation to an HTTP handler. The router
// never lets an error escape; the Result's status code drives the response.
func processHandler(process func(context.Context, message.Envelope) router.Result, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var env message.Envelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			writeJSON(w, http.StatusBadRequest, router.Result{
				StatusCode: http.StatusBadRequest,
				Error:      "malformed envelope: " + err.Error(),
			}, logger)
			return
		}
		res := process(r.Context(), env)
		writeJSON(w, res.StatusCode, res, logger)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Debug("writing response", zap.Error(err))
	}
}
