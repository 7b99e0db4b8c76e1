package main

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"crewdash/internal/config"
	"crewdash/internal/game"
	"crewdash/internal/handlers"
	"crewdash/internal/operator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	var logger *zap.Logger
	if cfg.Debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatal("Failed to build logger:", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	op := operator.New(game.Tunables{
		StartGrace:          cfg.StartGrace,
		DeleteGrace:         cfg.DeleteGrace,
		CommandDelayDefault: cfg.CommandDelayDefault,
		CommandDelayMin:     cfg.CommandDelayMin,
		TurnCommandCountMin: cfg.TurnCommandCountMin,
		TurnCommandCountMax: cfg.TurnCommandCountMax,
		DelayDecayCoeff:     cfg.DelayDecayCoeff,
	}, game.NewRand(), sugar)

	hctx := &handlers.Context{
		Operator: op,
		Config:   cfg,
		Log:      sugar,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	hctx.Routes(r)

	sugar.Infow("server starting", "addr", cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, r); err != nil {
		sugar.Fatalw("server stopped", "err", err)
	}
}
