package main // Entry point package

import (
	"context"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/activation-server/internal/config"
	"github.com/iliyamo/activation-server/internal/database"
	"github.com/iliyamo/activation-server/internal/handler"
	"github.com/iliyamo/activation-server/internal/queue"
	"github.com/iliyamo/activation-server/internal/repository"
	"github.com/iliyamo/activation-server/internal/router"
	"github.com/iliyamo/activation-server/internal/service"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()
	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	activations := repository.NewActivationRepo(db)
	tokens := repository.NewTokenRepo(db)
	uniqueValues := repository.NewUniqueValueRepo(db)
	applications := repository.NewApplicationRepo(db)
	recoveryRepo := repository.NewRecoveryRepo(db)

	vault := service.NewKeyVault(cfg.MasterKey)
	replay := service.NewReplayGuard(uniqueValues, time.Duration(cfg.ReplayWindowSec)*time.Second)
	history := queue.NewHistoryQueue("")

	upgrades := service.NewUpgradeService(activations, applications, vault, replay, history)
	tokenSvc := service.NewTokenService(activations, tokens, applications, vault, replay, cfg.TokenIDIterations)
	recovery := service.NewRecoveryEngine(activations, recoveryRepo, applications, vault, replay,
		cfg.RecoveryIterations, cfg.MaxFailedAttempts, cfg.BcryptCost)

	// Background workers: replay record sweep and the audit consumer.
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go replay.RunSweeper(sweepCtx, time.Duration(cfg.SweepIntervalSec)*time.Second)
	go func() {
		if err := queue.StartHistoryConsumer(); err != nil {
			log.Printf("history-consumer: %v", err)
		}
	}()

	loc := service.DefaultLocalizer{}
	e := echo.New()
	router.RegisterRoutes(e)
	router.RegisterProtocol(e,
		handler.NewTokenHandler(tokenSvc, loc),
		handler.NewUpgradeHandler(upgrades, loc),
		handler.NewRecoveryHandler(recovery, loc),
		config.LoadRateLimitConfig(), config.NewRedisClient())
	router.RegisterAdmin(e, handler.NewRecoveryHandler(recovery, loc), cfg.JWTSecret)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
