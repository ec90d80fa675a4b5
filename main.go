package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cppla/meritboard/config"
	"github.com/cppla/meritboard/jobs"
	"github.com/cppla/meritboard/models"
	"github.com/cppla/meritboard/routes"
	"github.com/cppla/meritboard/services"
	"github.com/cppla/meritboard/utils"
)

func main() {
	cfg := config.Load()

	// Initialize logger early
	if err := utils.InitLogger(cfg); err != nil {
		panic(err)
	}
	defer func() { _ = utils.Logger.Sync() }()

	db := config.InitDatabase(models.All()...)

	rdb, err := utils.InitRedis(cfg)
	if err != nil {
		utils.Logger.Warn("redis unreachable, leaderboard cache degraded", zap.Error(err))
	}

	ctx := context.Background()
	if created, err := services.EnsureAdmin(ctx, db, cfg.BootstrapAdminUsername, cfg.BootstrapAdminPassword); err != nil {
		utils.Logger.Fatal("bootstrap admin failed", zap.Error(err))
	} else if created {
		utils.Logger.Info("bootstrap admin created", zap.String("username", cfg.BootstrapAdminUsername))
	}

	eco := services.NewEconomy(db, rdb, utils.Logger, services.Options{
		LeaderboardMaxN:     cfg.LeaderboardMaxN,
		LeaderboardCacheTTL: time.Duration(cfg.LeaderboardCacheTTLSec) * time.Second,
	})

	scheduler, err := jobs.Schedule(cfg.LedgerAuditCron, jobs.NewLedgerAuditJob(eco.Ledger, utils.Logger.Named("audit")))
	if err != nil {
		utils.Logger.Fatal("invalid ledger audit schedule", zap.String("spec", cfg.LedgerAuditCron), zap.Error(err))
	}

	r := routes.SetupRouter(db, eco)

	srv := utils.NewServer(":"+cfg.AppPort, r, utils.DefaultReadTimeout, utils.DefaultWriteTimeout)
	srv.OnShutdown(func(ctx context.Context) {
		if scheduler != nil {
			<-scheduler.Stop().Done()
		}
		if rdb != nil {
			_ = rdb.Close()
		}
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	utils.Sugar.Infof("Starting server on port %s (graceful)", cfg.AppPort)
	if err := srv.ListenAndServe(); err != nil {
		utils.Sugar.Fatalf("server stopped with error: %v", err)
	}
}
