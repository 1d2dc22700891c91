package main

import (
	"context"
	"log"
	"os"

	"github.com/seantiz/flux/internal/api"
	"github.com/seantiz/flux/internal/config"
	"github.com/seantiz/flux/internal/deploy"
	"github.com/seantiz/flux/internal/engine"
	"github.com/seantiz/flux/internal/manager"
	"github.com/seantiz/flux/internal/router"
	"github.com/seantiz/flux/internal/store"
	"github.com/seantiz/flux/internal/unit"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("flux: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"units_path", cfg.UnitsRootPath,
		"task_concurrency", cfg.TaskConcurrency,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	scanner := unit.NewScanner(cfg.UnitsRootPath)
	units := manager.New(manager.Options{
		Scanner: scanner,
		History: db,
		Logger:  logger,
	})
	defer units.Close()

	pools := router.NewRegistry(logger)
	defer pools.Close()

	deployer := deploy.NewService(units, pools, cfg.TaskConcurrency, logger)
	eng := engine.NewEngine(db, units, pools, cfg.TaskTimeout, logger)
	defer eng.Wait()

	ctx := context.Background()
	if cfg.PreloadUnits {
		n, err := deployer.Preload(ctx, scanner)
		if err != nil {
			logger.Error("preload units", "error", err)
		}
		logger.Info("units preloaded", "count", n)
	}

	srv := api.NewServer(cfg.ListenAddr, api.Deps{
		Store:    db,
		Units:    units,
		Deployer: deployer,
		Pools:    pools,
		Engine:   eng,
	}, logger)

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
