package main

import (
	"flag"

	"github.com/joripage/dex-matcher/config"
	"github.com/joripage/dex-matcher/pkg/infra"
	"go.uber.org/zap"
)

func main() {
	var configFile string
	flag.StringVar(&configFile, "config-file", "", "Specify config file path")
	flag.Parse()

	logger, _ := zap.NewProduction()
	zap.ReplaceGlobals(logger)
	defer logger.Sync() // nolint

	cfg, err := config.Load(configFile)
	if err != nil {
		panic(err)
	}
	if cfg.MatcherDB == nil || cfg.MatcherDB.MigrationConnURL == "" {
		zap.S().Fatal("matcher_db.migration_conn_url is required")
	}

	mgTool := infra.GetMigrateTool()
	if err := mgTool.Migrate(cfg.MigrationSource, cfg.MatcherDB.MigrationConnURL); err != nil {
		zap.S().Fatalf("migrate fail: %v", err)
	}
}
