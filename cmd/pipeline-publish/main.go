package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/adamstauffer/cyphon/internal/alert"
	"github.com/adamstauffer/cyphon/internal/munger"
	"github.com/adamstauffer/cyphon/internal/pipeline"
	"github.com/adamstauffer/cyphon/pkg/shared"
)

func main() {
	configPath := flag.String("config", shared.GetEnvOrDefault("PIPELINE_FILE", "configs/pipeline.yaml"), "Pipeline YAML file to publish")
	redisAddr := flag.String("redis-addr", shared.GetEnvOrDefault("REDIS_ADDR", "localhost:6379"), "Redis server address")
	dryRun := flag.Bool("dry-run", false, "Validate the configuration without publishing it")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if err := run(context.Background(), *configPath, *redisAddr, *dryRun); err != nil {
		slog.Error("Failed to publish pipeline", "config", *configPath, "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, path, redisAddr string, dryRun bool) error {
	cfg, err := validate(path)
	if err != nil {
		return err
	}
	slog.Info("Pipeline configuration is valid",
		"config", path,
		"chutes", len(cfg.Chutes),
		"watchdogs", len(cfg.Watchdogs),
	)
	if dryRun {
		return nil
	}

	client, err := shared.ConnectRedis(ctx, redisAddr)
	if err != nil {
		return err
	}
	defer client.Close()

	version, err := pipeline.NewSnapshotWriter(client).WriteConfig(ctx, cfg)
	if err != nil {
		return err
	}
	slog.Info("Published pipeline snapshot", "version", version, "redis_addr", redisAddr)
	return nil
}

// validate loads the file and compiles it against in-memory stores, so a broken
// configuration never reaches running workers.
func validate(path string) (*pipeline.Config, error) {
	cfg, err := pipeline.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if _, err := pipeline.Compile(cfg, pipeline.Deps{
		Records: munger.NewMemoryStore(),
		Alerts:  alert.NewMemoryStore(0),
	}); err != nil {
		return nil, fmt.Errorf("invalid pipeline configuration: %w", err)
	}
	return cfg, nil
}
