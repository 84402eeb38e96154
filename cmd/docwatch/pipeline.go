package main

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/adamstauffer/cyphon/internal/config"
	"github.com/adamstauffer/cyphon/internal/pipeline"
)

// loadPipeline compiles the initial pipeline. A pipeline file is loaded once; a Redis
// snapshot is also polled and reloaded when its version changes.
func loadPipeline(ctx context.Context, cfg *config.Config, client *redis.Client, compile pipeline.CompileFunc) (*pipeline.Holder, error) {
	if cfg.PipelineFile != "" {
		pc, err := pipeline.LoadFile(cfg.PipelineFile)
		if err != nil {
			return nil, err
		}
		p, err := compile(pc)
		if err != nil {
			return nil, err
		}
		return pipeline.NewHolder(p, 0), nil
	}

	loader := pipeline.NewSnapshotLoader(client)
	version, err := loader.GetVersion(ctx)
	if err != nil {
		return nil, err
	}
	pc, err := loader.LoadConfig(ctx)
	if err != nil {
		return nil, err
	}
	p, err := compile(pc)
	if err != nil {
		return nil, err
	}

	holder := pipeline.NewHolder(p, version)
	pipeline.NewReloader(loader, compile, holder, cfg.PollInterval).Start(ctx)
	return holder, nil
}
