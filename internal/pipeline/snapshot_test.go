package pipeline

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"
)

func TestSnapshot_WriteAndLoad_Integration(t *testing.T) {
	// Integration test - requires Redis
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})
	defer client.Close()

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Skipping integration test: Redis not available: %v", err)
	}
	client.Del(ctx, SnapshotKey, VersionKey)
	defer client.Del(ctx, SnapshotKey, VersionKey)

	loader := NewSnapshotLoader(client)
	writer := NewSnapshotWriter(client)

	if v, err := loader.GetVersion(ctx); err != nil || v != 0 {
		t.Fatalf("GetVersion() = %d, %v; want 0, nil", v, err)
	}
	if _, err := loader.LoadConfig(ctx); err == nil {
		t.Fatal("LoadConfig() error = nil, want not found")
	}

	cfg := loadExample(t)
	version, err := writer.WriteConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("WriteConfig() error = %v", err)
	}
	if version != 1 {
		t.Errorf("WriteConfig() version = %d, want 1", version)
	}

	got, err := loader.LoadConfig(ctx)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if diff := cmp.Diff(cfg.Watchdogs, got.Watchdogs); diff != "" {
		t.Errorf("watchdogs mismatch (-want +got):\n%s", diff)
	}

	deps, _, _ := testDeps()
	if _, err := Compile(got, deps); err != nil {
		t.Errorf("Compile(loaded) error = %v", err)
	}
}
