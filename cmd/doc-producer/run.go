package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adamstauffer/cyphon/internal/document"
)

const (
	burstProgressInterval = 1000
	progressLogInterval   = 5 * time.Second
)

// Publisher writes one document to the queue.
type Publisher interface {
	Publish(ctx context.Context, doc *document.Document) error
}

// Source produces documents.
type Source interface {
	Generate() *document.Document
}

// runBurst publishes n documents as fast as the publisher accepts them.
func runBurst(ctx context.Context, src Source, pub Publisher, n int) (int, error) {
	slog.Info("Starting burst mode", "total_documents", n)
	start := time.Now()

	for i := range n {
		if ctx.Err() != nil {
			slog.Warn("Burst mode cancelled", "sent", i, "requested", n)
			return i, ctx.Err()
		}
		doc := src.Generate()
		if err := pub.Publish(ctx, doc); err != nil {
			return i, fmt.Errorf("failed to publish document %d: %w", i+1, err)
		}
		if (i+1)%burstProgressInterval == 0 {
			slog.Info("Burst progress", "sent", i+1, "total", n)
		}
	}

	slog.Info("Burst mode completed", "total_sent", n, "duration", time.Since(start))
	return n, nil
}

// runContinuous publishes at rps documents per second until duration elapses.
func runContinuous(ctx context.Context, src Source, pub Publisher, rps float64, duration time.Duration) (int, error) {
	slog.Info("Starting continuous mode", "target_rps", rps, "duration", duration)

	ticker := time.NewTicker(time.Duration(float64(time.Second) / rps))
	defer ticker.Stop()

	deadline := time.Now().Add(duration)
	lastLog := time.Now()
	sent := 0
	for {
		select {
		case <-ctx.Done():
			slog.Warn("Continuous mode cancelled", "sent", sent)
			return sent, ctx.Err()
		case now := <-ticker.C:
			if now.After(deadline) {
				slog.Info("Duration reached", "total_sent", sent)
				return sent, nil
			}
			if err := pub.Publish(ctx, src.Generate()); err != nil {
				return sent, fmt.Errorf("failed to publish document: %w", err)
			}
			sent++
			if time.Since(lastLog) >= progressLogInterval {
				slog.Info("Progress update", "sent", sent)
				lastLog = time.Now()
			}
		}
	}
}
