package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adamstauffer/cyphon/internal/generator"
	"github.com/adamstauffer/cyphon/internal/producer"
	"github.com/adamstauffer/cyphon/pkg/shared"
)

type options struct {
	KafkaBrokers string
	Topic        string
	Encoding     string
	Distribution string
	Seed         int64
	RPS          float64
	Duration     time.Duration
	BurstSize    int
}

func (o *options) validate() error {
	if o.KafkaBrokers == "" {
		return fmt.Errorf("kafka-brokers cannot be empty")
	}
	if o.Topic == "" {
		return fmt.Errorf("topic cannot be empty")
	}
	if o.RPS <= 0 && o.BurstSize <= 0 {
		return fmt.Errorf("rps must be > 0 or burst must be > 0")
	}
	if o.BurstSize == 0 && o.Duration <= 0 {
		return fmt.Errorf("duration must be > 0 when not in burst mode")
	}
	if _, err := producer.ParseEncoding(o.Encoding); err != nil {
		return err
	}
	if _, err := generator.ParseDistribution(o.Distribution); err != nil {
		return fmt.Errorf("invalid collection-dist: %w", err)
	}
	return nil
}

func main() {
	opts := &options{}
	flag.StringVar(&opts.KafkaBrokers, "kafka-brokers", shared.GetEnvOrDefault("KAFKA_BROKERS", "localhost:9092"), "Kafka broker addresses (comma-separated)")
	flag.StringVar(&opts.Topic, "topic", shared.GetEnvOrDefault("DOCUMENTS_TOPIC", "documents"), "Kafka topic to publish documents to")
	flag.StringVar(&opts.Encoding, "encoding", shared.GetEnvOrDefault("ENCODING", string(producer.EncodingJSON)), "Payload encoding: json or protobuf")
	flag.StringVar(&opts.Distribution, "collection-dist", shared.GetEnvOrDefault("COLLECTION_DIST", generator.DefaultDistribution), "Weighted collections, e.g. imap.inbox:50,syslog.auth:50")
	flag.Int64Var(&opts.Seed, "seed", 0, "RNG seed (0 uses the current time)")
	flag.Float64Var(&opts.RPS, "rps", 10, "Documents per second in continuous mode")
	flag.DurationVar(&opts.Duration, "duration", time.Minute, "How long to run in continuous mode")
	flag.IntVar(&opts.BurstSize, "burst", 0, "Publish this many documents at once and exit (0 uses continuous mode)")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if err := opts.validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	gen, err := generator.New(opts.Distribution, opts.Seed)
	if err != nil {
		slog.Error("Failed to create generator", "error", err)
		os.Exit(1)
	}

	pub, err := producer.NewDocumentProducer(opts.KafkaBrokers, opts.Topic, producer.Encoding(opts.Encoding))
	if err != nil {
		slog.Error("Failed to create Kafka producer", "error", err)
		os.Exit(1)
	}
	defer pub.Close()

	if opts.BurstSize > 0 {
		_, err = runBurst(ctx, gen, pub, opts.BurstSize)
	} else {
		_, err = runContinuous(ctx, gen, pub, opts.RPS, opts.Duration)
	}
	if err != nil && ctx.Err() == nil {
		slog.Error("Document production failed", "error", err)
		os.Exit(1)
	}
}
