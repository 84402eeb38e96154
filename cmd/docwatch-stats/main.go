package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/adamstauffer/cyphon/pkg/metrics"
	"github.com/adamstauffer/cyphon/pkg/shared"
)

func main() {
	redisAddr := flag.String("redis-addr", shared.GetEnvOrDefault("REDIS_ADDR", "localhost:6379"), "Redis server address")
	service := flag.String("service", "", "Only show this service")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	})))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := shared.ConnectRedis(ctx, *redisAddr)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	reader := metrics.NewReader(client)
	names := []string{*service}
	if *service == "" {
		if names, err = reader.Services(ctx); err != nil {
			slog.Error("Failed to list services", "error", err)
			os.Exit(1)
		}
	}

	var snaps []*metrics.Snapshot
	for _, name := range names {
		snap, err := reader.Get(ctx, name)
		if err != nil {
			slog.Warn("Failed to read service metrics", "service", name, "error", err)
			snap = &metrics.Snapshot{Service: name, Status: "offline"}
		}
		snaps = append(snaps, snap)
	}

	if err := writeTable(os.Stdout, snaps); err != nil {
		slog.Error("Failed to write output", "error", err)
		os.Exit(1)
	}
}

func writeTable(out io.Writer, snaps []*metrics.Snapshot) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SERVICE\tSTATUS\tRECEIVED\tPROCESSED\tDROPPED\tERRORS\tDOCS/S\tAVG LATENCY\tCOUNTERS")
	for _, s := range snaps {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%.1f\t%s\t%s\n",
			s.Service,
			s.Status,
			s.DocumentsReceived,
			s.DocumentsProcessed,
			s.DocumentsDropped,
			s.ProcessingErrors,
			s.DocumentsPerSecond,
			time.Duration(s.AvgProcessingLatencyNs).Round(time.Microsecond),
			formatCounters(s.Counters),
		)
	}
	return w.Flush()
}

func formatCounters(counters map[string]uint64) string {
	if len(counters) == 0 {
		return "-"
	}
	names := make([]string, 0, len(counters))
	for name := range counters {
		names = append(names, name)
	}
	sort.Strings(names)

	var out string
	for i, name := range names {
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("%s=%d", name, counters[name])
	}
	return out
}
