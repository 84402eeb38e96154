// Package generator builds synthetic documents for load and end-to-end testing.
// A non-zero seed makes the output reproducible.
package generator

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/adamstauffer/cyphon/internal/document"
)

// Collections the generator knows how to shape documents for. Any other collection
// gets a plain message document.
const (
	CollectionMail   = "imap.inbox"
	CollectionSyslog = "syslog.auth"
)

// DefaultDistribution spreads documents over the built-in collections.
const DefaultDistribution = "imap.inbox:50,syslog.auth:50"

// criticalProbability is how often a mail subject carries a ticket tag.
const criticalProbability = 0.2

type weightedValue struct {
	value  string
	weight int
}

// Generator creates documents according to a weighted collection distribution.
type Generator struct {
	rng         *rand.Rand
	collections []weightedValue
	now         func() time.Time
}

// New creates a generator. dist uses the ParseDistribution format.
func New(dist string, seed int64) (*Generator, error) {
	weights, err := ParseDistribution(dist)
	if err != nil {
		return nil, err
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	g := &Generator{
		rng: rand.New(rand.NewPCG(uint64(seed), uint64(seed>>1))),
		now: time.Now,
	}
	for value, weight := range weights {
		g.collections = append(g.collections, weightedValue{value: value, weight: weight})
	}
	// Map order is random; sort so a seed always yields the same sequence.
	sort.Slice(g.collections, func(i, j int) bool { return g.collections[i].value < g.collections[j].value })
	return g, nil
}

// ParseDistribution parses "KEY1:PERCENT1,KEY2:PERCENT2" into a map of value to
// percentage. Percentages must sum to 100.
func ParseDistribution(dist string) (map[string]int, error) {
	if strings.TrimSpace(dist) == "" {
		return nil, fmt.Errorf("distribution string cannot be empty")
	}

	result := make(map[string]int)
	total := 0
	for _, part := range strings.Split(dist, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, ":")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid distribution format: %s (expected KEY:PERCENT)", part)
		}
		var percent int
		if _, err := fmt.Sscanf(strings.TrimSpace(value), "%d", &percent); err != nil {
			return nil, fmt.Errorf("invalid percentage in %s: %w", part, err)
		}
		if percent < 0 || percent > 100 {
			return nil, fmt.Errorf("percentage must be 0-100, got %d in %s", percent, part)
		}
		result[strings.TrimSpace(key)] = percent
		total += percent
	}
	if total != 100 {
		return nil, fmt.Errorf("distribution percentages must sum to 100, got %d", total)
	}
	return result, nil
}

// Generate creates the next document.
func (g *Generator) Generate() *document.Document {
	collection := g.selectWeighted(g.collections)
	var data map[string]any
	switch collection {
	case CollectionMail:
		data = g.mail()
	case CollectionSyslog:
		data = g.syslog()
	default:
		data = map[string]any{"message": "synthetic event " + g.selectFrom(hosts)}
	}
	return document.New(data, uuid.New().String(), collection)
}

var (
	senders  = []string{"alice@ops.example.com", "bob@ops.example.com", "noreply@vendor.example.net", "carol@example.org"}
	rcpts    = []string{"oncall", "security", "infra"}
	subjects = []string{"disk full", "backup finished", "certificate expires soon", "weekly report"}
	hosts    = []string{"web-1", "web-2", "db-1", "bastion"}
	users    = []string{"root", "admin", "deploy", "oracle"}
)

func (g *Generator) mail() map[string]any {
	subject := g.selectFrom(subjects)
	if g.rng.Float64() < criticalProbability {
		subject = fmt.Sprintf("[CRIT-%d] %s", 100+g.rng.IntN(900), subject)
	}
	return map[string]any{
		"from":    g.selectFrom(senders),
		"to":      g.selectFrom(rcpts),
		"subject": subject,
		"date":    g.now().UTC().Format(time.RFC3339),
	}
}

func (g *Generator) syslog() map[string]any {
	host := g.selectFrom(hosts)
	var text string
	switch g.rng.IntN(3) {
	case 0:
		text = fmt.Sprintf("Failed password for %s from 10.0.0.%d port 22 ssh2", g.selectFrom(users), g.rng.IntN(255))
	case 1:
		text = fmt.Sprintf("Invalid user %s from 10.0.1.%d", g.selectFrom(users), g.rng.IntN(255))
	default:
		text = fmt.Sprintf("Accepted publickey for %s", g.selectFrom(users))
	}
	return map[string]any{
		"host":    host,
		"message": fmt.Sprintf("%s %s sshd[%d]: %s", g.now().UTC().Format(time.Stamp), host, 1000+g.rng.IntN(9000), text),
	}
}

func (g *Generator) selectWeighted(choices []weightedValue) string {
	total := 0
	for _, c := range choices {
		total += c.weight
	}
	if total == 0 {
		return "unknown"
	}

	r := g.rng.IntN(total)
	cumulative := 0
	for _, c := range choices {
		cumulative += c.weight
		if r < cumulative {
			return c.value
		}
	}
	return choices[len(choices)-1].value
}

func (g *Generator) selectFrom(choices []string) string {
	return choices[g.rng.IntN(len(choices))]
}
