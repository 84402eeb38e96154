package watchdog

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/adamstauffer/cyphon/internal/alert"
	"github.com/adamstauffer/cyphon/internal/document"
	"github.com/adamstauffer/cyphon/internal/events"
	"github.com/adamstauffer/cyphon/internal/retry"
	"github.com/adamstauffer/cyphon/internal/sieve"
)

// constNode is a sieve root with a fixed result.
type constNode bool

func (c constNode) Match(map[string]any) bool { return bool(c) }

func constSieve(name string, result bool) *sieve.Sieve {
	return sieve.New(name, constNode(result))
}

func eqSieve(t *testing.T, field string, value any) *sieve.Sieve {
	t.Helper()
	r, err := sieve.NewRule(field, sieve.Eq, value, false)
	if err != nil {
		t.Fatalf("NewRule() error = %v", err)
	}
	return sieve.New(fmt.Sprintf("%s=%v", field, value), r)
}

func mustMuzzle(t *testing.T, fields string, interval int, unit TimeUnit) *Muzzle {
	t.Helper()
	m, err := NewMuzzle(fields, interval, unit, true)
	if err != nil {
		t.Fatalf("NewMuzzle() error = %v", err)
	}
	return m
}

func TestWatchdog_InspectFirstMatchByRank(t *testing.T) {
	w, err := NewWatchdog("w", []*Trigger{
		{Sieve: constSieve("s2", true), Level: alert.Low, Rank: 2},
		{Sieve: constSieve("s0", false), Level: alert.Critical, Rank: 0},
		{Sieve: constSieve("s1", true), Level: alert.High, Rank: 1},
	}, alert.NewMemoryStore(0))
	if err != nil {
		t.Fatalf("NewWatchdog() error = %v", err)
	}

	level, ok := w.Inspect(map[string]any{})
	if !ok || level != alert.High {
		t.Errorf("Inspect() = %q, %v; want HIGH, true", level, ok)
	}
}

func TestWatchdog_InspectNoMatch(t *testing.T) {
	w, err := NewWatchdog("w", []*Trigger{
		{Sieve: constSieve("s0", false), Level: alert.Critical, Rank: 0},
	}, alert.NewMemoryStore(0))
	if err != nil {
		t.Fatalf("NewWatchdog() error = %v", err)
	}
	if level, ok := w.Inspect(map[string]any{}); ok {
		t.Errorf("Inspect() = %q, want no match", level)
	}
}

func TestNewWatchdog_InvalidTriggers(t *testing.T) {
	store := alert.NewMemoryStore(0)
	s := constSieve("s", true)

	tests := []struct {
		name     string
		triggers []*Trigger
	}{
		{name: "duplicate rank", triggers: []*Trigger{
			{Sieve: s, Level: alert.High, Rank: 1},
			{Sieve: constSieve("other", true), Level: alert.Low, Rank: 1},
		}},
		{name: "duplicate sieve", triggers: []*Trigger{
			{Sieve: s, Level: alert.High, Rank: 1},
			{Sieve: s, Level: alert.Low, Rank: 2},
		}},
		{name: "missing sieve", triggers: []*Trigger{{Level: alert.High}}},
		{name: "unknown level", triggers: []*Trigger{{Sieve: s, Level: "SEVERE"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewWatchdog("w", tt.triggers, store); err == nil {
				t.Error("NewWatchdog() error = nil, want error")
			}
		})
	}
}

func TestWatchdog_ProcessDisabledOrUnmatched(t *testing.T) {
	store := alert.NewMemoryStore(0)
	w, err := NewWatchdog("w", []*Trigger{
		{Sieve: eqSieve(t, "subject", "foo"), Level: alert.High, Rank: 0},
	}, store)
	if err != nil {
		t.Fatalf("NewWatchdog() error = %v", err)
	}

	a, err := w.Process(context.Background(), document.New(map[string]any{"subject": "bar"}, "d1", "mail"))
	if a != nil || err != nil {
		t.Errorf("Process(unmatched) = %v, %v; want nil, nil", a, err)
	}

	w.Enabled = false
	a, err = w.Process(context.Background(), document.New(map[string]any{"subject": "foo"}, "d2", "mail"))
	if a != nil || err != nil {
		t.Errorf("Process(disabled) = %v, %v; want nil, nil", a, err)
	}
	if n := len(store.All()); n != 0 {
		t.Errorf("store has %d alerts, want 0", n)
	}
}

func TestWatchdog_ProcessPublishesAlertCreated(t *testing.T) {
	bus := events.NewBus()
	var got []*events.AlertCreated
	bus.Subscribe(events.HandlerFunc(func(_ context.Context, evt *events.AlertCreated) error {
		got = append(got, evt)
		return nil
	}))

	w, err := NewWatchdog("w", []*Trigger{
		{Sieve: constSieve("all", true), Level: alert.Medium, Rank: 0},
	}, alert.NewMemoryStore(0), WithBus(bus))
	if err != nil {
		t.Fatalf("NewWatchdog() error = %v", err)
	}

	a, err := w.Process(context.Background(), document.New(map[string]any{}, "d1", "mail"))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(got) != 1 || got[0].AlertID != a.ID || got[0].Level != "MEDIUM" || got[0].Source != "mail" {
		t.Errorf("published events = %+v, want one for alert %s", got, a.ID)
	}
}

func TestMuzzle_Suppression(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name           string
		candidateTo    string
		wantSuppressed bool
		wantAlerts     int
	}{
		{name: "matching fields", candidateTo: "bar", wantSuppressed: true, wantAlerts: 1},
		{name: "field mismatch", candidateTo: "baz", wantSuppressed: false, wantAlerts: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := alert.NewMemoryStore(0)
			store.Put(&alert.Alert{
				ID: "original", Level: alert.High, Watchdog: "w", Source: "S",
				DocID: "d0", Data: map[string]any{"to": "bar"}, Incidents: 1, CreatedAt: t0,
			})

			w, err := NewWatchdog("w", []*Trigger{
				{Sieve: constSieve("all", true), Level: alert.High, Rank: 0},
			}, store,
				WithMuzzle(mustMuzzle(t, "to", 60, Minutes)),
				WithClock(func() time.Time { return t0.Add(time.Minute) }),
			)
			if err != nil {
				t.Fatalf("NewWatchdog() error = %v", err)
			}

			outcome, a, err := w.Evaluate(ctx, document.New(map[string]any{"to": tt.candidateTo}, "d1", "S"))
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if (outcome == Suppressed) != tt.wantSuppressed {
				t.Errorf("outcome = %s, want suppressed=%v", outcome, tt.wantSuppressed)
			}
			if tt.wantSuppressed && a != nil {
				t.Errorf("Evaluate() alert = %+v, want nil", a)
			}

			original, err := store.Get(ctx, "original")
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			wantIncidents := 1
			if tt.wantSuppressed {
				wantIncidents = 2
			}
			if original.Incidents != wantIncidents {
				t.Errorf("original incidents = %d, want %d", original.Incidents, wantIncidents)
			}
			if n := len(store.All()); n != tt.wantAlerts {
				t.Errorf("store has %d alerts, want %d", n, tt.wantAlerts)
			}
		})
	}
}

func TestMuzzle_IsMatch(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	key := alert.LockKey{Source: "S", Level: alert.High, Watchdog: "w"}

	tests := []struct {
		name      string
		fields    string
		enabled   bool
		prior     map[string]any
		priorAt   time.Time
		candidate map[string]any
		want      bool
	}{
		{name: "match", fields: "to", enabled: true, prior: map[string]any{"to": "bar"}, priorAt: t0, candidate: map[string]any{"to": "bar"}, want: true},
		{name: "disabled", fields: "to", enabled: false, prior: map[string]any{"to": "bar"}, priorAt: t0, candidate: map[string]any{"to": "bar"}, want: false},
		{name: "outside window", fields: "to", enabled: true, prior: map[string]any{"to": "bar"}, priorAt: t0.Add(-2 * time.Hour), candidate: map[string]any{"to": "bar"}, want: false},
		{name: "absent in both", fields: "to, cc", enabled: true, prior: map[string]any{"to": "bar"}, priorAt: t0, candidate: map[string]any{"to": "bar"}, want: true},
		{name: "absent in one", fields: "to,cc", enabled: true, prior: map[string]any{"to": "bar", "cc": "x"}, priorAt: t0, candidate: map[string]any{"to": "bar"}, want: false},
		{name: "absent equals null", fields: "to,cc", enabled: true, prior: map[string]any{"to": "bar", "cc": nil}, priorAt: t0, candidate: map[string]any{"to": "bar"}, want: true},
		{name: "null in one", fields: "cc", enabled: true, prior: map[string]any{"cc": nil}, priorAt: t0, candidate: map[string]any{"cc": "x"}, want: false},
		{name: "nested field", fields: "headers.from", enabled: true, prior: map[string]any{"headers": map[string]any{"from": "a"}}, priorAt: t0, candidate: map[string]any{"headers": map[string]any{"from": "a"}}, want: true},
		{name: "numeric kinds", fields: "port", enabled: true, prior: map[string]any{"port": 22}, priorAt: t0, candidate: map[string]any{"port": 22.0}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := alert.NewMemoryStore(0)
			store.Put(&alert.Alert{ID: "p", Level: alert.High, Watchdog: "w", Source: "S", Data: tt.prior, Incidents: 1, CreatedAt: tt.priorAt})

			m, err := NewMuzzle(tt.fields, 60, Minutes, tt.enabled)
			if err != nil {
				t.Fatalf("NewMuzzle() error = %v", err)
			}

			var got bool
			err = store.WithLock(ctx, key, func(ctx context.Context, tx alert.Tx) error {
				candidate := &alert.Alert{Level: alert.High, Watchdog: "w", Source: "S", Data: tt.candidate}
				var err error
				got, err = m.IsMatch(ctx, tx, candidate, t0.Add(time.Minute))
				return err
			})
			if err != nil {
				t.Fatalf("WithLock() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("IsMatch() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMuzzle_IncrementsOldest(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := alert.NewMemoryStore(0)
	for i, id := range []string{"newer", "oldest", "middle"} {
		store.Put(&alert.Alert{
			ID: id, Level: alert.High, Watchdog: "w", Source: "S",
			Data: map[string]any{"to": "bar"}, Incidents: 1,
			CreatedAt: t0.Add(time.Duration([]int{10, 1, 5}[i]) * time.Minute),
		})
	}
	m := mustMuzzle(t, "to", 1, Hours)

	err := store.WithLock(ctx, alert.LockKey{Source: "S", Level: alert.High, Watchdog: "w"}, func(ctx context.Context, tx alert.Tx) error {
		_, err := m.IsMatch(ctx, tx, &alert.Alert{Level: alert.High, Watchdog: "w", Source: "S", Data: map[string]any{"to": "bar"}}, t0.Add(20*time.Minute))
		return err
	})
	if err != nil {
		t.Fatalf("WithLock() error = %v", err)
	}

	for _, a := range store.All() {
		want := 1
		if a.ID == "oldest" {
			want = 2
		}
		if a.Incidents != want {
			t.Errorf("alert %s incidents = %d, want %d", a.ID, a.Incidents, want)
		}
	}
}

func TestNewMuzzle(t *testing.T) {
	tests := []struct {
		name       string
		fields     string
		interval   int
		unit       TimeUnit
		wantErr    bool
		wantFields []string
		wantWindow time.Duration
	}{
		{name: "minutes", fields: "to, from ,, subject ", interval: 60, unit: Minutes, wantFields: []string{"to", "from", "subject"}, wantWindow: time.Hour},
		{name: "days", fields: "to", interval: 2, unit: "D", wantFields: []string{"to"}, wantWindow: 48 * time.Hour},
		{name: "seconds", fields: "", interval: 30, unit: Seconds, wantFields: []string{}, wantWindow: 30 * time.Second},
		{name: "zero interval", fields: "to", interval: 0, unit: Minutes, wantErr: true},
		{name: "negative interval", fields: "to", interval: -5, unit: Minutes, wantErr: true},
		{name: "unknown unit", fields: "to", interval: 5, unit: "w", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewMuzzle(tt.fields, tt.interval, tt.unit, true)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewMuzzle() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			got := m.Fields()
			if len(got) != len(tt.wantFields) {
				t.Fatalf("Fields() = %v, want %v", got, tt.wantFields)
			}
			for i := range got {
				if got[i] != tt.wantFields[i] {
					t.Errorf("Fields() = %v, want %v", got, tt.wantFields)
				}
			}
			if m.Window() != tt.wantWindow {
				t.Errorf("Window() = %v, want %v", m.Window(), tt.wantWindow)
			}
		})
	}
}

func TestWatchdog_ConcurrentDuplicatesYieldOneAlert(t *testing.T) {
	const workers = 20
	ctx := context.Background()
	store := alert.NewMemoryStore(30 * time.Second)

	w, err := NewWatchdog("w", []*Trigger{
		{Sieve: eqSieve(t, "subject", "CRIT-111"), Level: alert.Critical, Rank: 0},
	}, store, WithMuzzle(mustMuzzle(t, "subject,to", 60, Minutes)))
	if err != nil {
		t.Fatalf("NewWatchdog() error = %v", err)
	}
	doc := document.New(map[string]any{"subject": "CRIT-111", "to": "ops"}, "doc-1", "mail")

	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make(chan error, workers)
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := w.Process(ctx, doc); err != nil {
				errs <- err
			}
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Process() error = %v", err)
	}

	all := store.All()
	if len(all) != 1 {
		t.Fatalf("store has %d alerts, want 1", len(all))
	}
	if all[0].Incidents != workers {
		t.Errorf("incidents = %d, want %d", all[0].Incidents, workers)
	}
}

// timeoutOnceStore fails the first WithLock call with ErrLockTimeout.
type timeoutOnceStore struct {
	*alert.MemoryStore
	mu    sync.Mutex
	calls int
}

func (s *timeoutOnceStore) WithLock(ctx context.Context, key alert.LockKey, fn func(context.Context, alert.Tx) error) error {
	s.mu.Lock()
	s.calls++
	first := s.calls == 1
	s.mu.Unlock()
	if first {
		return fmt.Errorf("%w: %s", alert.ErrLockTimeout, key)
	}
	return s.MemoryStore.WithLock(ctx, key, fn)
}

func TestManager_Process(t *testing.T) {
	ctx := context.Background()
	store := &timeoutOnceStore{MemoryStore: alert.NewMemoryStore(0)}

	all, _ := NewWatchdog("all", []*Trigger{{Sieve: constSieve("any", true), Level: alert.Low, Rank: 0}}, store)
	mailOnly, _ := NewWatchdog("mail-only", []*Trigger{{Sieve: constSieve("any", true), Level: alert.High, Rank: 0}}, store, WithCategories("email"))
	logsOnly, _ := NewWatchdog("logs-only", []*Trigger{{Sieve: constSieve("any", true), Level: alert.High, Rank: 0}}, store, WithCategories("logs"))
	disabled, _ := NewWatchdog("disabled", []*Trigger{{Sieve: constSieve("any", true), Level: alert.High, Rank: 0}}, store)
	disabled.Enabled = false

	m := NewManager([]*Watchdog{all, mailOnly, logsOnly, disabled}, map[string][]string{
		"imap.inbox": {"email"},
	})
	m.SetRetryConfig(retry.Config{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffFactor: 1})

	relevant := m.FindRelevant("imap.inbox")
	if len(relevant) != 2 || relevant[0].Name != "all" || relevant[1].Name != "mail-only" {
		t.Fatalf("FindRelevant() = %v, want [all mail-only]", names(relevant))
	}
	if got := m.FindRelevant("unknown"); len(got) != 1 || got[0].Name != "all" {
		t.Errorf("FindRelevant(unknown) = %v, want [all]", names(got))
	}

	res := m.Process(ctx, document.New(map[string]any{}, "d1", "imap.inbox"))
	if len(res.Errors) != 0 {
		t.Fatalf("Process() errors = %v", res.Errors)
	}
	if len(res.Alerts) != 2 {
		t.Errorf("Process() alerts = %d, want 2", len(res.Alerts))
	}
	if res.Retryable() {
		t.Error("Retryable() = true, want false")
	}
}

func TestResult_Retryable(t *testing.T) {
	res := Result{Errors: []error{fmt.Errorf("watchdog w: %w", alert.ErrLockTimeout)}}
	if !res.Retryable() {
		t.Error("Retryable() = false, want true")
	}
}

func names(ws []*Watchdog) []string {
	out := make([]string, len(ws))
	for i, w := range ws {
		out[i] = w.Name
	}
	return out
}
