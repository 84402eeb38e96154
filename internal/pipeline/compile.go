package pipeline

import (
	"fmt"
	"log/slog"

	"github.com/adamstauffer/cyphon/internal/alert"
	"github.com/adamstauffer/cyphon/internal/chute"
	"github.com/adamstauffer/cyphon/internal/condenser"
	"github.com/adamstauffer/cyphon/internal/events"
	"github.com/adamstauffer/cyphon/internal/munger"
	"github.com/adamstauffer/cyphon/internal/platform"
	"github.com/adamstauffer/cyphon/internal/sieve"
	"github.com/adamstauffer/cyphon/internal/watchdog"
)

// Deps are the runtime collaborators a compiled pipeline is wired to.
type Deps struct {
	Records   munger.RecordStore
	Alerts    alert.Store
	Bus       *events.Bus        // optional
	Platforms *platform.Registry // optional; defaults to platform.DefaultRegistry
	Counter   chute.Counter      // optional
	// MaxChuteConcurrency bounds concurrent chutes per document; 0 uses the chute default.
	MaxChuteConcurrency int
}

// Pipeline is a compiled, immutable configuration.
type Pipeline struct {
	Sifter  *chute.Sifter
	Manager *watchdog.Manager
	Sieves  map[string]*sieve.Sieve
	Mungers map[string]*munger.Munger
}

// Compile validates cfg and builds the runtime objects.
func Compile(cfg *Config, deps Deps) (*Pipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("pipeline config cannot be nil")
	}
	if deps.Records == nil {
		return nil, fmt.Errorf("record store cannot be nil")
	}
	if deps.Alerts == nil {
		return nil, fmt.Errorf("alert store cannot be nil")
	}
	if deps.Platforms == nil {
		deps.Platforms = platform.DefaultRegistry()
	}

	sources, err := compileSources(cfg.Sources)
	if err != nil {
		return nil, err
	}
	sieves, err := compileSieves(cfg.Sieves)
	if err != nil {
		return nil, err
	}
	mungers, err := compileMungers(cfg.Condensers, cfg.Mungers, deps.Records)
	if err != nil {
		return nil, err
	}
	chutes, err := compileChutes(cfg.Chutes, sources, sieves, mungers, deps.Platforms)
	if err != nil {
		return nil, err
	}
	watchdogs, err := compileWatchdogs(cfg.Watchdogs, sieves, deps)
	if err != nil {
		return nil, err
	}

	sifterOpts := []chute.SifterOption{
		chute.WithDefaultMunger(defaultMunger(cfg.Defaults, "", mungers), cfg.Defaults.IsEnabled()),
		chute.WithMaxConcurrency(deps.MaxChuteConcurrency),
		chute.WithCounter(deps.Counter),
	}
	for _, sc := range cfg.Sources {
		if !sc.HasDefaults() {
			continue
		}
		d := sc.Defaults(cfg.Defaults)
		sifterOpts = append(sifterOpts, chute.WithSourceDefault(sc.Name, defaultMunger(d, sc.Name, mungers), d.IsEnabled()))
	}

	return &Pipeline{
		Sifter:  chute.NewSifter(chutes, sifterOpts...),
		Manager: watchdog.NewManager(watchdogs, sources),
		Sieves:  sieves,
		Mungers: mungers,
	}, nil
}

// defaultMunger resolves the fallback munger of d. A missing munger is logged and
// reported per document by the sifter.
func defaultMunger(d DefaultsConfig, source string, mungers map[string]*munger.Munger) *munger.Munger {
	m := mungers[d.MungerName()]
	if d.IsEnabled() && m == nil {
		slog.Error("Default munger is not configured; unmatched documents will not be saved",
			"munger", d.MungerName(),
			"source", source,
		)
	}
	return m
}

func compileSources(cfgs []SourceConfig) (map[string][]string, error) {
	sources := make(map[string][]string, len(cfgs))
	for _, s := range cfgs {
		if s.Name == "" {
			return nil, fmt.Errorf("source name cannot be empty")
		}
		if _, dup := sources[s.Name]; dup {
			return nil, fmt.Errorf("duplicate source: %s", s.Name)
		}
		sources[s.Name] = s.Categories
	}
	return sources, nil
}

func compileSieves(cfgs []SieveConfig) (map[string]*sieve.Sieve, error) {
	sieves := make(map[string]*sieve.Sieve, len(cfgs))
	for _, sc := range cfgs {
		if sc.Name == "" {
			return nil, fmt.Errorf("sieve name cannot be empty")
		}
		if _, dup := sieves[sc.Name]; dup {
			return nil, fmt.Errorf("duplicate sieve: %s", sc.Name)
		}
		root, err := compileGroup(sc)
		if err != nil {
			return nil, fmt.Errorf("sieve %s: %w", sc.Name, err)
		}
		sieves[sc.Name] = sieve.New(sc.Name, root)
	}
	return sieves, nil
}

func compileGroup(sc SieveConfig) (*sieve.Group, error) {
	logic, err := sieve.ParseLogic(sc.Logic)
	if err != nil {
		return nil, err
	}
	g := &sieve.Group{Logic: logic, Negate: sc.Negate}
	for _, rc := range sc.Rules {
		r, err := sieve.NewRule(rc.Field, sieve.Operator(rc.Operator), rc.Value, rc.Negate)
		if err != nil {
			return nil, err
		}
		g.Nodes = append(g.Nodes, r)
	}
	for _, child := range sc.Groups {
		cg, err := compileGroup(child)
		if err != nil {
			return nil, err
		}
		g.Nodes = append(g.Nodes, cg)
	}
	return g, nil
}

func compileMungers(condensers []CondenserConfig, cfgs []MungerConfig, store munger.RecordStore) (map[string]*munger.Munger, error) {
	byName := make(map[string]*condenser.Condenser, len(condensers))
	for _, cc := range condensers {
		if _, dup := byName[cc.Name]; dup {
			return nil, fmt.Errorf("duplicate condenser: %s", cc.Name)
		}
		fittings := make([]condenser.Fitting, len(cc.Fittings))
		for i, f := range cc.Fittings {
			fittings[i] = condenser.Fitting{
				Target:   f.Target,
				Source:   f.Source,
				Type:     condenser.FieldType(f.Type),
				Pattern:  f.Pattern,
				Default:  f.Default,
				Required: f.Required,
			}
		}
		c, err := condenser.New(cc.Name, fittings)
		if err != nil {
			return nil, err
		}
		byName[cc.Name] = c
	}

	mungers := make(map[string]*munger.Munger, len(cfgs))
	for _, mc := range cfgs {
		if _, dup := mungers[mc.Name]; dup {
			return nil, fmt.Errorf("duplicate munger: %s", mc.Name)
		}
		c, ok := byName[mc.Condenser]
		if !ok {
			return nil, fmt.Errorf("munger %s: unknown condenser %s", mc.Name, mc.Condenser)
		}
		m, err := munger.New(mc.Name, mc.Distillery, c, store)
		if err != nil {
			return nil, err
		}
		mungers[mc.Name] = m
	}
	return mungers, nil
}

func compileChutes(cfgs []ChuteConfig, sources map[string][]string, sieves map[string]*sieve.Sieve, mungers map[string]*munger.Munger, platforms *platform.Registry) ([]*chute.Chute, error) {
	type binding struct{ sieve, munger string }
	names := make(map[string]bool, len(cfgs))
	bindings := make(map[binding]string, len(cfgs))

	chutes := make([]*chute.Chute, 0, len(cfgs))
	for _, cc := range cfgs {
		if names[cc.Name] {
			return nil, fmt.Errorf("duplicate chute: %s", cc.Name)
		}
		names[cc.Name] = true

		var s *sieve.Sieve
		if cc.Sieve != "" {
			var ok bool
			if s, ok = sieves[cc.Sieve]; !ok {
				return nil, fmt.Errorf("chute %s: unknown sieve %s", cc.Name, cc.Sieve)
			}
		}
		m, ok := mungers[cc.Munger]
		if !ok {
			return nil, fmt.Errorf("chute %s: unknown munger %s", cc.Name, cc.Munger)
		}
		b := binding{cc.Sieve, cc.Munger}
		if other, dup := bindings[b]; dup {
			return nil, fmt.Errorf("chute %s: sieve %q and munger %q are already bound by chute %s", cc.Name, cc.Sieve, cc.Munger, other)
		}
		bindings[b] = cc.Name

		var p munger.Platform
		if cc.Platform != "" {
			h, err := platforms.Get(cc.Platform)
			if err != nil {
				return nil, fmt.Errorf("chute %s: %w", cc.Name, err)
			}
			p = h
		}

		for _, src := range cc.Sources {
			if _, ok := sources[src]; !ok {
				return nil, fmt.Errorf("chute %s: unknown source %s", cc.Name, src)
			}
		}

		c, err := chute.New(cc.Name, s, m, p)
		if err != nil {
			return nil, err
		}
		c.Enabled = enabled(cc.Enabled)
		c.Sources = cc.Sources
		chutes = append(chutes, c)
	}
	return chutes, nil
}

func compileWatchdogs(cfgs []WatchdogConfig, sieves map[string]*sieve.Sieve, deps Deps) ([]*watchdog.Watchdog, error) {
	names := make(map[string]bool, len(cfgs))
	watchdogs := make([]*watchdog.Watchdog, 0, len(cfgs))
	for _, wc := range cfgs {
		if names[wc.Name] {
			return nil, fmt.Errorf("duplicate watchdog: %s", wc.Name)
		}
		names[wc.Name] = true

		triggers := make([]*watchdog.Trigger, 0, len(wc.Triggers))
		for _, tc := range wc.Triggers {
			s, ok := sieves[tc.Sieve]
			if !ok {
				return nil, fmt.Errorf("watchdog %s: unknown sieve %s", wc.Name, tc.Sieve)
			}
			level, err := alert.ParseLevel(tc.Level)
			if err != nil {
				return nil, fmt.Errorf("watchdog %s: %w", wc.Name, err)
			}
			triggers = append(triggers, &watchdog.Trigger{Sieve: s, Level: level, Rank: tc.Rank})
		}

		opts := []watchdog.Option{watchdog.WithCategories(wc.Categories...)}
		if deps.Bus != nil {
			opts = append(opts, watchdog.WithBus(deps.Bus))
		}
		if mc := wc.Muzzle; mc != nil {
			m, err := watchdog.NewMuzzle(mc.MatchingFields, mc.TimeInterval, watchdog.TimeUnit(mc.TimeUnit), enabled(mc.Enabled))
			if err != nil {
				return nil, fmt.Errorf("watchdog %s: %w", wc.Name, err)
			}
			opts = append(opts, watchdog.WithMuzzle(m))
		}

		w, err := watchdog.NewWatchdog(wc.Name, triggers, deps.Alerts, opts...)
		if err != nil {
			return nil, err
		}
		w.Enabled = enabled(wc.Enabled)
		watchdogs = append(watchdogs, w)
	}
	return watchdogs, nil
}
