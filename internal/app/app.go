// Package app wires the kit engine from configuration and host ports.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"uniquekits.dev/internal/config"
	"uniquekits.dev/internal/cooldown"
	"uniquekits.dev/internal/economy"
	"uniquekits.dev/internal/eligibility"
	"uniquekits.dev/internal/grant"
	"uniquekits.dev/internal/host"
	"uniquekits.dev/internal/importer"
	"uniquekits.dev/internal/kit"
	"uniquekits.dev/internal/menu"
	"uniquekits.dev/internal/persistence/indexdb"
	"uniquekits.dev/internal/persistence/kv"
	plog "uniquekits.dev/internal/persistence/log"
	"uniquekits.dev/internal/persistence/records"
	"uniquekits.dev/internal/registry"
	"uniquekits.dev/internal/schedule"
	"uniquekits.dev/internal/session"
	"uniquekits.dev/internal/watch"
)

// Host carries the ports the embedding environment provides. Sink is
// required.
type Host struct {
	Sink       host.Sink
	Effects    host.EffectApplier
	Dispatcher host.Dispatcher
	Cue        host.Cue
	Greeter    host.Greeter
	// Economy overrides the built-in ledger.
	Economy  host.Economy
	Executor schedule.Executor
}

type App struct {
	Config config.Config
	Log    *zap.Logger

	Store     kv.Store
	Ledger    *economy.Ledger
	Evaluator *eligibility.Evaluator
	Kits      *registry.Registry
	Records   *records.Manager
	Cooldowns *cooldown.Store
	Engine    *grant.Engine
	Queue     *schedule.Queue
	Sessions  *session.Manager
	Menu      *menu.Menu

	Journal *plog.Journal
	Index   *indexdb.SQLiteIndex
	Watcher *watch.Watcher

	kitsPath string
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	once     sync.Once
}

// New builds the engine, loads kits and seeds the starter kit when enabled.
// Background work starts with Start.
func New(ctx context.Context, cfg config.Config, h Host, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if h.Sink == nil {
		return nil, errors.New("app: host sink is required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Log: log}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	storePath := cfg.Resolve(cfg.Store.Path)
	st, err := kv.Open(cfg.Store.Backend, storePath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.Store = st

	econ := h.Economy
	if econ == nil && cfg.Hooks.Economy {
		a.Ledger = economy.NewLedger(st)
		econ = a.Ledger
	}
	if econ == nil {
		log.Info("no economy provider, money requirements and costs will fail")
	}

	a.Evaluator = eligibility.New(econ, log.Named("eligibility"))

	var src registry.Source
	switch cfg.Kits.Source {
	case "kv":
		src = kit.NewKVSource(st)
	default:
		a.kitsPath = cfg.Resolve(cfg.Kits.File)
		src = kit.NewFileSource(a.kitsPath)
	}
	a.Kits = registry.New(src, a.Evaluator, log.Named("registry"))

	if cfg.Index.Enabled {
		idx, err := indexdb.OpenSQLite(cfg.Resolve(cfg.Index.Path), log)
		if err != nil {
			return nil, fmt.Errorf("open index: %w", err)
		}
		a.Index = idx
		a.Kits.OnChange(func(defs []kit.Definition) {
			if err := idx.UpsertKits(context.Background(), defs); err != nil {
				log.Warn("index kits", zap.Error(err))
			}
		})
	}

	if _, err := a.Kits.Load(ctx); err != nil {
		return nil, err
	}
	if cfg.Kits.SeedStarter {
		if _, err := a.Kits.EnsureStarter(ctx); err != nil {
			return nil, fmt.Errorf("seed starter kit: %w", err)
		}
	}

	a.Records = records.NewManager(st, records.WithLogger(log))
	a.Cooldowns = cooldown.New(a.Records)

	var recorders []grant.Recorder
	if cfg.Journal.Enabled {
		a.Journal = plog.NewJournal(cfg.Resolve(cfg.Journal.Dir), log)
		recorders = append(recorders, a.Journal)
	}
	if a.Index != nil {
		recorders = append(recorders, a.Index)
	}

	a.Engine = grant.New(grant.Deps{
		Kits:          a.Kits,
		Evaluator:     a.Evaluator,
		Cooldowns:     a.Cooldowns,
		Records:       a.Records,
		Sink:          h.Sink,
		Economy:       econ,
		Effects:       h.Effects,
		Dispatcher:    h.Dispatcher,
		Cue:           h.Cue,
		Recorders:     recorders,
		Logger:        log,
		Overflow:      grant.OverflowPolicy(cfg.Grant.Overflow),
		FlushOnCommit: cfg.Grant.FlushOnCommit,
	})

	var qopts []schedule.Option
	if h.Executor != nil {
		qopts = append(qopts, schedule.WithExecutor(h.Executor))
	}
	a.Queue = schedule.New(qopts...)

	a.Sessions = session.New(context.WithoutCancel(ctx), session.Deps{
		Config:    cfg.SessionConfig(),
		Kits:      a.Kits,
		Grants:    a.Engine,
		Cooldowns: a.Cooldowns,
		Records:   a.Records,
		Queue:     a.Queue,
		Greeter:   h.Greeter,
		Logger:    log,
	})
	a.Menu = menu.New(a.Kits, a.Evaluator, a.Cooldowns, a.Engine, log)

	ok = true
	return a, nil
}

// Start runs the autosaver and, for file-backed kits, the reload watcher.
func (a *App) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.Records.Run(ctx, a.Config.Store.Autosave)
	}()

	if a.Config.Watch.Enabled && a.kitsPath != "" {
		w, err := watch.New(a.kitsPath, a.Kits, a.Config.Watch.Debounce, a.Log)
		if err != nil {
			return fmt.Errorf("watch kits: %w", err)
		}
		if err := w.Start(ctx); err != nil {
			w.Stop()
			return fmt.Errorf("watch kits: %w", err)
		}
		a.Watcher = w
	}
	return nil
}

// ImportEssentials imports kits from the configured Essentials file. It
// returns a nil report when the file is absent.
func (a *App) ImportEssentials(ctx context.Context, path string) (*importer.Report, error) {
	if path == "" {
		path = a.Config.Hooks.EssentialsKits
	}
	ad := importer.DetectEssentials(path)
	if ad == nil {
		return nil, nil
	}
	rep, err := importer.ImportAll(ctx, ad, a.Kits, a.Log.Named("import"))
	if err != nil {
		return nil, err
	}
	return &rep, nil
}

// Close stops background work, ends every open session and flushes all
// records before closing storage.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	a.once.Do(func() {
		if a.Watcher != nil {
			a.Watcher.Stop()
		}
		if a.cancel != nil {
			a.cancel()
		}
		a.wg.Wait()
		if a.Queue != nil {
			a.Queue.Close()
		}
		if a.Sessions != nil {
			a.Sessions.EndAll(ctx)
		}
		if a.Records != nil {
			if err := a.Records.FlushAll(ctx); err != nil {
				errs = append(errs, fmt.Errorf("flush records: %w", err))
			}
		}
		if a.Journal != nil {
			errs = append(errs, a.Journal.Close())
		}
		if a.Index != nil {
			errs = append(errs, a.Index.Close())
		}
		if a.Store != nil {
			errs = append(errs, a.Store.Close())
		}
	})
	return errors.Join(errs...)
}
