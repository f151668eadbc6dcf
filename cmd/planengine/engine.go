package main

import (
	"context"
	"fmt"
	"time"

	"planengine/internal/audit"
	"planengine/internal/daemon"
	"planengine/internal/decision"
	"planengine/internal/directory"
	"planengine/internal/notify"
	"planengine/internal/progress"
	"planengine/internal/scope"
	"planengine/internal/service"
	"planengine/internal/stats"
	"planengine/internal/store"
	"planengine/internal/summary"
	"planengine/internal/todo"
)

// engine is every component wired against one store.
type engine struct {
	rt        *runtime
	loc       *time.Location
	store     *store.Store
	directory *directory.Static
	resolver  *scope.Resolver
	fabric    *notify.Fabric
	todos     *todo.Synthesizer
	audit     *audit.Recorder
	service   *service.Service
	summaries *summary.Composer
	sweeper   *daemon.Sweeper
}

func openEngine(ctx context.Context, rt *runtime) (*engine, error) {
	cfg := rt.cfg
	log := rt.log
	if err := rt.ws.EnsureDirs(); err != nil {
		return nil, err
	}
	dir, err := directory.LoadFile(cfg.DirectoryPath)
	if err != nil {
		return nil, fmt.Errorf("load directory: %w", err)
	}
	policy, err := scope.LoadPolicy(cfg.PolicyPath)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(ctx, cfg.StoreOptions())
	if err != nil {
		return nil, err
	}

	e := &engine{rt: rt, loc: cfg.Location(), store: st, directory: dir}
	e.resolver = scope.NewResolver(dir, policy, log)

	opts := []notify.Option{notify.WithDedupeWindow(cfg.Thresholds.DedupeWindow)}
	if cfg.Telegram.Token != "" {
		sink, err := notify.NewTelegramSink(cfg.Telegram.Token, e.telegramChat)
		if err != nil {
			st.Close()
			return nil, err
		}
		opts = append(opts, notify.WithSinks(sink))
		log.Info("telegram delivery enabled")
	}
	e.fabric = notify.New(st, e.resolver, log, opts...)
	e.todos = todo.New(st, e.resolver, e.fabric, e.loc, log)
	e.audit = audit.NewRecorder(st, log)

	e.service = service.New(service.Deps{
		Store:     st,
		Decisions: decision.New(st, e.fabric, e.todos, e.audit, log, decision.WithPreconditions(cfg.Preconditions)),
		Progress:  progress.New(st, e.fabric, e.todos, e.audit, log, time.Now),
		Todos:     e.todos,
		Stats:     stats.New(st, e.loc, cfg.Thresholds.StatsTTL, time.Now),
		Audit:     e.audit,
		Log:       log,
		Loc:       e.loc,
	})
	e.summaries = summary.New(st, e.resolver, e.fabric, e.loc, log)
	e.sweeper = daemon.NewSweeper(st, e.fabric, e.todos, cfg.Thresholds.DraftTimeout, cfg.Thresholds.ApprovalTimeout, log)
	return e, nil
}

func (e *engine) Close() error {
	return e.store.Close()
}

func (e *engine) telegramChat(ctx context.Context, userID string) int64 {
	u, err := e.directory.Profile(ctx, userID)
	if err != nil {
		return 0
	}
	return u.TelegramChatID
}

func (e *engine) companies(ctx context.Context) ([]string, error) {
	companies, err := e.directory.Companies(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(companies))
	for _, c := range companies {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

// daemon builds the scheduler and job runner.
func (e *engine) daemon() (*daemon.Daemon, error) {
	sched, err := daemon.NewScheduler(e.store, e.companies, daemon.DefaultSchedule(), e.loc, e.rt.log)
	if err != nil {
		return nil, err
	}
	handlers := daemon.Handlers(e.todos, e.summaries, e.sweeper)
	return daemon.New(e.store, sched, handlers, e.audit, e.rt.log, daemon.Config{
		LeaseFor:     e.rt.cfg.Daemon.Lease,
		PollInterval: e.rt.cfg.Daemon.PollInterval,
	}), nil
}
