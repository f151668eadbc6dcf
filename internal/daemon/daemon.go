// Package daemon runs the engine's scheduled jobs: a watermark scheduler
// fills the run ledger and a single cooperative runner drains it.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"planengine/internal/audit"
	"planengine/internal/store"
)

// Ledger is the run ledger and scheduler state.
type Ledger interface {
	GetKV(ctx context.Context, key string) (string, error)
	SetKV(ctx context.Context, key, value string) error
	EnqueueUnique(ctx context.Context, name, scopeKey, slotKey string, scheduledAt time.Time, payload any) (string, bool, error)
	ClaimNext(ctx context.Context, now time.Time, leaseOwner string, leaseFor time.Duration) (*store.Job, error)
	RequeueExpired(ctx context.Context, now time.Time) (int, error)
	SucceedJob(ctx context.Context, id string, result any) error
	FailJob(ctx context.Context, id string, jobErr error) error
}

// Handler runs one claimed job. It should return promptly once ctx is
// cancelled.
type Handler func(ctx context.Context, job store.Job) (any, error)

// Config tunes the runner.
type Config struct {
	LeaseOwner   string
	LeaseFor     time.Duration
	PollInterval time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// Daemon is the long-running job process.
type Daemon struct {
	ledger    Ledger
	scheduler *Scheduler
	handlers  map[string]Handler
	audit     *audit.Recorder
	log       *slog.Logger

	leaseOwner   string
	leaseFor     time.Duration
	pollInterval time.Duration
	now          func() time.Time
}

// New wires a Daemon. recorder may be nil.
func New(ledger Ledger, scheduler *Scheduler, handlers map[string]Handler, recorder *audit.Recorder, log *slog.Logger, cfg Config) *Daemon {
	if log == nil {
		log = slog.Default()
	}
	if cfg.LeaseOwner == "" {
		hostname, _ := os.Hostname()
		cfg.LeaseOwner = fmt.Sprintf("daemon-%s-%d", hostname, os.Getpid())
	}
	if cfg.LeaseFor == 0 {
		cfg.LeaseFor = 5 * time.Minute
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if handlers == nil {
		handlers = map[string]Handler{}
	}
	return &Daemon{
		ledger:       ledger,
		scheduler:    scheduler,
		handlers:     handlers,
		audit:        recorder,
		log:          log,
		leaseOwner:   cfg.LeaseOwner,
		leaseFor:     cfg.LeaseFor,
		pollInterval: cfg.PollInterval,
		now:          cfg.Now,
	}
}

// RegisterHandler sets the handler for a job name.
func (d *Daemon) RegisterHandler(name string, h Handler) {
	d.handlers[name] = h
}

// Run ticks the scheduler and drains due jobs every poll interval until
// ctx is cancelled or the process is signalled.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	d.audit.Record(ctx, audit.Entry{
		Actor:  "daemon",
		Action: audit.ActionSchedulerStarted,
		Meta: map[string]any{
			"lease_owner":   d.leaseOwner,
			"lease_for":     d.leaseFor.String(),
			"poll_interval": d.pollInterval.String(),
		},
	})
	d.log.Info("daemon started", "lease_owner", d.leaseOwner, "poll_interval", d.pollInterval)

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			d.audit.Record(context.WithoutCancel(ctx), audit.Entry{Actor: "daemon", Action: audit.ActionSchedulerStopped})
			d.log.Info("daemon stopped")
			return nil
		case <-ticker.C:
			if _, err := d.Tick(ctx); err != nil && ctx.Err() == nil {
				d.log.Error("daemon tick failed", "err", err)
			}
		}
	}
}

// Tick schedules due slots and runs queued jobs until none is due. It
// returns how many jobs ran.
func (d *Daemon) Tick(ctx context.Context) (int, error) {
	if d.scheduler != nil {
		if _, err := d.scheduler.Tick(ctx, d.now()); err != nil {
			d.log.Error("scheduler tick failed", "err", err)
		}
	}
	ran := 0
	for ctx.Err() == nil {
		ok, err := d.RunOnce(ctx)
		if err != nil {
			return ran, err
		}
		if !ok {
			break
		}
		ran++
	}
	return ran, nil
}

// RunOnce requeues expired leases, claims the next due job and runs it.
// It reports whether a job was claimed. A failing handler marks the job
// failed and is not returned as an error.
func (d *Daemon) RunOnce(ctx context.Context) (bool, error) {
	now := d.now()
	if n, err := d.ledger.RequeueExpired(ctx, now); err != nil {
		return false, err
	} else if n > 0 {
		d.log.Warn("requeued jobs with expired leases", "count", n)
	}
	job, err := d.ledger.ClaimNext(ctx, now, d.leaseOwner, d.leaseFor)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	if job == nil {
		return false, nil
	}
	d.execute(ctx, *job)
	return true, nil
}

func (d *Daemon) execute(ctx context.Context, job store.Job) {
	log := d.log.With("job_id", job.ID, "job", job.Name, "scope", job.ScopeKey, "slot", job.SlotKey)
	d.record(ctx, audit.ActionJobStarted, job, nil)
	log.Info("job started")

	handler, ok := d.handlers[job.Name]
	if !ok {
		d.fail(ctx, log, job, fmt.Errorf("no handler for job %s", job.Name))
		return
	}
	result, err := handler(ctx, job)
	if err != nil && ctx.Err() != nil {
		// Left running: the lease expires and the job is requeued.
		log.Warn("job interrupted", "err", err)
		return
	}
	if err != nil {
		d.fail(ctx, log, job, err)
		return
	}
	// The outcome is written even if ctx was cancelled mid-job.
	done := context.WithoutCancel(ctx)
	if err := d.ledger.SucceedJob(done, job.ID, result); err != nil {
		log.Error("record job success", "err", err)
		return
	}
	d.record(done, audit.ActionJobSucceeded, job, map[string]any{"result": result})
	log.Info("job succeeded")
}

func (d *Daemon) fail(ctx context.Context, log *slog.Logger, job store.Job, jobErr error) {
	done := context.WithoutCancel(ctx)
	if err := d.ledger.FailJob(done, job.ID, jobErr); err != nil {
		log.Error("record job failure", "err", err)
	}
	d.record(done, audit.ActionJobFailed, job, map[string]any{"error": jobErr.Error()})
	log.Warn("job failed", "err", jobErr)
}

func (d *Daemon) record(ctx context.Context, action string, job store.Job, extra map[string]any) {
	meta := map[string]any{"job": job.Name, "scope": job.ScopeKey, "slot": job.SlotKey}
	for k, v := range extra {
		meta[k] = v
	}
	d.audit.Record(ctx, audit.Entry{
		Actor:      "daemon",
		Action:     action,
		ObjectType: "job",
		ObjectID:   job.ID,
		Meta:       meta,
	})
}
