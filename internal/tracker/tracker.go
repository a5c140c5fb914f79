// Package tracker owns the live-monitor job map and the race that settles
// each stream-watched market exactly once: a webhook trigger resolves Yes,
// the periodic deadline sweep resolves No. Both triggers re-check ledger
// state immediately before writing; the ledger is the serialization point.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/instabets/marketd/internal/domain"
	"github.com/instabets/marketd/internal/platform/machinefi"
)

// DefaultSweepInterval is how often the deadline sweep scans tracked jobs.
const DefaultSweepInterval = 60 * time.Second

// Notifier is the alerting surface the tracker uses; *notify.Notifier
// implements it.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithSweepInterval overrides the sweep cadence.
func WithSweepInterval(d time.Duration) Option { return func(t *Tracker) { t.interval = d } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(t *Tracker) { t.now = now } }

// WithNotifier adds best-effort operator alerts on settlement.
func WithNotifier(n Notifier) Option { return func(t *Tracker) { t.notifier = n } }

// WithAuditLog records settlements in the given store.
func WithAuditLog(s domain.ResolutionStore) Option { return func(t *Tracker) { t.records = s } }

// Tracker correlates external monitor jobs with markets and drives them out
// of Pending.
type Tracker struct {
	jobs     domain.JobStore
	ledger   domain.Ledger
	monitor  machinefi.Monitor
	notifier Notifier
	records  domain.ResolutionStore
	logger   *slog.Logger

	interval time.Duration
	now      func() time.Time
}

// New wires a tracker over the job store, ledger, and monitor client.
func New(jobs domain.JobStore, ledger domain.Ledger, monitor machinefi.Monitor, logger *slog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		jobs:     jobs,
		ledger:   ledger,
		monitor:  monitor,
		logger:   logger.With("component", "tracker"),
		interval: DefaultSweepInterval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Watch registers a monitor job for a live market: it asks the external
// monitor to watch the stream and records the job against the market's
// deadline. The job map is the single source of truth for "is this market
// still being watched".
func (t *Tracker) Watch(ctx context.Context, market domain.Market, streamURL, condition, webhookURL string) (string, error) {
	jobID, err := t.monitor.StartMonitor(ctx, streamURL, condition, webhookURL)
	if err != nil {
		return "", fmt.Errorf("tracker: start monitor for market %d: %w", market.ID, err)
	}

	job := domain.LiveMonitorJob{JobID: jobID, MarketID: market.ID, Deadline: market.Deadline}
	if err := t.jobs.Add(ctx, job); err != nil {
		// The monitor is already watching; stop it rather than leak an
		// untracked job.
		if stopErr := t.monitor.StopJob(ctx, jobID); stopErr != nil {
			t.logger.Error("stop orphaned job", "job_id", jobID, "error", stopErr)
		}
		return "", fmt.Errorf("tracker: track job for market %d: %w", market.ID, err)
	}

	t.logger.Info("watching live market",
		"market_id", market.ID, "job_id", jobID, "deadline", market.Deadline)
	return jobID, nil
}

// HandleEvent processes one inbound monitor event. The webhook transport has
// already acknowledged receipt; nothing returned here reaches the sender. An
// unknown job id is logged and dropped.
func (t *Tracker) HandleEvent(ctx context.Context, ev domain.MonitorEvent) {
	if ev.JobID == "" {
		t.logger.Warn("monitor event without job id", "event", ev.Event)
		return
	}

	switch ev.Event {
	case domain.MonitorEventTriggered:
		job, err := t.jobs.Get(ctx, ev.JobID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				t.logger.Warn("trigger for unknown job", "job_id", ev.JobID)
				return
			}
			t.logger.Error("look up job", "job_id", ev.JobID, "error", err)
			return
		}
		t.settle(ctx, job, true, domain.TriggerWebhook)

	case domain.MonitorEventJobStopped:
		// The monitor gave up on its own. Keep the job tracked so the
		// deadline sweep still decides the market.
		t.logger.Info("monitor stopped job", "job_id", ev.JobID)

	case domain.MonitorEventError:
		t.logger.Warn("monitor reported error", "job_id", ev.JobID)

	default:
		t.logger.Warn("unknown monitor event", "event", ev.Event, "job_id", ev.JobID)
	}
}

// Sweep runs one deadline pass: every tracked job whose deadline has elapsed
// resolves its market No unless another trigger got there first. The job is
// removed and the monitor stopped regardless of the ledger call's outcome.
func (t *Tracker) Sweep(ctx context.Context) {
	expired, err := t.jobs.Expired(ctx, t.now().Unix())
	if err != nil {
		t.logger.Error("list expired jobs", "error", err)
		return
	}
	for _, job := range expired {
		t.settle(ctx, job, false, domain.TriggerSweep)
	}
}

// Run drives the deadline sweep until the context is cancelled.
func (t *Tracker) Run(ctx context.Context) error {
	t.logger.Info("deadline sweep started", "interval", t.interval)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			t.logger.Info("deadline sweep stopped")
			return ctx.Err()
		case <-ticker.C:
			t.Sweep(ctx)
		}
	}
}

// settle moves one job's market out of Pending with the given outcome, then
// cleans up. The sweep always releases the job; a webhook trigger that hit a
// transient ledger error keeps it tracked, so the deadline sweep stays the
// backstop for the still-Pending market.
func (t *Tracker) settle(ctx context.Context, job domain.LiveMonitorJob, outcomeYes bool, trigger string) {
	if t.resolve(ctx, job, outcomeYes, trigger) || trigger == domain.TriggerSweep {
		t.cleanup(ctx, job)
	}
}

// resolve drives the ledger write and reports whether the job is finished:
// the market settled now, or another trigger already settled it. "Market no
// longer Pending" is a normal no-op: whichever trigger loses the race is
// finished without writing.
func (t *Tracker) resolve(ctx context.Context, job domain.LiveMonitorJob, outcomeYes bool, trigger string) bool {
	market, err := t.ledger.GetMarket(ctx, job.MarketID)
	if err != nil {
		t.logger.Error("read market", "market_id", job.MarketID, "trigger", trigger, "error", err)
		return false
	}
	if !market.Pending() {
		t.logger.Info("market already settled",
			"market_id", job.MarketID, "outcome", market.Outcome, "trigger", trigger)
		return true
	}

	txHash, err := t.ledger.ResolveMarket(ctx, job.MarketID, outcomeYes)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyResolved) {
			t.logger.Info("lost settlement race", "market_id", job.MarketID, "trigger", trigger)
			return true
		}
		t.logger.Error("resolve market", "market_id", job.MarketID, "trigger", trigger, "error", err)
		return false
	}

	outcome := domain.OutcomeFromBool(outcomeYes)
	t.logger.Info("market settled",
		"market_id", job.MarketID, "outcome", outcome, "trigger", trigger, "tx_hash", txHash)

	if t.records != nil {
		rec := domain.ResolutionRecord{
			MarketID:   job.MarketID,
			Question:   market.Question,
			Outcome:    outcome,
			Trigger:    trigger,
			TxHash:     txHash,
			ResolvedAt: t.now().UTC(),
		}
		if err := t.records.Insert(ctx, rec); err != nil {
			t.logger.Error("record settlement", "market_id", job.MarketID, "error", err)
		}
	}
	if t.notifier != nil {
		title := fmt.Sprintf("Market %d settled %s", job.MarketID, outcome)
		msg := fmt.Sprintf("trigger=%s tx=%s", trigger, txHash)
		if err := t.notifier.Notify(ctx, "market_settled", title, msg); err != nil {
			t.logger.Error("notify settlement", "market_id", job.MarketID, "error", err)
		}
	}
	return true
}

// cleanup removes the job from tracking and best-effort stops the external
// monitor. Remove is idempotent, so the losing trigger's cleanup is a no-op.
func (t *Tracker) cleanup(ctx context.Context, job domain.LiveMonitorJob) {
	if err := t.jobs.Remove(ctx, job.JobID); err != nil {
		t.logger.Error("remove job", "job_id", job.JobID, "error", err)
	}
	if err := t.monitor.StopJob(ctx, job.JobID); err != nil {
		t.logger.Error("stop monitor job", "job_id", job.JobID, "error", err)
	}
}
