// Package maintenance runs the scheduled background jobs. It sweeps idle
// sessions, performs the daily reset with its broadcast notice and uploads
// database backups.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bowerhall/meshtale/internal/backup"
	"github.com/bowerhall/meshtale/internal/broadcast"
	"github.com/bowerhall/meshtale/internal/logger"
	"github.com/bowerhall/meshtale/internal/metrics"
	"github.com/bowerhall/meshtale/internal/session"
)

// resetNotice is broadcast to the mesh when the daily reset clears
// everyone's adventures.
const resetNotice = "Resetting all adventures after 24 hours of runtime. A new tale may begin!"

const backupTimeout = 5 * time.Minute

// Notifier receives maintenance notices. Chat bots satisfy it.
type Notifier interface {
	Broadcast(message string) error
}

type Options struct {
	SweepSchedule  string // cron or @descriptor, "" disables
	SessionTTL     time.Duration
	ResetSchedule  string
	ResetChannel   int
	BackupSchedule string
	Backup         *backup.Client
	Queue          *broadcast.Queue
	Notifiers      []Notifier
}

type Runner struct {
	cron  *cron.Cron
	store *session.Store
	opts  Options
}

func New(store *session.Store, opts Options) *Runner {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 24 * time.Hour
	}

	return &Runner{cron: cron.New(), store: store, opts: opts}
}

// Start registers the configured jobs and starts the scheduler.
func (r *Runner) Start() error {
	if r.opts.SweepSchedule != "" {
		if _, err := r.cron.AddFunc(r.opts.SweepSchedule, r.Sweep); err != nil {
			return fmt.Errorf("sweep schedule: %w", err)
		}
	}
	if r.opts.ResetSchedule != "" {
		if _, err := r.cron.AddFunc(r.opts.ResetSchedule, r.Reset); err != nil {
			return fmt.Errorf("reset schedule: %w", err)
		}
	}
	if r.opts.BackupSchedule != "" {
		if r.opts.Backup == nil {
			return fmt.Errorf("backup schedule set but no backup client configured")
		}
		if _, err := r.cron.AddFunc(r.opts.BackupSchedule, r.runBackup); err != nil {
			return fmt.Errorf("backup schedule: %w", err)
		}
	}

	r.cron.Start()
	logger.Info("maintenance scheduler started",
		"sweep", r.opts.SweepSchedule, "reset", r.opts.ResetSchedule, "backup", r.opts.BackupSchedule)
	return nil
}

// Stop halts the scheduler. The returned context is done once any
// running job has finished.
func (r *Runner) Stop() context.Context {
	return r.cron.Stop()
}

// Sweep deletes sessions idle past the TTL and refreshes the session
// gauge.
func (r *Runner) Sweep() {
	cutoff := time.Now().Add(-r.opts.SessionTTL)
	n, err := r.store.DeleteIdleBefore(cutoff)
	if err != nil {
		logger.Error("session sweep failed", "error", err)
		return
	}
	if n > 0 {
		logger.Info("idle sessions swept", "count", n, "ttl", r.opts.SessionTTL)
	}

	r.refreshGauge()
}

// Reset clears every adventure back to IDLE and announces it, matching
// the daily restart cycle the radio crowd expects.
func (r *Runner) Reset() {
	n, err := r.store.ResetAll()
	if err != nil {
		logger.Error("daily reset failed", "error", err)
		return
	}

	logger.Info("daily reset complete", "sessions", n)

	if n > 0 {
		if r.opts.Queue != nil {
			r.opts.Queue.Push(resetNotice, r.opts.ResetChannel)
			metrics.BroadcastsQueued.Inc()
		}
		for _, nf := range r.opts.Notifiers {
			if err := nf.Broadcast(resetNotice); err != nil {
				logger.Warn("reset notice delivery failed", "error", err)
			}
		}
	}

	r.refreshGauge()
}

func (r *Runner) runBackup() {
	ctx, cancel := context.WithTimeout(context.Background(), backupTimeout)
	defer cancel()

	if err := r.opts.Backup.Snapshot(ctx); err != nil {
		logger.Error("scheduled backup failed", "error", err)
	}
}

func (r *Runner) refreshGauge() {
	counts, err := r.store.Counts()
	if err != nil {
		logger.Warn("session count refresh failed", "error", err)
		return
	}
	metrics.SetSessionCounts(counts, session.States())
}
