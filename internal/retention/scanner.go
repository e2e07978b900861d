package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"snapkeep/internal/flight"
	"snapkeep/internal/history"
	"snapkeep/internal/logging"
	"snapkeep/internal/metrics"
	"snapkeep/internal/remote"
)

// ErrBusy is returned when an upload or another reconcile holds the guard.
var ErrBusy = errors.New("retention: guard held by another operation")

// GuardOwner labels the guard while a reconcile holds it.
const GuardOwner = "retention"

// Recorder persists delete outcomes.
type Recorder interface {
	Record(ctx context.Context, ev history.Event) error
}

// Options configures a Scanner.
type Options struct {
	Store   remote.Store
	Guard   *flight.Guard
	Metrics *metrics.Collector
	History Recorder
	Logger  *slog.Logger

	// KeepDays disables the scanner when zero.
	KeepDays  int
	Selection string
	// MaxPasses bounds list+delete round trips per run. Zero is unbounded.
	MaxPasses int
	Location  *time.Location
	Now       func() time.Time
}

// Report summarises one reconcile.
type Report struct {
	Passes  int
	Deleted []string
	Failed  int
}

// Scanner deletes stale remote files one listing at a time.
type Scanner struct {
	store     remote.Store
	guard     *flight.Guard
	metrics   *metrics.Collector
	history   Recorder
	logger    *slog.Logger
	keepDays  int
	selection string
	maxPasses int
	loc       *time.Location
	now       func() time.Time
}

// New builds a Scanner.
func New(opts Options) (*Scanner, error) {
	if opts.Store == nil {
		return nil, errors.New("retention: remote store is required")
	}
	if opts.Guard == nil {
		return nil, errors.New("retention: guard is required")
	}
	if opts.KeepDays < 0 {
		return nil, fmt.Errorf("retention: keep days must be >= 0, got %d", opts.KeepDays)
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scanner{
		store:     opts.Store,
		guard:     opts.Guard,
		metrics:   opts.Metrics,
		history:   opts.History,
		logger:    logging.NewComponentLogger(opts.Logger, "retention"),
		keepDays:  opts.KeepDays,
		selection: opts.Selection,
		maxPasses: opts.MaxPasses,
		loc:       opts.Location,
		now:       opts.Now,
	}, nil
}

// Enabled reports whether a retention window is configured.
func (s *Scanner) Enabled() bool {
	return s.keepDays > 0
}

// Reconcile lists the remote store, deletes one stale file, and repeats
// until no stale file is listed. The loop continues after a failed delete; a
// failed listing ends the run.
func (s *Scanner) Reconcile(ctx context.Context) (Report, error) {
	var report Report
	if !s.Enabled() {
		return report, nil
	}
	if !s.guard.TryAcquire(GuardOwner) {
		owner, _, _ := s.guard.Owner()
		s.metrics.BusyDropped(GuardOwner)
		s.logger.DebugContext(ctx, "retention skipped; guard held",
			logging.String("holder", owner),
			logging.String(logging.FieldEventType, "retention_busy"),
		)
		return report, ErrBusy
	}
	defer s.guard.Release()

	logger := logging.WithContext(ctx, s.logger)
	for {
		if s.maxPasses > 0 && report.Passes >= s.maxPasses {
			logging.WarnWithContext(logger, "retention pass limit reached", "retention_pass_limit",
				logging.Int("passes", report.Passes),
				logging.Alert("retention_incomplete"),
				logging.String(logging.FieldErrorHint, "raise retention.max_passes or check delete failures"),
				logging.String(logging.FieldImpact, "stale files remain until the next run"),
			)
			return report, nil
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Passes++

		lines, err := s.store.List(ctx)
		if err != nil {
			logging.WarnWithContext(logger, "remote listing failed", "retention_list_failed",
				logging.String("error_class", string(remote.Classify(err))),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check remote connectivity; the next trigger retries"),
				logging.String(logging.FieldImpact, "stale files not deleted this run"),
			)
			return report, fmt.Errorf("list remote: %w", err)
		}

		cutoff := Cutoff(s.now(), s.keepDays)
		candidate, ok := Select(lines, cutoff, s.loc, s.selection)
		if !ok {
			if len(report.Deleted) > 0 || report.Failed > 0 {
				logger.Info("retention reconciled",
					logging.Int("deleted", len(report.Deleted)),
					logging.Int("failed_deletes", report.Failed),
					logging.Int("passes", report.Passes),
					logging.String(logging.FieldEventType, "retention_completed"),
				)
			}
			return report, nil
		}

		if err := s.delete(ctx, logger, candidate); err != nil {
			report.Failed++
			continue
		}
		report.Deleted = append(report.Deleted, candidate.Line)
	}
}

func (s *Scanner) delete(ctx context.Context, logger *slog.Logger, candidate Candidate) error {
	logger.Info("deleting stale remote file",
		logging.String(logging.FieldRemoteFile, candidate.Line),
		logging.String("date", candidate.Date.Format("2006-01-02")),
		logging.String(logging.FieldEventType, "retention_delete"),
	)
	start := time.Now()
	err := s.store.Delete(ctx, candidate.Line)
	elapsed := time.Since(start)
	s.metrics.DeleteFinished(err == nil)

	if s.history != nil {
		runID, _ := logging.CorrelationIDFromContext(ctx)
		ev := history.Event{
			RunID:    runID,
			Kind:     history.KindDelete,
			Name:     candidate.Line,
			Success:  err == nil,
			Duration: elapsed,
		}
		if err != nil {
			ev.Error = err.Error()
		}
		if recErr := s.history.Record(context.WithoutCancel(ctx), ev); recErr != nil {
			logger.Warn("record delete history failed", logging.Error(recErr))
		}
	}

	if err != nil {
		logging.WarnWithContext(logger, "remote delete failed", "retention_delete_failed",
			logging.String(logging.FieldRemoteFile, candidate.Line),
			logging.String("error_class", string(remote.Classify(err))),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the file is selected again on the next pass"),
			logging.String(logging.FieldImpact, "stale file remains on the remote store"),
		)
	}
	return err
}
