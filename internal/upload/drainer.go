package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"snapkeep/internal/flight"
	"snapkeep/internal/history"
	"snapkeep/internal/logging"
	"snapkeep/internal/metrics"
	"snapkeep/internal/remote"
)

// ErrBusy is returned when another drain or reconcile holds the guard.
var ErrBusy = errors.New("upload: guard held by another operation")

// GuardOwner labels the guard while a drain holds it.
const GuardOwner = "upload"

// Recorder persists per-file outcomes.
type Recorder interface {
	Record(ctx context.Context, ev history.Event) error
}

// Options configures a Drainer.
type Options struct {
	Fs         afero.Fs
	StagingDir string
	Store      remote.Store
	Guard      *flight.Guard
	Metrics    *metrics.Collector
	History    Recorder
	Logger     *slog.Logger

	// MaxAttempts ends a drain after the head file fails this many times in a
	// row. Zero retries forever.
	MaxAttempts int
	// RetryDelay is slept after a failed transfer.
	RetryDelay time.Duration
}

// Report summarises one drain.
type Report struct {
	Uploaded int
	Failed   int
	// GaveUp names the head file that exhausted MaxAttempts.
	GaveUp string
}

// Drainer uploads staged files one at a time until the staging directory is
// empty.
type Drainer struct {
	fs          afero.Fs
	dir         string
	store       remote.Store
	guard       *flight.Guard
	metrics     *metrics.Collector
	history     Recorder
	logger      *slog.Logger
	maxAttempts int
	retryDelay  time.Duration
}

// New validates opts and builds a Drainer.
func New(opts Options) (*Drainer, error) {
	if opts.Store == nil {
		return nil, errors.New("upload: remote store is required")
	}
	if opts.Guard == nil {
		return nil, errors.New("upload: guard is required")
	}
	if strings.TrimSpace(opts.StagingDir) == "" {
		return nil, errors.New("upload: staging directory is required")
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	return &Drainer{
		fs:          opts.Fs,
		dir:         opts.StagingDir,
		store:       opts.Store,
		guard:       opts.Guard,
		metrics:     opts.Metrics,
		history:     opts.History,
		logger:      logging.NewComponentLogger(opts.Logger, "upload"),
		maxAttempts: opts.MaxAttempts,
		retryDelay:  opts.RetryDelay,
	}, nil
}

// Drain uploads staged files until none remain. A failed transfer leaves the
// file in place and the loop lists again, so a file that keeps failing is
// retried ahead of everything behind it.
func (d *Drainer) Drain(ctx context.Context) (Report, error) {
	var report Report
	if !d.guard.TryAcquire(GuardOwner) {
		owner, _, _ := d.guard.Owner()
		d.metrics.BusyDropped(GuardOwner)
		d.logger.DebugContext(ctx, "upload skipped; guard held",
			logging.String("holder", owner),
			logging.String(logging.FieldEventType, "upload_busy"),
		)
		return report, ErrBusy
	}
	defer d.guard.Release()

	var (
		head     string
		failures int
	)
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		names, err := d.Pending()
		if err != nil {
			return report, err
		}
		d.metrics.SetStagingDepth(len(names))
		if len(names) == 0 {
			if report.Uploaded > 0 || report.Failed > 0 {
				d.logger.InfoContext(ctx, "upload queue drained",
					logging.Int("uploaded", report.Uploaded),
					logging.Int("failed_attempts", report.Failed),
					logging.String(logging.FieldEventType, "upload_drained"),
				)
			}
			return report, nil
		}

		name := names[0]
		if err := d.uploadOne(ctx, name); err == nil {
			report.Uploaded++
			head, failures = "", 0
			continue
		}

		report.Failed++
		if name == head {
			failures++
		} else {
			head, failures = name, 1
		}
		if d.maxAttempts > 0 && failures >= d.maxAttempts {
			report.GaveUp = name
			d.logger.WarnContext(ctx, "upload giving up on head file until next trigger",
				logging.String(logging.FieldFile, name),
				logging.Int("attempts", failures),
				logging.Int("remaining", len(names)),
				logging.String(logging.FieldEventType, "upload_gave_up"),
				logging.Alert("upload_stalled"),
				logging.String(logging.FieldErrorHint, "check remote connectivity and credentials"),
				logging.String(logging.FieldImpact, "staged files stay queued"),
			)
			return report, nil
		}
		if d.retryDelay > 0 {
			if err := sleep(ctx, d.retryDelay); err != nil {
				return report, err
			}
		}
	}
}

// Pending lists staged file names in directory order. Directories and dot
// files (captures still being written) are skipped.
func (d *Drainer) Pending() ([]string, error) {
	return Pending(d.fs, d.dir)
}

// Pending lists the uploadable files in dir without a Drainer, for callers
// that only report the backlog.
func Pending(fs afero.Fs, dir string) ([]string, error) {
	infos, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, fmt.Errorf("list staging directory: %w", err)
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		if info.IsDir() || strings.HasPrefix(info.Name(), ".") {
			continue
		}
		names = append(names, info.Name())
	}
	return names, nil
}

func (d *Drainer) uploadOne(ctx context.Context, name string) error {
	localPath := filepath.Join(d.dir, name)
	var size int64
	if info, err := d.fs.Stat(localPath); err == nil {
		size = info.Size()
	}

	start := time.Now()
	err := d.store.Upload(ctx, localPath, name)
	if err == nil {
		if rmErr := d.fs.Remove(localPath); rmErr != nil {
			err = fmt.Errorf("remove uploaded file: %w", rmErr)
		}
	}
	elapsed := time.Since(start)
	d.metrics.UploadFinished(err == nil, size, elapsed)
	d.record(ctx, name, size, elapsed, err)

	if err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, d.logger), "upload failed", "upload_failed",
			logging.String(logging.FieldFile, name),
			logging.String("error_class", string(remote.Classify(err))),
			logging.Duration("elapsed", elapsed),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the file stays staged and is retried on the next pass"),
			logging.String(logging.FieldImpact, "upload delayed"),
		)
		return err
	}
	logging.WithContext(ctx, d.logger).Info("uploaded file",
		logging.String(logging.FieldFile, name),
		logging.Int64("bytes", size),
		logging.Duration("elapsed", elapsed),
		logging.String(logging.FieldEventType, "upload_completed"),
	)
	return nil
}

func (d *Drainer) record(ctx context.Context, name string, size int64, elapsed time.Duration, err error) {
	if d.history == nil {
		return
	}
	runID, _ := logging.CorrelationIDFromContext(ctx)
	ev := history.Event{
		RunID:    runID,
		Kind:     history.KindUpload,
		Name:     name,
		Success:  err == nil,
		Bytes:    size,
		Duration: elapsed,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	if recErr := d.history.Record(context.WithoutCancel(ctx), ev); recErr != nil {
		d.logger.Warn("record upload history failed", logging.Error(recErr))
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
