package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/spf13/afero"

	"snapkeep/internal/api"
	"snapkeep/internal/capture"
	"snapkeep/internal/clock"
	"snapkeep/internal/command"
	"snapkeep/internal/config"
	"snapkeep/internal/flight"
	"snapkeep/internal/history"
	"snapkeep/internal/logging"
	"snapkeep/internal/metrics"
	"snapkeep/internal/notifications"
	"snapkeep/internal/preflight"
	"snapkeep/internal/remote"
	"snapkeep/internal/retention"
	"snapkeep/internal/scheduler"
	"snapkeep/internal/staging"
	"snapkeep/internal/upload"
)

const (
	// Hidden partial captures older than this are abandoned.
	stalePartialAge = time.Hour
	recentHistory   = 10
	summaryWindow   = 24 * time.Hour
)

// Options supplies the daemon's collaborators. Nil fields get production
// defaults built from the config.
type Options struct {
	Store   remote.Store
	Runner  command.Runner
	Fs      afero.Fs
	History *history.Store
	Metrics *metrics.Collector
	Logger  *slog.Logger
	Now     func() time.Time
	// Notifier receives task failure alerts. Defaults to an ntfy service
	// built from [notifications], which is a no-op without a topic.
	Notifier notifications.Service
	// LogPath is the current run log, which log pruning never removes.
	LogPath string
}

// Daemon owns the state shared by the scheduler, the trigger endpoint, and
// the capture, upload, and retention tasks, and enforces single-instance
// execution.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	loc     *time.Location
	now     func() time.Time
	logPath string

	guard     *flight.Guard
	capturer  *capture.Capturer
	drainer   *upload.Drainer
	scanner   *retention.Scanner
	scheduler *scheduler.Scheduler
	history   *history.Store
	metrics   *metrics.Collector
	notifier  notifications.Service
	api       *apiServer

	lockPath string
	lock     *flock.Flock

	running   atomic.Bool
	watching  atomic.Bool
	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	startedAt time.Time
	tasks     sync.WaitGroup

	// drainDeferred is set when a drain was dropped because retention held
	// the guard; DeleteOld drains once it releases.
	drainDeferred atomic.Bool
}

type recorder interface {
	Record(ctx context.Context, ev history.Event) error
}

// New constructs a daemon and validates that every schedule entry resolves
// to a registered handler.
func New(cfg *config.Config, opts Options) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Runner == nil {
		opts.Runner = command.ExecRunner{}
	}
	if opts.Notifier == nil {
		opts.Notifier = notifications.NewService(cfg)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	store := opts.Store
	if store == nil {
		store, err = remote.New(cfg, opts.Runner, logger)
		if err != nil {
			return nil, err
		}
	}

	var rec recorder
	if opts.History != nil {
		rec = opts.History
	}

	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		loc:      loc,
		now:      opts.Now,
		logPath:  opts.LogPath,
		guard:    &flight.Guard{},
		history:  opts.History,
		metrics:  opts.Metrics,
		notifier: opts.Notifier,
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}

	d.capturer, err = capture.New(capture.Options{
		Settings:   cfg.Capture,
		Runner:     opts.Runner,
		Fs:         opts.Fs,
		StagingDir: cfg.Paths.StagingDir,
		Timeout:    cfg.CaptureTimeout(),
		Location:   loc,
		Now:        opts.Now,
		Metrics:    opts.Metrics,
		History:    rec,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	d.drainer, err = upload.New(upload.Options{
		Fs:          opts.Fs,
		StagingDir:  cfg.Paths.StagingDir,
		Store:       store,
		Guard:       d.guard,
		Metrics:     opts.Metrics,
		History:     rec,
		Logger:      logger,
		MaxAttempts: cfg.Upload.MaxAttempts,
		RetryDelay:  cfg.RetryDelay(),
	})
	if err != nil {
		return nil, err
	}

	d.scanner, err = retention.New(retention.Options{
		Store:     store,
		Guard:     d.guard,
		Metrics:   opts.Metrics,
		History:   rec,
		Logger:    logger,
		KeepDays:  cfg.Retention.KeepDays,
		Selection: cfg.Retention.Selection,
		MaxPasses: cfg.Retention.MaxPasses,
		Location:  loc,
		Now:       opts.Now,
	})
	if err != nil {
		return nil, err
	}

	schedOpts := []scheduler.Option{
		scheduler.WithClock(opts.Now),
		scheduler.WithLocation(loc),
		scheduler.WithLogger(logger),
	}
	if opts.Metrics != nil {
		schedOpts = append(schedOpts, scheduler.WithObserver(opts.Metrics))
	}
	d.scheduler, err = scheduler.New(cfg.Schedule.Events, schedOpts...)
	if err != nil {
		return nil, fmt.Errorf("schedule: %w", err)
	}
	if err := d.registerHandlers(); err != nil {
		return nil, err
	}

	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

func (d *Daemon) registerHandlers() error {
	d.scheduler.Register(config.HandlerSnapshotUpload, d.background(config.HandlerSnapshotUpload, d.SnapshotUpload))
	d.scheduler.Register(config.HandlerUploadAll, d.background(config.HandlerUploadAll, d.UploadAll))
	d.scheduler.Register(config.HandlerDeleteOld, d.background(config.HandlerDeleteOld, d.DeleteOld))
	d.scheduler.Register(config.HandlerPruneLogs, d.background(config.HandlerPruneLogs, d.PruneLogs))

	if err := d.scheduler.On("minute", "staging_depth", d.refreshStagingDepth); err != nil {
		return err
	}
	if err := d.scheduler.On("day", "stale_partials", d.background("stale_partials", d.CleanPartials)); err != nil {
		return err
	}
	return d.scheduler.Validate()
}

// background adapts a task into a scheduler handler that starts it on its own
// goroutine and returns immediately.
func (d *Daemon) background(task string, fn func(context.Context) error) scheduler.HandlerFunc {
	return func(ctx context.Context, _ clock.Components) error {
		d.Go(ctx, task, fn)
		return nil
	}
}

// Go runs fn on its own goroutine under the daemon's lifetime context, not
// the caller's, so a trigger's work outlives the request that started it.
// The correlation id of ctx is carried over, or a new one is assigned. It
// returns that id.
func (d *Daemon) Go(ctx context.Context, task string, fn func(context.Context) error) string {
	id, ok := logging.CorrelationIDFromContext(ctx)
	if !ok {
		id = uuid.NewString()
	}
	taskCtx := logging.WithCorrelationID(d.baseContext(ctx), id)
	logger := logging.WithContext(taskCtx, d.logger).With(logging.String("task", task))

	d.tasks.Add(1)
	go func() {
		defer d.tasks.Done()
		defer func() {
			if r := recover(); r != nil {
				logging.ErrorWithContext(logger, "background task panicked", "task_panic",
					logging.Any("panic", r),
					logging.String("stack", string(debug.Stack())),
					logging.String(logging.FieldErrorHint, "report this crash; the daemon keeps running"),
				)
			}
		}()

		start := time.Now()
		err := fn(taskCtx)
		// Components log their own failures; this records the task boundary.
		attrs := []logging.Attr{
			logging.Duration("elapsed", time.Since(start)),
			logging.Bool("ok", err == nil),
		}
		if err != nil {
			attrs = append(attrs, logging.Error(err))
		}
		logger.Debug("background task finished", logging.Args(attrs...)...)
		if err != nil && taskCtx.Err() == nil {
			if notifyErr := d.notifier.NotifyTaskFailed(taskCtx, task, err); notifyErr != nil {
				logger.Warn("task failure notification failed",
					logging.Error(notifyErr),
					logging.String(logging.FieldEventType, "notification_failed"),
				)
			}
		}
	}()
	return id
}

// Wait blocks until every background task started so far has returned.
// Shutdown does not call it; tests do.
func (d *Daemon) Wait() {
	d.tasks.Wait()
}

func (d *Daemon) baseContext(ctx context.Context) context.Context {
	d.mu.Lock()
	base := d.ctx
	d.mu.Unlock()
	if base != nil {
		return base
	}
	if ctx == nil {
		return context.Background()
	}
	return context.WithoutCancel(ctx)
}

// Start acquires the instance lock, then starts the scheduler, the control
// endpoint, and the optional staging watcher.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another snapkeep daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.api.start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return err
	}

	d.mu.Lock()
	d.ctx, d.cancel = runCtx, cancel
	d.startedAt = d.now()
	d.mu.Unlock()

	d.scheduler.Prime(d.now())
	go func() {
		if err := d.scheduler.Run(runCtx); err != nil {
			d.logger.Error("scheduler stopped unexpectedly", logging.Error(err))
		}
	}()

	if d.cfg.Upload.WatchStaging {
		watcher := staging.NewWatcher(d.cfg.Paths.StagingDir, 0, func(ctx context.Context) {
			d.Go(ctx, config.HandlerUploadAll, d.UploadAll)
		}, d.logger)
		d.watching.Store(true)
		go func() {
			defer d.watching.Store(false)
			if err := watcher.Run(runCtx); err != nil {
				logging.WarnWithContext(d.logger, "staging watcher stopped", "staging_watch_failed",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check that paths.staging_dir exists"),
					logging.String(logging.FieldImpact, "new captures upload on the next scheduled drain"),
				)
			}
		}()
	}

	d.running.Store(true)
	d.logger.Info("snapkeep daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api", d.APIAddr()),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

// Stop cancels the scheduler and the control endpoint and releases the lock.
// In-flight capture and transfer commands are killed through their context
// and not awaited.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	d.api.stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("snapkeep daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon. The history store belongs to
// the caller.
func (d *Daemon) Close() error {
	d.Stop()
	return nil
}

// APIAddr returns the control endpoint's listening address, or "" when it is
// not listening.
func (d *Daemon) APIAddr() string {
	return d.api.addr()
}

// Handler returns the control endpoint's HTTP handler.
func (d *Daemon) Handler() http.Handler {
	return d.api.routes()
}

// Scheduler exposes the tick scheduler.
func (d *Daemon) Scheduler() *scheduler.Scheduler {
	return d.scheduler
}

// SnapshotUpload stages a capture and then drains the staging directory. The
// drain runs even when the capture fails so earlier captures still go out.
func (d *Daemon) SnapshotUpload(ctx context.Context) error {
	_, captureErr := d.capturer.Stage(ctx)
	return errors.Join(captureErr, d.UploadAll(ctx))
}

// UploadAll drains the staging directory. A drain already in progress, or a
// reconcile holding the guard, makes this a no-op.
func (d *Daemon) UploadAll(ctx context.Context) error {
	_, err := d.drainer.Drain(ctx)
	if errors.Is(err, upload.ErrBusy) {
		if owner, _, held := d.guard.Owner(); !held || owner != upload.GuardOwner {
			d.drainDeferred.Store(true)
			logging.WithContext(ctx, d.logger).Debug("upload deferred until retention finishes",
				logging.String("holder", owner),
				logging.String(logging.FieldEventType, "upload_deferred"),
			)
		}
		return nil
	}
	return err
}

// DeleteOld reconciles the remote store against the retention window.
func (d *Daemon) DeleteOld(ctx context.Context) error {
	report, err := d.scanner.Reconcile(ctx)
	if errors.Is(err, retention.ErrBusy) {
		return nil
	}
	deferred := d.drainDeferred.Swap(false)
	if len(report.Deleted) > 0 || report.Failed > 0 {
		if notifyErr := d.notifier.NotifyRetentionCompleted(ctx, len(report.Deleted), report.Failed); notifyErr != nil {
			logging.WithContext(ctx, d.logger).Warn("retention notification failed",
				logging.Error(notifyErr),
				logging.String(logging.FieldEventType, "notification_failed"),
			)
		}
	}
	if deferred {
		err = errors.Join(err, d.UploadAll(ctx))
	}
	return err
}

// Snapshot captures an image without staging it and returns the bytes and
// their content type.
func (d *Daemon) Snapshot(ctx context.Context) ([]byte, string, error) {
	data, err := d.capturer.Snapshot(ctx)
	if err != nil {
		return nil, "", err
	}
	return data, d.capturer.ContentType(), nil
}

// PruneLogs removes run logs and history rows older than
// logging.retention_days.
func (d *Daemon) PruneLogs(ctx context.Context) error {
	days := d.cfg.Logging.RetentionDays
	if days <= 0 {
		return nil
	}
	var exclude []string
	if d.logPath != "" {
		exclude = append(exclude, d.logPath)
	}
	removed := logging.CleanupOldLogs(d.logger, days,
		logging.RetentionTarget{Dir: d.cfg.Paths.LogDir, Pattern: "snapkeep-*.log", Exclude: exclude},
	)
	pruned, err := d.history.Prune(ctx, d.now().AddDate(0, 0, -days))
	if err != nil {
		return fmt.Errorf("prune history: %w", err)
	}
	if removed > 0 || pruned > 0 {
		logging.WithContext(ctx, d.logger).Info("pruned local logs",
			logging.Int("log_files", removed),
			logging.Int64("history_rows", pruned),
			logging.Int("retention_days", days),
			logging.String(logging.FieldEventType, "logs_pruned"),
		)
	}
	return nil
}

// CleanPartials removes hidden partial captures abandoned by an interrupted
// capture command.
func (d *Daemon) CleanPartials(ctx context.Context) error {
	result := staging.CleanStalePartials(d.cfg.Paths.StagingDir, stalePartialAge, logging.WithContext(ctx, d.logger))
	if len(result.Errors) > 0 {
		return fmt.Errorf("clean partials: %s: %w", result.Errors[0].Path, result.Errors[0].Error)
	}
	return nil
}

func (d *Daemon) refreshStagingDepth(context.Context, clock.Components) error {
	if d.metrics == nil || d.guard.Held() {
		return nil
	}
	names, err := d.drainer.Pending()
	if err != nil {
		return err
	}
	d.metrics.SetStagingDepth(len(names))
	return nil
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	status := api.DaemonStatus{
		Running:         d.running.Load(),
		PID:             os.Getpid(),
		LockFilePath:    d.lockPath,
		HistoryDBPath:   d.history.Path(),
		StagingDir:      d.cfg.Paths.StagingDir,
		Remote:          RemoteLabel(d.cfg),
		RetentionDays:   d.cfg.Retention.KeepDays,
		Schedule:        api.ScheduleEntries(d.scheduler.Table()),
		WatchingStaging: d.watching.Load(),
	}

	d.mu.Lock()
	startedAt := d.startedAt
	d.mu.Unlock()
	if status.Running && !startedAt.IsZero() {
		status.StartedAt = startedAt.UTC().Format(time.RFC3339)
	}

	if names, err := d.drainer.Pending(); err == nil {
		status.PendingUploads = len(names)
	}
	if owner, since, held := d.guard.Owner(); held {
		status.Guard = api.GuardStatus{Held: true, Owner: owner}
		if !since.IsZero() {
			status.Guard.Since = since.UTC().Format(time.RFC3339)
		}
	}

	if recent, err := d.history.Recent(ctx, recentHistory); err == nil {
		status.Recent = api.FromHistoryEvents(recent)
	} else {
		d.logger.Debug("history recent query failed", logging.Error(err))
	}
	if summaries, err := d.history.Summaries(ctx, d.now().Add(-summaryWindow)); err == nil {
		status.Summaries = api.FromHistorySummaries(summaries)
	} else {
		d.logger.Debug("history summary query failed", logging.Error(err))
	}

	status.Dependencies = api.FromDependencies(preflight.CheckSystemDeps(d.cfg))
	return status
}

// RemoteLabel renders the remote target as protocol://host[:port]/directory
// for display. Credentials are never included.
func RemoteLabel(cfg *config.Config) string {
	if cfg == nil {
		return ""
	}
	host := cfg.Remote.Host
	if cfg.Remote.Port > 0 {
		host = fmt.Sprintf("%s:%d", host, cfg.Remote.Port)
	}
	dir := cfg.Remote.Directory
	if len(dir) > 0 && dir[0] == '/' {
		return fmt.Sprintf("%s://%s%s", cfg.Remote.Protocol, host, dir)
	}
	return fmt.Sprintf("%s://%s/%s", cfg.Remote.Protocol, host, dir)
}
