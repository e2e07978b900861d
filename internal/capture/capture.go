package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"snapkeep/internal/clock"
	"snapkeep/internal/command"
	"snapkeep/internal/config"
	"snapkeep/internal/history"
	"snapkeep/internal/logging"
	"snapkeep/internal/metrics"
	"snapkeep/internal/textutil"
)

// Recorder persists capture outcomes.
type Recorder interface {
	Record(ctx context.Context, ev history.Event) error
}

// Options configures a Capturer.
type Options struct {
	Settings   config.Capture
	Runner     command.Runner
	Fs         afero.Fs
	StagingDir string
	// TempDir receives on-demand snapshots. Defaults to os.TempDir().
	TempDir  string
	Timeout  time.Duration
	Location *time.Location
	Now      func() time.Time
	Metrics  *metrics.Collector
	History  Recorder
	Logger   *slog.Logger
}

// Capturer runs the external capture command.
type Capturer struct {
	settings config.Capture
	prefix   string
	runner   command.Runner
	fs       afero.Fs
	staging  string
	tempDir  string
	timeout  time.Duration
	loc      *time.Location
	now      func() time.Time
	metrics  *metrics.Collector
	history  Recorder
	logger   *slog.Logger
}

// New builds a Capturer.
func New(opts Options) (*Capturer, error) {
	if strings.TrimSpace(opts.Settings.Command) == "" {
		return nil, errors.New("capture: command is required")
	}
	if strings.TrimSpace(opts.Settings.Format) == "" {
		return nil, errors.New("capture: format is required")
	}
	if opts.Runner == nil {
		opts.Runner = command.ExecRunner{}
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Capturer{
		settings: opts.Settings,
		prefix:   textutil.FilenamePrefix(opts.Settings.FilenamePrefix),
		runner:   opts.Runner,
		fs:       opts.Fs,
		staging:  opts.StagingDir,
		tempDir:  opts.TempDir,
		timeout:  opts.Timeout,
		loc:      opts.Location,
		now:      opts.Now,
		metrics:  opts.Metrics,
		history:  opts.History,
		logger:   logging.NewComponentLogger(opts.Logger, "capture"),
	}, nil
}

// Command builds the capture invocation writing to output: the configured
// command, extra args, then -rot, -w and -q when set, then -o output.
func (c *Capturer) Command(output string) command.Command {
	args := make([]string, 0, len(c.settings.Args)+8)
	args = append(args, c.settings.Args...)
	if c.settings.Rotate != 0 {
		args = append(args, "-rot", strconv.Itoa(c.settings.Rotate))
	}
	if c.settings.Width != 0 {
		args = append(args, "-w", strconv.Itoa(c.settings.Width))
	}
	if c.settings.Quality != 0 {
		args = append(args, "-q", strconv.Itoa(c.settings.Quality))
	}
	args = append(args, "-o", output)
	return command.Command{
		Name:    c.settings.Command,
		Args:    args,
		Timeout: c.timeout,
	}
}

// FileName returns the staging name for a capture taken at t.
func (c *Capturer) FileName(t time.Time) string {
	return c.prefix + clock.FileStamp(clock.Decompose(clock.In(t, c.loc))) + "." + c.settings.Format
}

// ContentType is the MIME type of captured images.
func (c *Capturer) ContentType() string {
	return "image/" + strings.Replace(c.settings.Format, "jpg", "jpeg", 1)
}

// Stage captures into the staging directory and returns the file name. The
// command writes to a hidden partial file that is renamed once complete, so
// a concurrent drain never uploads half an image.
func (c *Capturer) Stage(ctx context.Context) (string, error) {
	if err := c.fs.MkdirAll(c.staging, 0o755); err != nil {
		return "", fmt.Errorf("create staging directory: %w", err)
	}
	name := c.FileName(c.now())
	partial := filepath.Join(c.staging, "."+name)
	final := filepath.Join(c.staging, name)

	err := c.run(ctx, name, partial)
	if err == nil {
		if renameErr := c.fs.Rename(partial, final); renameErr != nil {
			err = fmt.Errorf("stage capture: %w", renameErr)
		}
	}
	if err != nil {
		_ = c.fs.Remove(partial)
		return "", err
	}
	return name, nil
}

// Snapshot captures to a unique temporary file and returns the image bytes.
// The temporary file is always removed.
func (c *Capturer) Snapshot(ctx context.Context) ([]byte, error) {
	tmp := filepath.Join(c.tempDir, "snapkeep-"+uuid.NewString()+"."+c.settings.Format)
	defer func() { _ = c.fs.Remove(tmp) }()

	if err := c.run(ctx, filepath.Base(tmp), tmp); err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(c.fs, tmp)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return data, nil
}

func (c *Capturer) run(ctx context.Context, name, output string) error {
	cmd := c.Command(output)
	logger := logging.WithContext(ctx, c.logger)
	logger.Debug("running capture command", logging.String("command", cmd.String()))

	res := c.runner.Run(ctx, cmd)
	err := res.Err
	if err != nil && res.Exited() {
		// A tool that exits non-zero after writing its image still counts.
		if _, statErr := c.fs.Stat(output); statErr == nil {
			logging.WarnWithContext(logger, "capture command exited non-zero; keeping image", "capture_nonzero_exit",
				logging.String(logging.FieldFile, name),
				logging.Int("exit_code", res.ExitCode),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the capture tool's stderr"),
			)
			err = nil
		}
	}
	if err == nil {
		if _, statErr := c.fs.Stat(output); statErr != nil {
			err = fmt.Errorf("capture produced no file: %w", statErr)
		}
	}
	c.metrics.CaptureFinished(err == nil, res.Duration)
	c.record(ctx, name, res.Duration, err)

	if res.Stdout != "" || res.Stderr != "" {
		logger.Debug("capture output",
			logging.String("stdout", strings.TrimSpace(res.Stdout)),
			logging.String("stderr", strings.TrimSpace(res.Stderr)),
		)
	}
	if err != nil {
		logging.WarnWithContext(logger, "capture failed", "capture_failed",
			logging.String(logging.FieldFile, name),
			logging.Bool("timed_out", res.TimedOut),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the camera and capture.command"),
			logging.String(logging.FieldImpact, "no image for this slot"),
		)
		return fmt.Errorf("capture: %w", err)
	}
	logger.Info("captured image",
		logging.String(logging.FieldFile, name),
		logging.Duration("elapsed", res.Duration),
		logging.String(logging.FieldEventType, "capture_completed"),
	)
	return nil
}

func (c *Capturer) record(ctx context.Context, name string, elapsed time.Duration, err error) {
	if c.history == nil {
		return
	}
	runID, _ := logging.CorrelationIDFromContext(ctx)
	ev := history.Event{
		RunID:    runID,
		Kind:     history.KindCapture,
		Name:     name,
		Success:  err == nil,
		Duration: elapsed,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	if recErr := c.history.Record(context.WithoutCancel(ctx), ev); recErr != nil {
		c.logger.Warn("record capture history failed", logging.Error(recErr))
	}
}
