package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/afero"

	"snapkeep/internal/api"
	"snapkeep/internal/config"
	"snapkeep/internal/daemon"
	"snapkeep/internal/history"
	"snapkeep/internal/preflight"
	"snapkeep/internal/upload"
)

// ErrDaemonNotRunning indicates no daemon process or control endpoint was found.
var ErrDaemonNotRunning = errors.New("daemon not running")

// LaunchOptions controls daemon process launch behavior.
type LaunchOptions struct {
	ConfigPath string
	LogLevel   string
}

type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
)

// StartResult captures daemon start orchestration state.
type StartResult struct {
	State    StartState
	Launched bool
	PID      int
}

// StopResult captures daemon stop/termination outcome.
type StopResult struct {
	ForcedKill bool
	PID        int
}

// RestartResult captures stop/start outcomes for daemon restart.
type RestartResult struct {
	WasRunning bool
	Stop       StopResult
	Start      StartResult
}

// Launch starts a detached snapkeep daemon process.
func Launch(executablePath string, opts LaunchOptions) error {
	if strings.TrimSpace(executablePath) == "" {
		return fmt.Errorf("resolve executable: executable path is empty")
	}

	args := []string{"daemon"}
	if cfg := strings.TrimSpace(opts.ConfigPath); cfg != "" {
		args = append(args, "--config", cfg)
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		args = append(args, "--log-level", level)
	}

	proc := exec.Command(executablePath, args...)
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

// Client builds a control endpoint client from the config.
func Client(cfg *config.Config) (*api.Client, error) {
	if cfg == nil {
		return nil, errors.New("configuration not available")
	}
	return api.NewClient(cfg.Paths.APIBind, cfg.Paths.APIToken)
}

// WaitForAPI polls the control endpoint until it reports a running daemon.
func WaitForAPI(ctx context.Context, cfg *config.Config, timeout time.Duration) (*api.DaemonStatus, error) {
	client, err := Client(cfg)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		status, err := client.Status(ctx)
		if err == nil && status.Running {
			return status, nil
		}
		if err != nil {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timeout waiting for daemon")
	}
	return nil, fmt.Errorf("daemon failed to start: %w", lastErr)
}

// EnsureStarted launches the daemon unless one is already answering.
func EnsureStarted(ctx context.Context, cfg *config.Config, executablePath string, opts LaunchOptions, waitTimeout time.Duration) (StartResult, error) {
	if pid, alive := RunningPID(cfg); alive {
		return StartResult{State: StartStateAlreadyRunning, PID: pid}, nil
	}
	if err := Launch(executablePath, opts); err != nil {
		return StartResult{}, err
	}
	status, err := WaitForAPI(ctx, cfg, waitTimeout)
	if err != nil {
		return StartResult{}, err
	}
	return StartResult{State: StartStateStarted, Launched: true, PID: status.PID}, nil
}

// RunningPID reads the daemon pid file and reports whether that process is
// alive.
func RunningPID(cfg *config.Config) (int, bool) {
	if cfg == nil {
		return 0, false
	}
	pid, err := readPID(cfg.PIDPath())
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, processAlive(pid)
}

// Stop sends SIGTERM to the daemon and waits up to gracePeriod for it to
// exit, then falls back to SIGKILL.
func Stop(cfg *config.Config, gracePeriod time.Duration) (StopResult, error) {
	pid, alive := RunningPID(cfg)
	if !alive {
		return StopResult{}, ErrDaemonNotRunning
	}
	if pid == os.Getpid() {
		return StopResult{}, fmt.Errorf("refusing to signal current process (pid %d)", pid)
	}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return StopResult{}, ErrDaemonNotRunning
		}
		return StopResult{}, fmt.Errorf("signal daemon process %d: %w", pid, err)
	}

	result := StopResult{PID: pid}
	if waitForExit(pid, gracePeriod) {
		return result, nil
	}
	if _, err := ForceKillProcess(cfg.PIDPath(), pid); err != nil {
		return result, fmt.Errorf("failed to stop daemon process: %w", err)
	}
	result.ForcedKill = true
	return result, nil
}

// ForceKillProcess sends SIGKILL to the daemon process and removes its pid
// file. The flock releases itself when the process dies.
func ForceKillProcess(pidPath string, fallbackPID int) (int, error) {
	pid := fallbackPID
	if parsed, err := readPID(pidPath); err == nil && parsed > 0 {
		pid = parsed
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("read daemon pid file %q: %w", pidPath, err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("unable to determine daemon pid (pid file: %s)", pidPath)
	}
	if pid == os.Getpid() {
		return 0, fmt.Errorf("refusing to kill current process (pid %d)", pid)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, fmt.Errorf("locate daemon process %d: %w", pid, err)
	}
	if err := proc.Kill(); err != nil {
		return 0, fmt.Errorf("kill daemon process %d: %w", pid, err)
	}
	if err := os.Remove(pidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("remove pid file %q: %w", pidPath, err)
	}
	return pid, nil
}

// Restart stops the daemon if running, then ensures it is started.
func Restart(ctx context.Context, cfg *config.Config, executablePath string, opts LaunchOptions, stopGracePeriod, startWaitTimeout time.Duration) (RestartResult, error) {
	stopResult, stopErr := Stop(cfg, stopGracePeriod)
	if stopErr != nil && !errors.Is(stopErr, ErrDaemonNotRunning) {
		return RestartResult{}, stopErr
	}

	startResult, err := EnsureStarted(ctx, cfg, executablePath, opts, startWaitTimeout)
	if err != nil {
		return RestartResult{}, err
	}

	return RestartResult{
		WasRunning: stopErr == nil,
		Stop:       stopResult,
		Start:      startResult,
	}, nil
}

func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pid file %q: %w", path, err)
	}
	return pid, nil
}

func processAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

func waitForExit(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			return true
		}
		time.Sleep(200 * time.Millisecond)
	}
	return !processAlive(pid)
}

// StatusReport is the status view rendered by the CLI.
type StatusReport struct {
	Daemon            api.DaemonStatus
	Online            bool
	SystemChecks      []api.StatusLine
	DependencySummary api.DependencySummary
}

// BuildStatusSnapshot asks the running daemon for its status. When the
// control endpoint is unreachable it assembles the same view from the
// config, the staging directory, and the history database.
func BuildStatusSnapshot(ctx context.Context, cfg *config.Config) (*StatusReport, error) {
	if cfg == nil {
		return nil, errors.New("configuration not available")
	}
	report := &StatusReport{}

	if client, err := Client(cfg); err == nil {
		queryCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		status, statusErr := client.Status(queryCtx)
		cancel()
		if statusErr == nil && status != nil {
			report.Daemon = *status
			report.Online = true
		}
	}

	if !report.Online {
		report.Daemon = offlineStatus(ctx, cfg)
	}
	if len(report.Daemon.Dependencies) == 0 {
		report.Daemon.Dependencies = ResolveDependencies(cfg)
	}
	for i := range report.Daemon.Dependencies {
		dep := &report.Daemon.Dependencies[i]
		if strings.TrimSpace(dep.Severity) != "" {
			continue
		}
		dep.Severity = "ok"
		if !dep.Available {
			dep.Severity = "error"
			if dep.Optional {
				dep.Severity = "warn"
			}
		}
	}

	report.SystemChecks = BuildSystemChecks(ctx, cfg, report.Daemon)
	report.DependencySummary = BuildDependencySummary(report.Daemon.Dependencies)
	return report, nil
}

func offlineStatus(ctx context.Context, cfg *config.Config) api.DaemonStatus {
	status := api.DaemonStatus{
		LockFilePath:  cfg.LockPath(),
		HistoryDBPath: cfg.HistoryPath(),
		StagingDir:    cfg.Paths.StagingDir,
		Remote:        daemon.RemoteLabel(cfg),
		RetentionDays: cfg.Retention.KeepDays,
		Schedule:      api.ScheduleEntries(cfg.Schedule.Events),
	}
	if pid, alive := RunningPID(cfg); alive {
		status.PID = pid
	}
	if names, err := upload.Pending(afero.NewOsFs(), cfg.Paths.StagingDir); err == nil {
		status.PendingUploads = len(names)
	}

	// Opening creates the database, so only read one that already exists.
	if _, err := os.Stat(cfg.HistoryPath()); err != nil {
		return status
	}
	store, err := history.Open(cfg.HistoryPath())
	if err != nil {
		return status
	}
	defer store.Close()

	queryCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if recent, err := store.Recent(queryCtx, 10); err == nil {
		status.Recent = api.FromHistoryEvents(recent)
	}
	if summaries, err := store.Summaries(queryCtx, time.Now().Add(-24*time.Hour)); err == nil {
		status.Summaries = api.FromHistorySummaries(summaries)
	}
	return status
}

// ResolveDependencies returns current dependency availability for status output.
func ResolveDependencies(cfg *config.Config) []api.DependencyStatus {
	if cfg == nil {
		return nil
	}
	return api.FromDependencies(preflight.CheckSystemDeps(cfg))
}

// BuildSystemChecks resolves status lines that combine runtime state and
// config checks.
func BuildSystemChecks(ctx context.Context, cfg *config.Config, status api.DaemonStatus) []api.StatusLine {
	lines := make([]api.StatusLine, 0, 6)
	if status.Running {
		detail := "Running"
		if status.PID > 0 {
			detail = fmt.Sprintf("Running (pid %d)", status.PID)
		}
		lines = append(lines, api.StatusLine{Label: "Snapkeep", Severity: "ok", Detail: detail})
	} else {
		lines = append(lines, api.StatusLine{Label: "Snapkeep", Severity: "warn", Detail: "Not running (run `snapkeep start`)"})
	}

	staging := preflight.CheckDirectoryAccess("Staging", cfg.Paths.StagingDir)
	switch {
	case !staging.Passed:
		lines = append(lines, api.StatusLine{Label: "Staging", Severity: "error", Detail: staging.Detail})
	case status.PendingUploads > 0:
		lines = append(lines, api.StatusLine{Label: "Staging", Severity: "warn", Detail: fmt.Sprintf("%d file(s) awaiting upload", status.PendingUploads)})
	default:
		lines = append(lines, api.StatusLine{Label: "Staging", Severity: "ok", Detail: "Empty"})
	}

	remoteCheck := preflight.CheckRemote(ctx, cfg)
	severity := "ok"
	if !remoteCheck.Passed {
		severity = "warn"
	}
	lines = append(lines, api.StatusLine{Label: "Remote", Severity: severity, Detail: remoteCheck.Detail})

	if status.RetentionDays > 0 {
		lines = append(lines, api.StatusLine{Label: "Retention", Severity: "ok", Detail: fmt.Sprintf("Keep %d day(s)", status.RetentionDays)})
	} else {
		lines = append(lines, api.StatusLine{Label: "Retention", Severity: "info", Detail: "Disabled (remote files kept forever)"})
	}

	if status.Guard.Held {
		lines = append(lines, api.StatusLine{Label: "Busy", Severity: "info", Detail: status.Guard.Owner + " in progress"})
	}
	if status.WatchingStaging {
		lines = append(lines, api.StatusLine{Label: "Watcher", Severity: "ok", Detail: "Uploading new captures as they land"})
	}
	return lines
}

// BuildDependencySummary computes aggregate dependency readiness.
func BuildDependencySummary(deps []api.DependencyStatus) api.DependencySummary {
	if len(deps) == 0 {
		return api.DependencySummary{
			Severity: "info",
			Detail:   "No dependency checks configured",
		}
	}

	missingRequired := 0
	missingOptional := 0
	for _, dep := range deps {
		if dep.Available {
			continue
		}
		if dep.Optional {
			missingOptional++
		} else {
			missingRequired++
		}
	}

	missingCount := missingRequired + missingOptional
	available := len(deps) - missingCount
	severity := "ok"
	if missingRequired > 0 {
		severity = "error"
	} else if missingOptional > 0 {
		severity = "warn"
	}
	detail := fmt.Sprintf("%d/%d available (missing: %d required, %d optional)", available, len(deps), missingRequired, missingOptional)
	if missingCount == 0 {
		detail = fmt.Sprintf("%d/%d available", available, len(deps))
	}

	return api.DependencySummary{
		Total:           len(deps),
		Available:       available,
		MissingRequired: missingRequired,
		MissingOptional: missingOptional,
		Severity:        severity,
		Detail:          detail,
	}
}
