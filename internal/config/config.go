package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	StagingDir string `toml:"staging_dir"`
	StateDir   string `toml:"state_dir"`
	LogDir     string `toml:"log_dir"`
	APIBind    string `toml:"api_bind"`
	APIToken   string `toml:"api_token"`
}

// Capture contains configuration for the still-image capture command.
type Capture struct {
	Command        string   `toml:"command"`
	Args           []string `toml:"args"`
	Rotate         int      `toml:"rotate"`
	Width          int      `toml:"width"`
	Quality        int      `toml:"quality"`
	Format         string   `toml:"format"`
	FilenamePrefix string   `toml:"filename_prefix"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
}

// Remote contains configuration for the remote image store.
type Remote struct {
	Protocol               string   `toml:"protocol"`
	Host                   string   `toml:"host"`
	Port                   int      `toml:"port"`
	Username               string   `toml:"username"`
	Password               string   `toml:"password"`
	PasswordSource         string   `toml:"password_source"`
	Directory              string   `toml:"directory"`
	CurlCommand            string   `toml:"curl_command"`
	CurlArgs               []string `toml:"curl_args"`
	SSHKeyPath             string   `toml:"ssh_key_path"`
	KnownHostsPath         string   `toml:"known_hosts_path"`
	TransferTimeoutSeconds int      `toml:"transfer_timeout_seconds"`
	ListTimeoutSeconds     int      `toml:"list_timeout_seconds"`
	DeleteTimeoutSeconds   int      `toml:"delete_timeout_seconds"`
}

// Upload contains configuration for draining the staging directory.
type Upload struct {
	// MaxAttempts ends a drain after the same head file fails this many
	// consecutive times. Zero retries forever.
	MaxAttempts       int  `toml:"max_attempts"`
	RetryDelaySeconds int  `toml:"retry_delay_seconds"`
	WatchStaging      bool `toml:"watch_staging"`
}

// Retention contains configuration for pruning old remote images.
type Retention struct {
	KeepDays  int    `toml:"keep_days"`
	Selection string `toml:"selection"`
	MaxPasses int    `toml:"max_passes"`
}

// Schedule maps clock events to named handlers.
type Schedule struct {
	Timezone string            `toml:"timezone"`
	Events   map[string]string `toml:"events"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Notifications contains configuration for ntfy alerts.
type Notifications struct {
	// NtfyTopic is the full topic URL, e.g. https://ntfy.sh/my-camera.
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
}

// Metrics contains configuration for the Prometheus endpoint.
type Metrics struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Config encapsulates all configuration values for snapkeep.
//
// Configuration sections by subsystem:
//   - Paths: staging, state, and log directories plus the API bind address
//   - Capture: snapshot command and image options
//   - Remote: where images are uploaded and how
//   - Upload: staging drain bounds
//   - Retention: remote pruning window and selection policy
//   - Schedule: clock event to handler mapping
//   - Logging: log format, level, and retention
//   - Notifications: ntfy alerts for failed tasks
//   - Metrics: Prometheus exposition
type Config struct {
	Paths     Paths     `toml:"paths"`
	Capture   Capture   `toml:"capture"`
	Remote    Remote    `toml:"remote"`
	Upload    Upload    `toml:"upload"`
	Retention Retention `toml:"retention"`
	Schedule  Schedule  `toml:"schedule"`
	Logging       Logging       `toml:"logging"`
	Notifications Notifications `toml:"notifications"`
	Metrics       Metrics       `toml:"metrics"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/snapkeep/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("snapkeep.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StagingDir, c.Paths.StateDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// PIDPath returns the daemon pid file location.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.StateDir, "snapkeep.pid")
}

// LockPath returns the single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "snapkeep.lock")
}

// HistoryPath returns the activity history database location.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.Paths.StateDir, "history.db")
}

// Location resolves schedule.timezone. An empty value means the host's local zone.
func (c *Config) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.Schedule.Timezone)
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("schedule.timezone: %w", err)
	}
	return loc, nil
}

// CaptureTimeout returns the snapshot command timeout.
func (c *Config) CaptureTimeout() time.Duration {
	return seconds(c.Capture.TimeoutSeconds)
}

// TransferTimeout returns the per-file upload timeout.
func (c *Config) TransferTimeout() time.Duration {
	return seconds(c.Remote.TransferTimeoutSeconds)
}

// ListTimeout returns the remote listing timeout.
func (c *Config) ListTimeout() time.Duration {
	return seconds(c.Remote.ListTimeoutSeconds)
}

// DeleteTimeout returns the remote delete timeout.
func (c *Config) DeleteTimeout() time.Duration {
	return seconds(c.Remote.DeleteTimeoutSeconds)
}

// RetryDelay returns the pause between a failed upload and the next pass.
// NotifyTimeout bounds one ntfy request.
func (c *Config) NotifyTimeout() time.Duration {
	return seconds(c.Notifications.RequestTimeoutSeconds)
}

func (c *Config) RetryDelay() time.Duration {
	return seconds(c.Upload.RetryDelaySeconds)
}

func seconds(value int) time.Duration {
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the effective configuration as TOML with secrets masked.
func (c *Config) Encode() ([]byte, error) {
	masked := *c
	if masked.Remote.Password != "" {
		masked.Remote.Password = "****"
	}
	if masked.Paths.APIToken != "" {
		masked.Paths.APIToken = "****"
	}
	return toml.Marshal(masked)
}
