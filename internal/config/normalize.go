package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeCapture()
	if err := c.normalizeRemote(); err != nil {
		return err
	}
	c.normalizeRetention()
	c.normalizeSchedule()
	c.normalizeLogging()
	c.normalizeNotifications()
	c.normalizeMetrics()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StagingDir) == "" {
		c.Paths.StagingDir = defaultStagingDir
	}
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	return nil
}

func (c *Config) normalizeCapture() {
	c.Capture.Command = strings.TrimSpace(c.Capture.Command)
	if c.Capture.Command == "" {
		c.Capture.Command = defaultCaptureCommand
	}
	c.Capture.Format = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(c.Capture.Format), "."))
	if c.Capture.Format == "" {
		c.Capture.Format = defaultCaptureFormat
	}
	c.Capture.FilenamePrefix = strings.TrimSpace(c.Capture.FilenamePrefix)
	if c.Capture.TimeoutSeconds <= 0 {
		c.Capture.TimeoutSeconds = defaultCaptureTimeoutSeconds
	}
	c.Capture.Args = trimArgs(c.Capture.Args)
}

func (c *Config) normalizeRemote() error {
	c.Remote.Protocol = strings.ToLower(strings.TrimSpace(c.Remote.Protocol))
	if c.Remote.Protocol == "" {
		c.Remote.Protocol = defaultRemoteProtocol
	}
	c.Remote.Host = strings.TrimSpace(c.Remote.Host)
	if c.Remote.Host == "" {
		if value, ok := os.LookupEnv(RemoteHostEnv); ok {
			c.Remote.Host = strings.TrimSpace(value)
		}
	}
	c.Remote.Username = strings.TrimSpace(c.Remote.Username)
	// SFTP paths may be absolute; FTP paths are relative to the login directory.
	rawDir := strings.TrimSpace(c.Remote.Directory)
	c.Remote.Directory = strings.Trim(rawDir, "/")
	if c.Remote.Protocol == ProtocolSFTP && strings.HasPrefix(rawDir, "/") {
		c.Remote.Directory = "/" + c.Remote.Directory
	}

	c.Remote.PasswordSource = strings.ToLower(strings.TrimSpace(c.Remote.PasswordSource))
	if c.Remote.PasswordSource == "" {
		c.Remote.PasswordSource = defaultPasswordSource
	}
	if c.Remote.PasswordSource == PasswordFromEnv {
		if value, ok := os.LookupEnv(RemotePasswordEnv); ok {
			c.Remote.Password = value
		}
	}

	c.Remote.CurlCommand = strings.TrimSpace(c.Remote.CurlCommand)
	if c.Remote.CurlCommand == "" {
		c.Remote.CurlCommand = defaultCurlCommand
	}
	c.Remote.CurlArgs = trimArgs(c.Remote.CurlArgs)

	var err error
	if c.Remote.SSHKeyPath, err = expandPath(strings.TrimSpace(c.Remote.SSHKeyPath)); err != nil {
		return fmt.Errorf("remote.ssh_key_path: %w", err)
	}
	if strings.TrimSpace(c.Remote.KnownHostsPath) == "" {
		c.Remote.KnownHostsPath = defaultKnownHostsPath
	}
	if c.Remote.KnownHostsPath, err = expandPath(c.Remote.KnownHostsPath); err != nil {
		return fmt.Errorf("remote.known_hosts_path: %w", err)
	}

	if c.Remote.TransferTimeoutSeconds <= 0 {
		c.Remote.TransferTimeoutSeconds = defaultTransferTimeoutSeconds
	}
	if c.Remote.ListTimeoutSeconds <= 0 {
		c.Remote.ListTimeoutSeconds = defaultListTimeoutSeconds
	}
	if c.Remote.DeleteTimeoutSeconds <= 0 {
		c.Remote.DeleteTimeoutSeconds = defaultDeleteTimeoutSeconds
	}
	return nil
}

func (c *Config) normalizeRetention() {
	c.Retention.Selection = strings.ToLower(strings.TrimSpace(c.Retention.Selection))
	if c.Retention.Selection == "" {
		c.Retention.Selection = defaultRetentionSelection
	}
}

func (c *Config) normalizeSchedule() {
	c.Schedule.Timezone = strings.TrimSpace(c.Schedule.Timezone)
	if c.Schedule.Events == nil {
		c.Schedule.Events = defaultScheduleEvents()
		return
	}
	events := make(map[string]string, len(c.Schedule.Events))
	for event, handler := range c.Schedule.Events {
		handler = strings.TrimSpace(handler)
		if canonical, ok := handlerAliases[handler]; ok {
			handler = canonical
		}
		events[strings.TrimSpace(event)] = handler
	}
	c.Schedule.Events = events
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeoutSeconds <= 0 {
		c.Notifications.RequestTimeoutSeconds = defaultNotifyTimeoutSeconds
	}
}

func (c *Config) normalizeMetrics() {
	c.Metrics.Path = strings.TrimSpace(c.Metrics.Path)
	if c.Metrics.Path == "" {
		c.Metrics.Path = defaultMetricsPath
	}
	if !strings.HasPrefix(c.Metrics.Path, "/") {
		c.Metrics.Path = "/" + c.Metrics.Path
	}
}

func trimArgs(args []string) []string {
	if len(args) == 0 {
		return nil
	}
	out := make([]string, 0, len(args))
	for _, arg := range args {
		if arg = strings.TrimSpace(arg); arg != "" {
			out = append(out, arg)
		}
	}
	return out
}
