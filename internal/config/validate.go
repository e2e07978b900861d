package config

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"snapkeep/internal/scheduler"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateCapture(); err != nil {
		return err
	}
	if err := c.validateRemote(); err != nil {
		return err
	}
	if err := c.validateUpload(); err != nil {
		return err
	}
	if err := c.validateRetention(); err != nil {
		return err
	}
	if err := c.validateSchedule(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return c.validateNotifications()
}

func (c *Config) validateCapture() error {
	if err := ensureNonNegativeMap(map[string]int{
		"capture.rotate":  c.Capture.Rotate,
		"capture.width":   c.Capture.Width,
		"capture.quality": c.Capture.Quality,
	}); err != nil {
		return err
	}
	if c.Capture.Quality > 100 {
		return errors.New("capture.quality must be between 0 and 100")
	}
	if strings.ContainsAny(c.Capture.Format, `/\ `) {
		return errors.New("capture.format must be a bare extension such as jpg or png")
	}
	if strings.ContainsAny(c.Capture.FilenamePrefix, `/\`) {
		return errors.New("capture.filename_prefix must not contain path separators")
	}
	return nil
}

func (c *Config) validateRemote() error {
	switch c.Remote.Protocol {
	case ProtocolCurl, ProtocolFTP, ProtocolFTPS, ProtocolSFTP:
	default:
		return fmt.Errorf("remote.protocol must be one of curl, ftp, ftps, sftp (got %q)", c.Remote.Protocol)
	}
	if c.Remote.Host == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/snapkeep/config.toml"
		}
		return fmt.Errorf("remote.host is required. Set %s env var or edit %s (create with 'snapkeep config init')", RemoteHostEnv, defaultPath)
	}
	if strings.ContainsAny(c.Remote.Host, "/@") {
		return errors.New("remote.host must be a bare hostname without scheme, path, or credentials")
	}
	if c.Remote.Port < 0 || c.Remote.Port > 65535 {
		return errors.New("remote.port must be between 0 and 65535")
	}
	switch c.Remote.PasswordSource {
	case PasswordFromConfig, PasswordFromEnv:
	case PasswordFromKeyring:
		if c.Remote.Username == "" {
			return errors.New("remote.username must be set when remote.password_source is keyring")
		}
	default:
		return fmt.Errorf("remote.password_source must be config, env, or keyring (got %q)", c.Remote.PasswordSource)
	}
	if err := ensurePositiveMap(map[string]int{
		"remote.transfer_timeout_seconds": c.Remote.TransferTimeoutSeconds,
		"remote.list_timeout_seconds":     c.Remote.ListTimeoutSeconds,
		"remote.delete_timeout_seconds":   c.Remote.DeleteTimeoutSeconds,
	}); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateUpload() error {
	return ensureNonNegativeMap(map[string]int{
		"upload.max_attempts":        c.Upload.MaxAttempts,
		"upload.retry_delay_seconds": c.Upload.RetryDelaySeconds,
	})
}

func (c *Config) validateRetention() error {
	if err := ensureNonNegativeMap(map[string]int{
		"retention.keep_days":  c.Retention.KeepDays,
		"retention.max_passes": c.Retention.MaxPasses,
	}); err != nil {
		return err
	}
	switch c.Retention.Selection {
	case SelectionLast, SelectionFirst, SelectionOldest:
	default:
		return fmt.Errorf("retention.selection must be last, first, or oldest (got %q)", c.Retention.Selection)
	}
	return nil
}

func (c *Config) validateSchedule() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	known := HandlerNames()
	for event, handler := range c.Schedule.Events {
		if _, err := scheduler.ParseEvent(event); err != nil {
			return fmt.Errorf("schedule.events: %w", err)
		}
		if !slices.Contains(known, handler) {
			return fmt.Errorf("schedule.events[%q]: unknown handler %q (known: %s)", event, handler, strings.Join(known, ", "))
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return fmt.Errorf("logging.level must be debug, info, warn, or error (got %q)", c.Logging.Level)
	}
	return nil
}

func (c *Config) validateNotifications() error {
	topic := c.Notifications.NtfyTopic
	if topic == "" {
		return nil
	}
	if !strings.HasPrefix(topic, "http://") && !strings.HasPrefix(topic, "https://") {
		return fmt.Errorf("notifications.ntfy_topic must be an http(s) URL (got %q)", topic)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}

func ensureNonNegativeMap(values map[string]int) error {
	for key, value := range values {
		if value < 0 {
			return fmt.Errorf("%s must be >= 0", key)
		}
	}
	return nil
}
