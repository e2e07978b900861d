package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/textproto"
	"strings"
	"time"

	"github.com/zalando/go-keyring"

	"snapkeep/internal/command"
	"snapkeep/internal/config"
	"snapkeep/internal/logging"
)

// Store is the remote image directory. Listing entries are whole lines in the
// store's native listing format; callers extract what they need from them.
type Store interface {
	Upload(ctx context.Context, localPath, name string) error
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, name string) error
}

// Timeouts bounds each remote operation.
type Timeouts struct {
	Transfer time.Duration
	List     time.Duration
	Delete   time.Duration
}

// Class describes whether retrying an error might help.
type Class string

const (
	ClassTransient Class = "transient"
	ClassPermanent Class = "permanent"
)

// Classify sorts err into transient or permanent for logging. FTP 4xx replies,
// network errors, and timeouts are transient; everything else is permanent.
func Classify(err error) Class {
	if err == nil {
		return ""
	}
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		if tpErr.Code >= 400 && tpErr.Code < 500 {
			return ClassTransient
		}
		return ClassPermanent
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}
	if errors.Is(err, command.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	var curlErr *CurlError
	if errors.As(err, &curlErr) {
		return curlErr.Class()
	}
	return ClassPermanent
}

// New builds the store selected by remote.protocol.
func New(cfg *config.Config, runner command.Runner, logger *slog.Logger) (Store, error) {
	if cfg == nil {
		return nil, errors.New("remote: config is required")
	}
	password, err := ResolvePassword(cfg.Remote)
	if err != nil {
		return nil, err
	}
	timeouts := Timeouts{
		Transfer: cfg.TransferTimeout(),
		List:     cfg.ListTimeout(),
		Delete:   cfg.DeleteTimeout(),
	}
	logger = logging.NewComponentLogger(logger, "remote")

	switch cfg.Remote.Protocol {
	case config.ProtocolCurl:
		if runner == nil {
			runner = command.ExecRunner{}
		}
		return NewCurlStore(CurlOptions{
			Command:   cfg.Remote.CurlCommand,
			ExtraArgs: cfg.Remote.CurlArgs,
			Host:      cfg.Remote.Host,
			Port:      cfg.Remote.Port,
			Username:  cfg.Remote.Username,
			Password:  password,
			Directory: cfg.Remote.Directory,
			Timeouts:  timeouts,
		}, runner, logger), nil
	case config.ProtocolFTP, config.ProtocolFTPS:
		return NewFTPStore(FTPOptions{
			Host:      cfg.Remote.Host,
			Port:      cfg.Remote.Port,
			Username:  cfg.Remote.Username,
			Password:  password,
			Directory: cfg.Remote.Directory,
			TLS:       cfg.Remote.Protocol == config.ProtocolFTPS,
			Timeouts:  timeouts,
		}, logger), nil
	case config.ProtocolSFTP:
		return NewSFTPStore(SFTPOptions{
			Host:           cfg.Remote.Host,
			Port:           cfg.Remote.Port,
			Username:       cfg.Remote.Username,
			Password:       password,
			KeyPath:        cfg.Remote.SSHKeyPath,
			KnownHostsPath: cfg.Remote.KnownHostsPath,
			Directory:      cfg.Remote.Directory,
			Timeouts:       timeouts,
		}, logger), nil
	default:
		return nil, fmt.Errorf("remote: unsupported protocol %q", cfg.Remote.Protocol)
	}
}

// ResolvePassword returns the remote password according to password_source.
// The env source is applied during config normalization.
func ResolvePassword(remote config.Remote) (string, error) {
	switch remote.PasswordSource {
	case "", config.PasswordFromConfig, config.PasswordFromEnv:
		return remote.Password, nil
	case config.PasswordFromKeyring:
		secret, err := keyring.Get(config.KeyringService, remote.Username)
		if err != nil {
			if errors.Is(err, keyring.ErrNotFound) {
				return "", fmt.Errorf("remote: no keyring entry for service %q user %q", config.KeyringService, remote.Username)
			}
			return "", fmt.Errorf("remote: read keyring: %w", err)
		}
		return secret, nil
	default:
		return "", fmt.Errorf("remote: unsupported password source %q", remote.PasswordSource)
	}
}

// SplitListing normalises CR and CRLF line endings and drops blank lines.
func SplitListing(output string) []string {
	output = strings.ReplaceAll(output, "\r\n", "\n")
	output = strings.ReplaceAll(output, "\r", "\n")
	lines := strings.Split(output, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

func hostPort(host string, port, fallback int) string {
	if port <= 0 {
		port = fallback
	}
	return net.JoinHostPort(host, fmt.Sprint(port))
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
