package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"snapkeep/internal/command"
	"snapkeep/internal/logging"
)

// CurlOptions configures CurlStore.
type CurlOptions struct {
	Command   string
	ExtraArgs []string
	Host      string
	Port      int
	Username  string
	Password  string
	Directory string
	Timeouts  Timeouts
}

// CurlStore drives an external curl binary against an FTP server.
type CurlStore struct {
	opts   CurlOptions
	runner command.Runner
	logger *slog.Logger
}

// CurlError reports a non-zero curl exit.
type CurlError struct {
	Op       string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CurlError) Error() string {
	msg := fmt.Sprintf("curl %s failed (exit %d)", e.Op, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *CurlError) Unwrap() error { return e.Err }

// Class maps curl exit codes onto retry classes.
func (e *CurlError) Class() Class {
	switch e.ExitCode {
	// couldn't resolve, couldn't connect, server busy, timeout, send/recv failures
	case 6, 7, 28, 35, 55, 56:
		return ClassTransient
	default:
		return ClassPermanent
	}
}

// NewCurlStore builds a curl-backed store.
func NewCurlStore(opts CurlOptions, runner command.Runner, logger *slog.Logger) *CurlStore {
	if opts.Command == "" {
		opts.Command = "curl"
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &CurlStore{opts: opts, runner: runner, logger: logger}
}

// Upload sends localPath as name into the remote directory.
func (s *CurlStore) Upload(ctx context.Context, localPath, name string) error {
	args := s.baseArgs()
	args = append(args, "-T", localPath, s.dirURL()+url.PathEscape(name))
	_, err := s.run(ctx, "upload", args, s.opts.Timeouts.Transfer)
	return err
}

// List returns the bare names in the remote directory, one per line.
func (s *CurlStore) List(ctx context.Context) ([]string, error) {
	args := s.baseArgs()
	args = append(args, "-l", s.dirURL())
	res, err := s.run(ctx, "list", args, s.opts.Timeouts.List)
	if err != nil {
		return nil, err
	}
	return SplitListing(res.Stdout), nil
}

// Delete removes name with a DELE quote command against the server root.
func (s *CurlStore) Delete(ctx context.Context, name string) error {
	args := s.baseArgs()
	args = append(args, "-l", s.rootURL(), "-Q", "DELE "+s.remotePath(name))
	_, err := s.run(ctx, "delete", args, s.opts.Timeouts.Delete)
	return err
}

func (s *CurlStore) run(ctx context.Context, op string, args []string, timeout time.Duration) (command.Result, error) {
	cmd := command.Command{
		Name:    s.opts.Command,
		Args:    args,
		Timeout: timeout,
		Secrets: s.secrets(),
	}
	s.logger.Debug("running curl",
		logging.String("operation", op),
		logging.String("command", cmd.String()),
	)
	res := s.runner.Run(ctx, cmd)
	if res.Err == nil {
		return res, nil
	}
	if res.TimedOut || errors.Is(res.Err, command.ErrTimeout) {
		return res, fmt.Errorf("curl %s: %w", op, res.Err)
	}
	if errors.Is(res.Err, context.Canceled) || errors.Is(res.Err, context.DeadlineExceeded) {
		return res, fmt.Errorf("curl %s: %w", op, res.Err)
	}
	if res.ExitCode < 0 {
		return res, fmt.Errorf("curl %s: %w", op, res.Err)
	}
	return res, &CurlError{
		Op:       op,
		ExitCode: res.ExitCode,
		Stderr:   firstLine(res.Stderr),
		Err:      res.Err,
	}
}

func (s *CurlStore) baseArgs() []string {
	args := make([]string, 0, len(s.opts.ExtraArgs)+8)
	args = append(args, s.opts.ExtraArgs...)
	if s.opts.Username != "" {
		args = append(args, "--user", s.opts.Username+":"+s.opts.Password)
	}
	return args
}

func (s *CurlStore) secrets() []string {
	if s.opts.Password == "" {
		return nil
	}
	return []string{s.opts.Password}
}

func (s *CurlStore) rootURL() string {
	u := url.URL{Scheme: "ftp", Host: s.opts.Host, Path: "/"}
	if s.opts.Port > 0 {
		u.Host = hostPort(s.opts.Host, s.opts.Port, 21)
	}
	return u.String()
}

func (s *CurlStore) dirURL() string {
	base := s.rootURL()
	if s.opts.Directory == "" {
		return base
	}
	return base + escapePath(s.opts.Directory) + "/"
}

func (s *CurlStore) remotePath(name string) string {
	if s.opts.Directory == "" {
		return name
	}
	return s.opts.Directory + "/" + name
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}
