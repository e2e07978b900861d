package remote

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path"
	"time"

	"github.com/jlaffaye/ftp"

	"snapkeep/internal/logging"
)

const dialTimeout = 30 * time.Second

// FTPOptions configures FTPStore.
type FTPOptions struct {
	Host      string
	Port      int
	Username  string
	Password  string
	Directory string
	// TLS upgrades the control and data connections with AUTH TLS.
	TLS      bool
	Timeouts Timeouts
}

// FTPStore talks FTP or explicit FTPS directly, one session per operation.
type FTPStore struct {
	opts   FTPOptions
	addr   string
	logger *slog.Logger
}

// NewFTPStore builds a native FTP store.
func NewFTPStore(opts FTPOptions, logger *slog.Logger) *FTPStore {
	if opts.Username == "" {
		opts.Username = "anonymous"
		if opts.Password == "" {
			opts.Password = "anonymous"
		}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &FTPStore{
		opts:   opts,
		addr:   hostPort(opts.Host, opts.Port, 21),
		logger: logger,
	}
}

// Upload stores localPath as name in the remote directory.
func (s *FTPStore) Upload(ctx context.Context, localPath, name string) error {
	ctx, cancel := withTimeout(ctx, s.opts.Timeouts.Transfer)
	defer cancel()

	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("ftp upload: open %s: %w", localPath, err)
	}
	defer file.Close()

	conn, err := s.connect(ctx)
	if err != nil {
		return fmt.Errorf("ftp upload: %w", err)
	}
	defer s.quit(conn)

	if err := conn.Stor(s.remotePath(name), file); err != nil {
		return fmt.Errorf("ftp upload %s: %w", name, err)
	}
	return nil
}

// List returns the names of regular files in the remote directory.
func (s *FTPStore) List(ctx context.Context) ([]string, error) {
	ctx, cancel := withTimeout(ctx, s.opts.Timeouts.List)
	defer cancel()

	conn, err := s.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("ftp list: %w", err)
	}
	defer s.quit(conn)

	entries, err := conn.List(s.opts.Directory)
	if err != nil {
		return nil, fmt.Errorf("ftp list: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry == nil || entry.Type == ftp.EntryTypeFolder {
			continue
		}
		names = append(names, path.Base(entry.Name))
	}
	return names, nil
}

// Delete removes name from the remote directory.
func (s *FTPStore) Delete(ctx context.Context, name string) error {
	ctx, cancel := withTimeout(ctx, s.opts.Timeouts.Delete)
	defer cancel()

	conn, err := s.connect(ctx)
	if err != nil {
		return fmt.Errorf("ftp delete: %w", err)
	}
	defer s.quit(conn)

	if err := conn.Delete(s.remotePath(name)); err != nil {
		return fmt.Errorf("ftp delete %s: %w", name, err)
	}
	return nil
}

func (s *FTPStore) connect(ctx context.Context) (*ftp.ServerConn, error) {
	dialOpts := []ftp.DialOption{
		ftp.DialWithTimeout(dialTimeout),
		ftp.DialWithDialFunc(func(network, address string) (net.Conn, error) {
			return dialWithDeadline(ctx, network, address)
		}),
	}
	if s.opts.TLS {
		dialOpts = append(dialOpts, ftp.DialWithExplicitTLS(&tls.Config{
			ServerName: s.opts.Host,
			MinVersion: tls.VersionTLS12,
		}))
	}

	conn, err := ftp.Dial(s.addr, dialOpts...)
	if err != nil {
		return nil, err
	}
	if err := conn.Login(s.opts.Username, s.opts.Password); err != nil {
		_ = conn.Quit()
		return nil, err
	}
	return conn, nil
}

func (s *FTPStore) quit(conn *ftp.ServerConn) {
	if err := conn.Quit(); err != nil {
		s.logger.Debug("ftp quit failed", logging.Error(err))
	}
}

func (s *FTPStore) remotePath(name string) string {
	if s.opts.Directory == "" {
		return name
	}
	return path.Join(s.opts.Directory, name)
}

// dialWithDeadline dials address and carries ctx's deadline onto the socket
// so a stalled transfer fails instead of hanging.
func dialWithDeadline(ctx context.Context, network, address string) (net.Conn, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return conn, nil
}
