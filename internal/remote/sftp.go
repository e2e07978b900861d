package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"snapkeep/internal/logging"
)

// SFTPOptions configures SFTPStore.
type SFTPOptions struct {
	Host           string
	Port           int
	Username       string
	Password       string
	KeyPath        string
	KnownHostsPath string
	Directory      string
	Timeouts       Timeouts
}

// SFTPStore uploads over SSH. Host keys are trusted on first use.
type SFTPStore struct {
	opts   SFTPOptions
	addr   string
	hosts  *hostKeys
	logger *slog.Logger
}

// NewSFTPStore builds an SFTP store.
func NewSFTPStore(opts SFTPOptions, logger *slog.Logger) *SFTPStore {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &SFTPStore{
		opts:   opts,
		addr:   hostPort(opts.Host, opts.Port, 22),
		hosts:  newHostKeys(opts.KnownHostsPath, logger),
		logger: logger,
	}
}

// Upload writes localPath to name in the remote directory.
func (s *SFTPStore) Upload(ctx context.Context, localPath, name string) error {
	ctx, cancel := withTimeout(ctx, s.opts.Timeouts.Transfer)
	defer cancel()

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("sftp upload: open %s: %w", localPath, err)
	}
	defer src.Close()

	return s.session(ctx, "upload", func(client *sftp.Client) error {
		dst, err := client.Create(s.remotePath(name))
		if err != nil {
			return err
		}
		if _, err := io.Copy(dst, src); err != nil {
			dst.Close()
			return err
		}
		return dst.Close()
	})
}

// List returns the names of regular files in the remote directory.
func (s *SFTPStore) List(ctx context.Context) ([]string, error) {
	ctx, cancel := withTimeout(ctx, s.opts.Timeouts.List)
	defer cancel()

	var names []string
	err := s.session(ctx, "list", func(client *sftp.Client) error {
		dir := s.opts.Directory
		if dir == "" {
			dir = "."
		}
		infos, err := client.ReadDir(dir)
		if err != nil {
			return err
		}
		for _, info := range infos {
			if !info.Mode().IsRegular() {
				continue
			}
			names = append(names, info.Name())
		}
		return nil
	})
	return names, err
}

// Delete removes name from the remote directory.
func (s *SFTPStore) Delete(ctx context.Context, name string) error {
	ctx, cancel := withTimeout(ctx, s.opts.Timeouts.Delete)
	defer cancel()

	return s.session(ctx, "delete", func(client *sftp.Client) error {
		return client.Remove(s.remotePath(name))
	})
}

// session opens one SSH connection for fn. Cancelling ctx closes the
// connection, which unblocks any in-flight request.
func (s *SFTPStore) session(ctx context.Context, op string, fn func(*sftp.Client) error) error {
	auth, err := s.authMethods()
	if err != nil {
		return err
	}
	config := &ssh.ClientConfig{
		User:            s.opts.Username,
		Auth:            auth,
		HostKeyCallback: s.hosts.callback,
		Timeout:         dialTimeout,
	}

	sshConn, err := ssh.Dial("tcp", s.addr, config)
	if err != nil {
		return fmt.Errorf("sftp %s: connect: %w", op, err)
	}
	defer sshConn.Close()
	stop := context.AfterFunc(ctx, func() { sshConn.Close() })
	defer stop()

	client, err := sftp.NewClient(sshConn)
	if err != nil {
		return fmt.Errorf("sftp %s: open subsystem: %w", op, err)
	}
	defer client.Close()

	if err := fn(client); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("sftp %s: %w", op, ctxErr)
		}
		return fmt.Errorf("sftp %s: %w", op, err)
	}
	return nil
}

// authMethods prefers a password, then an explicit key, then the default
// ~/.ssh keys.
func (s *SFTPStore) authMethods() ([]ssh.AuthMethod, error) {
	if s.opts.Password != "" {
		return []ssh.AuthMethod{ssh.Password(s.opts.Password)}, nil
	}

	keyPaths := s.keyPaths()
	for _, kp := range keyPaths {
		pemBytes, err := os.ReadFile(kp)
		if err != nil {
			continue
		}
		signer, err := ssh.ParsePrivateKey(pemBytes)
		if err != nil {
			var ppErr *ssh.PassphraseMissingError
			if errors.As(err, &ppErr) {
				return nil, fmt.Errorf("sftp: SSH key %q is passphrase-protected; use an unencrypted key or a password", kp)
			}
			continue
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	return nil, fmt.Errorf("sftp: no authentication method available; set remote.password or an SSH key at %s", strings.Join(keyPaths, ", "))
}

func (s *SFTPStore) keyPaths() []string {
	if s.opts.KeyPath != "" {
		return []string{s.opts.KeyPath}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{
		filepath.Join(home, ".ssh", "id_ed25519"),
		filepath.Join(home, ".ssh", "id_rsa"),
	}
}

func (s *SFTPStore) remotePath(name string) string {
	if s.opts.Directory == "" {
		return name
	}
	return path.Join(s.opts.Directory, name)
}
