package remote

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"snapkeep/internal/logging"
)

// hostKeys trusts a host on first use and rejects it if its key later changes.
type hostKeys struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

func newHostKeys(path string, logger *slog.Logger) *hostKeys {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &hostKeys{path: path, logger: logger}
}

func (h *hostKeys) callback(hostname string, remote net.Addr, key ssh.PublicKey) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(h.path), 0o700); err != nil {
		return fmt.Errorf("sftp: create known_hosts directory: %w", err)
	}

	if _, err := os.Stat(h.path); err == nil {
		check, err := knownhosts.New(h.path)
		if err != nil {
			return fmt.Errorf("sftp: load known_hosts: %w", err)
		}
		err = check(hostname, remote, key)
		if err == nil {
			return nil
		}
		var keyErr *knownhosts.KeyError
		if !errors.As(err, &keyErr) {
			return err
		}
		if len(keyErr.Want) > 0 {
			return fmt.Errorf("sftp: host key for %s changed (got %s); remove the old entry from %s if this is expected",
				hostname, ssh.FingerprintSHA256(key), h.path)
		}
	}

	f, err := os.OpenFile(h.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("sftp: write known_hosts: %w", err)
	}
	defer f.Close()

	line := knownhosts.Line([]string{knownhosts.Normalize(hostname)}, key)
	if _, err := fmt.Fprintln(f, line); err != nil {
		return fmt.Errorf("sftp: write known_hosts: %w", err)
	}
	h.logger.Info("trusted new host key",
		logging.String("host", hostname),
		logging.String("fingerprint", ssh.FingerprintSHA256(key)),
		logging.String(logging.FieldEventType, "host_key_trusted"),
	)
	return nil
}
