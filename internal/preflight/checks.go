package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/sys/unix"

	"snapkeep/internal/config"
	"snapkeep/internal/deps"
)

const remoteDialTimeout = 5 * time.Second

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckRemote dials the configured remote host. It only proves the port
// accepts connections; credentials are exercised by the first transfer.
func CheckRemote(ctx context.Context, cfg *config.Config) Result {
	const name = "Remote"
	if cfg == nil || cfg.Remote.Host == "" {
		return Result{Name: name, Detail: "host not configured"}
	}
	addr := net.JoinHostPort(cfg.Remote.Host, strconv.Itoa(RemotePort(cfg.Remote)))

	checkCtx, cancel := context.WithTimeout(ctx, remoteDialTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(checkCtx, "tcp", addr)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (connect timed out)", addr)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", addr, err)}
	}
	_ = conn.Close()
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s via %s (reachable)", addr, cfg.Remote.Protocol)}
}

// RemotePort returns the configured port or the protocol default.
func RemotePort(remote config.Remote) int {
	if remote.Port > 0 {
		return remote.Port
	}
	if remote.Protocol == config.ProtocolSFTP {
		return 22
	}
	return 21
}

// CheckSystemDeps evaluates the external binaries the configuration needs.
// Both the daemon and the CLI status command use this list.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	requirements := []deps.Requirement{
		{
			Name:        "Capture",
			Command:     cfg.Capture.Command,
			Description: "Required for still image capture",
		},
	}
	if cfg.Remote.Protocol == config.ProtocolCurl {
		requirements = append(requirements, deps.Requirement{
			Name:        "curl",
			Command:     cfg.Remote.CurlCommand,
			Description: "Required for FTP transfers when remote.protocol is curl",
		})
	}
	return deps.Check(requirements...)
}
