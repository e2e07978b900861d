// Package remote moves staged snapshots to the remote image directory and
// manages what is already there.
//
// Three stores share one Store interface: CurlStore shells out to curl
// against an FTP server, FTPStore speaks FTP or explicit FTPS natively, and
// SFTPStore uses SSH with host keys trusted on first use. Each operation
// opens its own session and is bounded by the matching Timeouts entry.
package remote
