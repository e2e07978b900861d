// Package api defines the wire-format types shared by the daemon's HTTP
// control endpoint and the CLI, plus a small client for that endpoint.
//
// DTOs use camelCase JSON tags. Timestamps are RFC3339 in UTC with
// milliseconds. History records are converted from the history package so
// consumers never depend on storage types.
package api
