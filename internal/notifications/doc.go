// Package notifications publishes daemon alerts to ntfy.
//
// NewService returns a no-op implementation when notifications.ntfy_topic is
// empty, so callers never check whether alerts are configured.
package notifications
