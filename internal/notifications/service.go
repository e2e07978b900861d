package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"snapkeep/internal/config"
)

const userAgent = "snapkeep/0.1.0"

// Service defines the alerts the daemon raises.
type Service interface {
	NotifyTaskFailed(ctx context.Context, task string, err error) error
	NotifyRetentionCompleted(ctx context.Context, deleted, failed int) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := cfg.NotifyTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) NotifyTaskFailed(ctx context.Context, task string, err error) error {
	var builder strings.Builder
	builder.WriteString("❌ ")
	if task = strings.TrimSpace(task); task != "" {
		builder.WriteString(task)
	} else {
		builder.WriteString("task")
	}
	builder.WriteString(" failed: ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}
	return n.send(ctx, payload{
		title:    "snapkeep - Task Failed",
		message:  builder.String(),
		tags:     []string{"snapkeep", "error", task},
		priority: "high",
	})
}

func (n *ntfyService) NotifyRetentionCompleted(ctx context.Context, deleted, failed int) error {
	title := "snapkeep - Remote Pruned"
	message := fmt.Sprintf("🧹 Deleted %d stale image(s) from the remote", deleted)
	priority := "low"
	if failed > 0 {
		title = "snapkeep - Remote Pruned (with errors)"
		message = fmt.Sprintf("%s; %d delete(s) failed", message, failed)
		priority = "default"
	}
	return n.send(ctx, payload{
		title:    title,
		message:  message,
		tags:     []string{"snapkeep", "retention"},
		priority: priority,
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "snapkeep - Test",
		message:  "🧪 Notification system test",
		tags:     []string{"snapkeep", "test"},
		priority: "low",
	})
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyTaskFailed(context.Context, string, error) error { return nil }
func (noopService) NotifyRetentionCompleted(context.Context, int, int) error {
	return nil
}
func (noopService) TestNotification(context.Context) error { return nil }
