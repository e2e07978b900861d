package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"snapkeep/internal/config"
	"snapkeep/internal/notifications"
)

type capturedRequest struct {
	title    string
	tags     string
	priority string
	body     string
}

func newNtfyServer(t *testing.T, status int) (*httptest.Server, func() []capturedRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []capturedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		reqs = append(reqs, capturedRequest{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		})
		mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte("topic says no"))
	}))
	t.Cleanup(srv.Close)
	return srv, func() []capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedRequest(nil), reqs...)
	}
}

func newService(topic string) notifications.Service {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = topic
	return notifications.NewService(&cfg)
}

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	svc := newService("")
	if err := svc.NotifyTaskFailed(context.Background(), "upload_all", errors.New("boom")); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
	if err := notifications.NewService(nil).TestNotification(context.Background()); err != nil {
		t.Fatalf("nil config should yield noop, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	srv, requests := newNtfyServer(t, http.StatusOK)
	svc := newService(srv.URL + "/camera")
	ctx := context.Background()

	if err := svc.NotifyTaskFailed(ctx, "snapshot_upload", errors.New("capture: camera not detected")); err != nil {
		t.Fatalf("NotifyTaskFailed: %v", err)
	}
	if err := svc.NotifyRetentionCompleted(ctx, 3, 1); err != nil {
		t.Fatalf("NotifyRetentionCompleted: %v", err)
	}
	if err := svc.TestNotification(ctx); err != nil {
		t.Fatalf("TestNotification: %v", err)
	}

	got := requests()
	if len(got) != 3 {
		t.Fatalf("expected 3 requests, got %d", len(got))
	}

	failed := got[0]
	if failed.title != "snapkeep - Task Failed" || failed.priority != "high" {
		t.Fatalf("unexpected failure headers %+v", failed)
	}
	if failed.body != "❌ snapshot_upload failed: capture: camera not detected" {
		t.Fatalf("failure body = %q", failed.body)
	}
	if failed.tags != "snapkeep,error,snapshot_upload" {
		t.Fatalf("failure tags = %q", failed.tags)
	}

	pruned := got[1]
	if !strings.Contains(pruned.title, "with errors") || !strings.Contains(pruned.body, "Deleted 3") || !strings.Contains(pruned.body, "1 delete(s) failed") {
		t.Fatalf("unexpected retention payload %+v", pruned)
	}
	if pruned.priority != "" {
		t.Fatalf("default priority should not be sent, got %q", pruned.priority)
	}

	if got[2].priority != "low" {
		t.Fatalf("test priority = %q", got[2].priority)
	}
}

func TestNtfyServiceReportsHTTPErrors(t *testing.T) {
	srv, _ := newNtfyServer(t, http.StatusForbidden)
	svc := newService(srv.URL)

	err := svc.TestNotification(context.Background())
	if err == nil || !strings.Contains(err.Error(), "403") || !strings.Contains(err.Error(), "topic says no") {
		t.Fatalf("expected 403 error, got %v", err)
	}
}
