package daemon_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"snapkeep/internal/api"
	"snapkeep/internal/command"
	"snapkeep/internal/config"
	"snapkeep/internal/daemon"
	"snapkeep/internal/history"
	"snapkeep/internal/testsupport"
)

// cameraRunner emulates the capture command by writing to its -o argument.
func cameraRunner(fail bool) command.Runner {
	return command.RunnerFunc(func(_ context.Context, cmd command.Command) command.Result {
		if fail {
			return command.Result{ExitCode: 70, Err: errors.New("camera not detected")}
		}
		out := cmd.Args[len(cmd.Args)-1]
		if err := os.WriteFile(out, []byte("JPEGDATA"), 0o644); err != nil {
			return command.Result{ExitCode: -1, Err: err}
		}
		return command.Result{}
	})
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newDaemon(t *testing.T, cfg *config.Config, store *testsupport.MemoryStore, opts daemon.Options) *daemon.Daemon {
	t.Helper()
	opts.Store = store
	if opts.Runner == nil {
		opts.Runner = cameraRunner(false)
	}
	d, err := daemon.New(cfg, opts)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		d.Close()
		d.Wait()
	})
	return d
}

func stage(t *testing.T, cfg *config.Config, names ...string) {
	t.Helper()
	for _, name := range names {
		testsupport.WriteFile(t, filepath.Join(cfg.Paths.StagingDir, name), 16)
	}
}

func serve(h http.Handler, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for key, values := range header {
		req.Header[key] = values
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := newDaemon(t, cfg, testsupport.NewMemoryStore(), daemon.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	status := d.Status(ctx)
	if !status.Running || status.StartedAt == "" {
		t.Fatalf("expected daemon to report running, got %+v", status)
	}
	if d.APIAddr() == "" {
		t.Fatal("expected API to be listening")
	}

	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	other := newDaemon(t, cfg, testsupport.NewMemoryStore(), daemon.Options{})
	if err := other.Start(ctx); err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("expected lock contention error, got %v", err)
	}

	d.Stop()
	if d.Status(ctx).Running {
		t.Fatal("expected daemon to be stopped")
	}
	if err := other.Start(ctx); err != nil {
		t.Fatalf("expected lock to be free after stop: %v", err)
	}
}

func TestNewRejectsUnregisteredHandler(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithSchedule(map[string]string{"00:00": "reboot"}))
	if _, err := daemon.New(cfg, daemon.Options{Store: testsupport.NewMemoryStore()}); err == nil {
		t.Fatal("expected unknown handler to be rejected")
	}
}

func TestUploadTriggerDrainsStaging(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.NewMemoryStore()
	d := newDaemon(t, cfg, store, daemon.Options{})
	stage(t, cfg, "a.jpg", "b.jpg", "c.jpg")

	w := serve(d.Handler(), "/upload", nil)
	if w.Code != http.StatusOK || w.Body.String() != api.AckUpload {
		t.Fatalf("unexpected response %d %q", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Cache-Control"); got != "private, no-cache, no-store" {
		t.Fatalf("cache-control = %q", got)
	}
	if got := w.Header().Get("Content-Type"); got != "text/html" {
		t.Fatalf("content-type = %q", got)
	}

	d.Wait()
	if got := store.Uploads(); !slices.Equal(got, []string{"a.jpg", "b.jpg", "c.jpg"}) {
		t.Fatalf("uploads = %v", got)
	}
	entries, err := os.ReadDir(cfg.Paths.StagingDir)
	if err != nil {
		t.Fatalf("read staging: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("staging should be empty, has %d entries", len(entries))
	}
}

func TestRunTriggerCapturesThenUploads(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.NewMemoryStore()
	now := time.Date(2024, 3, 9, 7, 5, 3, 0, time.UTC)
	hist := testsupport.MustOpenHistory(t, cfg)
	d := newDaemon(t, cfg, store, daemon.Options{Now: fixedClock(now), History: hist})

	w := serve(d.Handler(), "/run", nil)
	if w.Body.String() != api.AckRun {
		t.Fatalf("ack = %q", w.Body.String())
	}
	d.Wait()

	if got := store.Uploads(); !slices.Equal(got, []string{"2024-03-09-07-05-03.jpg"}) {
		t.Fatalf("uploads = %v", got)
	}
	events, err := hist.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	kinds := map[history.Kind]bool{}
	runIDs := map[string]bool{}
	for _, ev := range events {
		kinds[ev.Kind] = ev.Success
		runIDs[ev.RunID] = true
	}
	if !kinds[history.KindCapture] || !kinds[history.KindUpload] {
		t.Fatalf("expected successful capture and upload events, got %+v", events)
	}
	if len(runIDs) != 1 || runIDs[""] {
		t.Fatalf("capture and upload should share the request's correlation id, got %v", runIDs)
	}
	if id := w.Header().Get("X-Request-Id"); !runIDs[id] {
		t.Fatalf("run id should match X-Request-Id %q, got %v", id, runIDs)
	}
}

func TestRunTriggerUploadsBacklogWhenCaptureFails(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.NewMemoryStore()
	d := newDaemon(t, cfg, store, daemon.Options{Runner: cameraRunner(true)})
	stage(t, cfg, "2024-03-08-00-00-00.jpg")

	serve(d.Handler(), "/run", nil)
	d.Wait()

	if got := store.Uploads(); !slices.Equal(got, []string{"2024-03-08-00-00-00.jpg"}) {
		t.Fatalf("uploads = %v", got)
	}
}

func TestSnapshotReturnsImageWithoutStaging(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.NewMemoryStore()
	d := newDaemon(t, cfg, store, daemon.Options{})

	w := serve(d.Handler(), "/snapshot.jpg", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body %q", w.Code, w.Body.String())
	}
	if w.Body.String() != "JPEGDATA" {
		t.Fatalf("body = %q", w.Body.String())
	}
	if got := w.Header().Get("Content-Type"); got != "image/jpeg" {
		t.Fatalf("content-type = %q", got)
	}
	if got := w.Header().Get("Content-Length"); got != "8" {
		t.Fatalf("content-length = %q", got)
	}
	d.Wait()
	if len(store.Uploads()) != 0 {
		t.Fatalf("snapshot must not upload: %v", store.Uploads())
	}
}

func TestSnapshotFailureReturnsError(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := newDaemon(t, cfg, testsupport.NewMemoryStore(), daemon.Options{Runner: cameraRunner(true)})

	w := serve(d.Handler(), "/snapshot", nil)
	if w.Code != http.StatusInternalServerError || !strings.Contains(w.Body.String(), "snapshot failed") {
		t.Fatalf("unexpected response %d %q", w.Code, w.Body.String())
	}
}

func TestDeleteTriggerReconcilesRetention(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithKeepDays(30))
	store := testsupport.NewMemoryStore(
		"cam-2020-01-01.jpg",
		"cam-2020-06-15.jpg",
		"cam-2024-01-20.jpg",
		"index.html",
	)
	now := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
	d := newDaemon(t, cfg, store, daemon.Options{Now: fixedClock(now)})

	w := serve(d.Handler(), "/delete", nil)
	if w.Body.String() != api.AckDelete {
		t.Fatalf("ack = %q", w.Body.String())
	}
	d.Wait()

	deleted := store.Deletes()
	slices.Sort(deleted)
	if !slices.Equal(deleted, []string{"cam-2020-01-01.jpg", "cam-2020-06-15.jpg"}) {
		t.Fatalf("deleted = %v", deleted)
	}
}

func TestUnknownPathIsNotFound(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := newDaemon(t, cfg, testsupport.NewMemoryStore(), daemon.Options{})

	w := serve(d.Handler(), "/favicon.ico", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Header().Get("Cache-Control") == "" {
		t.Fatal("404 should carry cache headers")
	}
}

func TestBearerTokenRequired(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithAPIToken("s3cret"))
	d := newDaemon(t, cfg, testsupport.NewMemoryStore(), daemon.Options{})

	if w := serve(d.Handler(), "/api/status", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: status = %d", w.Code)
	}
	if w := serve(d.Handler(), "/api/status", http.Header{"Authorization": {"Bearer wrong"}}); w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: status = %d", w.Code)
	}
	if w := serve(d.Handler(), "/api/status", http.Header{"Authorization": {"Bearer s3cret"}}); w.Code != http.StatusOK {
		t.Fatalf("valid token: status = %d", w.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := newDaemon(t, cfg, testsupport.NewMemoryStore(), daemon.Options{})
	stage(t, cfg, "x.jpg", "y.jpg", ".partial.jpg")

	w := serve(d.Handler(), "/api/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var status api.DaemonStatus
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.PendingUploads != 2 {
		t.Fatalf("pending = %d", status.PendingUploads)
	}
	if status.Remote != "curl://ftp.invalid/" {
		t.Fatalf("remote = %q", status.Remote)
	}
	want := []api.ScheduleEntry{
		{Event: "00:00", Handler: config.HandlerSnapshotUpload},
		{Event: "01:00", Handler: config.HandlerDeleteOld},
	}
	if !slices.Equal(status.Schedule, want) {
		t.Fatalf("schedule = %+v", status.Schedule)
	}
	if len(status.Dependencies) == 0 {
		t.Fatal("expected dependency statuses")
	}
}

func TestScheduledMidnightCapturesAndUploads(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.NewMemoryStore()
	midnight := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	d := newDaemon(t, cfg, store, daemon.Options{Now: fixedClock(midnight)})

	ctx := context.Background()
	sched := d.Scheduler()
	sched.Prime(midnight.Add(-time.Second))
	sched.Step(ctx, midnight)
	d.Wait()

	if got := store.Uploads(); !slices.Equal(got, []string{"2024-03-10-00-00-00.jpg"}) {
		t.Fatalf("uploads = %v", got)
	}

	// The same minute again dispatches nothing.
	sched.Step(ctx, midnight.Add(30*time.Second))
	d.Wait()
	if got := store.Uploads(); len(got) != 1 {
		t.Fatalf("uploads after second step = %v", got)
	}
}

// blockingStore parks the first upload until released.
type blockingStore struct {
	*testsupport.MemoryStore
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (s *blockingStore) Upload(ctx context.Context, local, name string) error {
	s.once.Do(func() {
		close(s.started)
		<-s.release
	})
	return s.MemoryStore.Upload(ctx, local, name)
}

func TestConcurrentTriggersAreDropped(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithKeepDays(30))
	mem := testsupport.NewMemoryStore("cam-2020-01-01.jpg")
	store := &blockingStore{MemoryStore: mem, started: make(chan struct{}), release: make(chan struct{})}
	d, err := daemon.New(cfg, daemon.Options{Store: store, Runner: cameraRunner(false)})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	defer d.Close()
	stage(t, cfg, "a.jpg", "b.jpg")

	h := d.Handler()
	serve(h, "/upload", nil)
	select {
	case <-store.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first upload never started")
	}

	// Both land while the first drain holds the guard and are dropped.
	serve(h, "/upload", nil)
	serve(h, "/delete", nil)
	time.Sleep(50 * time.Millisecond)

	close(store.release)
	d.Wait()

	if got := mem.Uploads(); !slices.Equal(got, []string{"a.jpg", "b.jpg"}) {
		t.Fatalf("each file should upload exactly once, got %v", got)
	}
	if got := mem.Deletes(); len(got) != 0 {
		t.Fatalf("reconcile should have been dropped, deleted %v", got)
	}
}

// blockingListStore parks the first listing until released.
type blockingListStore struct {
	*testsupport.MemoryStore
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (s *blockingListStore) List(ctx context.Context) ([]string, error) {
	s.once.Do(func() {
		close(s.started)
		<-s.release
	})
	return s.MemoryStore.List(ctx)
}

func TestUploadDroppedDuringRetentionRunsAfterwards(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithKeepDays(30))
	mem := testsupport.NewMemoryStore("cam-2020-01-01.jpg")
	store := &blockingListStore{MemoryStore: mem, started: make(chan struct{}), release: make(chan struct{})}
	d, err := daemon.New(cfg, daemon.Options{Store: store, Runner: cameraRunner(false)})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	defer d.Close()
	stage(t, cfg, "a.jpg")

	h := d.Handler()
	serve(h, "/delete", nil)
	select {
	case <-store.started:
	case <-time.After(5 * time.Second):
		t.Fatal("retention listing never started")
	}

	// Lands while retention holds the guard.
	serve(h, "/upload", nil)
	time.Sleep(50 * time.Millisecond)
	if got := mem.Uploads(); len(got) != 0 {
		t.Fatalf("upload should wait for retention, got %v", got)
	}

	close(store.release)
	d.Wait()

	if got := mem.Deletes(); !slices.Equal(got, []string{"cam-2020-01-01.jpg"}) {
		t.Fatalf("deleted = %v", got)
	}
	if got := mem.Uploads(); !slices.Equal(got, []string{"a.jpg"}) {
		t.Fatalf("deferred upload should run once retention releases, got %v", got)
	}
}

func TestPruneLogsRemovesExpiredLogsAndHistory(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Logging.RetentionDays = 7
	hist := testsupport.MustOpenHistory(t, cfg)
	current := filepath.Join(cfg.Paths.LogDir, "snapkeep-current.log")
	d := newDaemon(t, cfg, testsupport.NewMemoryStore(), daemon.Options{History: hist, LogPath: current})

	old := time.Now().AddDate(0, 0, -30)
	for _, name := range []string{"snapkeep-old.log", "snapkeep-current.log", "notes.txt"} {
		path := filepath.Join(cfg.Paths.LogDir, name)
		testsupport.WriteFile(t, path, 8)
		testsupport.Backdate(t, path, 30*24*time.Hour)
	}
	ctx := context.Background()
	if err := hist.Record(ctx, history.Event{Kind: history.KindUpload, Name: "old.jpg", Success: true, At: old}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := hist.Record(ctx, history.Event{Kind: history.KindUpload, Name: "new.jpg", Success: true}); err != nil {
		t.Fatalf("record: %v", err)
	}

	if err := d.PruneLogs(ctx); err != nil {
		t.Fatalf("PruneLogs: %v", err)
	}

	if _, err := os.Stat(filepath.Join(cfg.Paths.LogDir, "snapkeep-old.log")); !os.IsNotExist(err) {
		t.Fatalf("old log should be removed, stat err = %v", err)
	}
	for _, keep := range []string{"snapkeep-current.log", "notes.txt"} {
		if _, err := os.Stat(filepath.Join(cfg.Paths.LogDir, keep)); err != nil {
			t.Fatalf("%s should be kept: %v", keep, err)
		}
	}
	events, err := hist.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 1 || events[0].Name != "new.jpg" {
		t.Fatalf("history after prune = %+v", events)
	}
}

type recordingNotifier struct {
	mu       sync.Mutex
	failures []string
	pruned   []int
}

func (n *recordingNotifier) NotifyTaskFailed(_ context.Context, task string, err error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures = append(n.failures, task+": "+err.Error())
	return nil
}

func (n *recordingNotifier) NotifyRetentionCompleted(_ context.Context, deleted, _ int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pruned = append(n.pruned, deleted)
	return nil
}

func (n *recordingNotifier) TestNotification(context.Context) error { return nil }

func TestFailedTaskNotifies(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	notifier := &recordingNotifier{}
	d := newDaemon(t, cfg, testsupport.NewMemoryStore(), daemon.Options{Notifier: notifier})

	d.Go(context.Background(), "upload_all", func(context.Context) error {
		return errors.New("remote unreachable")
	})
	d.Go(context.Background(), "snapshot_upload", func(context.Context) error { return nil })
	d.Wait()

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if !slices.Equal(notifier.failures, []string{"upload_all: remote unreachable"}) {
		t.Fatalf("failures = %v", notifier.failures)
	}
}

func TestRetentionNotifiesDeletedCount(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithKeepDays(30))
	store := testsupport.NewMemoryStore("cam-2020-01-01.jpg", "cam-2024-01-31.jpg")
	notifier := &recordingNotifier{}
	now := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
	d := newDaemon(t, cfg, store, daemon.Options{Now: fixedClock(now), Notifier: notifier})

	if err := d.DeleteOld(context.Background()); err != nil {
		t.Fatalf("DeleteOld: %v", err)
	}

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if !slices.Equal(notifier.pruned, []int{1}) {
		t.Fatalf("pruned = %v", notifier.pruned)
	}
}
