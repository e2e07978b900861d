package remote

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"snapkeep/internal/command"
)

type recordingRunner struct {
	calls  []command.Command
	result command.Result
}

func (r *recordingRunner) Run(_ context.Context, cmd command.Command) command.Result {
	r.calls = append(r.calls, cmd)
	return r.result
}

func newTestCurlStore(runner command.Runner) *CurlStore {
	return NewCurlStore(CurlOptions{
		ExtraArgs: []string{"--ftp-pasv"},
		Host:      "ftp.example.com",
		Username:  "cam",
		Password:  "s3cret",
		Directory: "garden/cam1",
		Timeouts:  Timeouts{Transfer: time.Hour, List: time.Minute, Delete: 2 * time.Minute},
	}, runner, nil)
}

func TestCurlUploadArgs(t *testing.T) {
	runner := &recordingRunner{}
	store := newTestCurlStore(runner)

	if err := store.Upload(context.Background(), "/var/staging/cam-2024_01_01-00_00_00.jpg", "cam-2024_01_01-00_00_00.jpg"); err != nil {
		t.Fatalf("Upload returned error: %v", err)
	}
	if len(runner.calls) != 1 {
		t.Fatalf("expected one curl call, got %d", len(runner.calls))
	}
	call := runner.calls[0]
	want := []string{
		"--ftp-pasv",
		"--user", "cam:s3cret",
		"-T", "/var/staging/cam-2024_01_01-00_00_00.jpg",
		"ftp://ftp.example.com/garden/cam1/cam-2024_01_01-00_00_00.jpg",
	}
	if call.Name != "curl" || !reflect.DeepEqual(call.Args, want) {
		t.Fatalf("call = %s %v, want curl %v", call.Name, call.Args, want)
	}
	if call.Timeout != time.Hour {
		t.Fatalf("timeout = %s, want 1h", call.Timeout)
	}
	if strings.Contains(call.String(), "s3cret") {
		t.Fatalf("rendered command leaks password: %s", call.String())
	}
}

func TestCurlListSplitsLines(t *testing.T) {
	runner := &recordingRunner{result: command.Result{Stdout: "a.jpg\r\nb.jpg\r\n\r\nc.jpg"}}
	store := newTestCurlStore(runner)

	names, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if want := []string{"a.jpg", "b.jpg", "c.jpg"}; !reflect.DeepEqual(names, want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	args := runner.calls[0].Args
	if got := args[len(args)-2:]; !reflect.DeepEqual(got, []string{"-l", "ftp://ftp.example.com/garden/cam1/"}) {
		t.Fatalf("list args tail = %v", got)
	}
}

func TestCurlDeleteQuotesDele(t *testing.T) {
	runner := &recordingRunner{}
	store := newTestCurlStore(runner)

	if err := store.Delete(context.Background(), "old.jpg"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	args := runner.calls[0].Args
	want := []string{"-l", "ftp://ftp.example.com/", "-Q", "DELE garden/cam1/old.jpg"}
	if got := args[len(args)-4:]; !reflect.DeepEqual(got, want) {
		t.Fatalf("delete args tail = %v, want %v", got, want)
	}
	if runner.calls[0].Timeout != 2*time.Minute {
		t.Fatalf("timeout = %s", runner.calls[0].Timeout)
	}
}

func TestCurlFailureIsClassified(t *testing.T) {
	runner := &recordingRunner{result: command.Result{
		ExitCode: 7,
		Stderr:   "curl: (7) Failed to connect\nmore",
		Err:      errors.New("curl exited with status 7"),
	}}
	store := newTestCurlStore(runner)

	err := store.Delete(context.Background(), "x.jpg")
	var curlErr *CurlError
	if !errors.As(err, &curlErr) {
		t.Fatalf("expected CurlError, got %v", err)
	}
	if curlErr.Stderr != "curl: (7) Failed to connect" {
		t.Fatalf("stderr = %q", curlErr.Stderr)
	}
	if Classify(err) != ClassTransient {
		t.Fatalf("exit 7 should be transient")
	}

	runner.result.ExitCode = 9
	if Classify(store.Delete(context.Background(), "x.jpg")) != ClassPermanent {
		t.Fatalf("exit 9 should be permanent")
	}
}

func TestCurlTimeoutWrapsErrTimeout(t *testing.T) {
	runner := &recordingRunner{result: command.Result{
		ExitCode: -1,
		TimedOut: true,
		Err:      command.ErrTimeout,
	}}
	err := newTestCurlStore(runner).Upload(context.Background(), "/tmp/a.jpg", "a.jpg")
	if !errors.Is(err, command.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if Classify(err) != ClassTransient {
		t.Fatalf("timeouts should be transient")
	}
}

func TestCurlNoDirectoryUsesRoot(t *testing.T) {
	runner := &recordingRunner{}
	store := NewCurlStore(CurlOptions{Host: "h", Port: 2121}, runner, nil)
	_ = store.Delete(context.Background(), "a.jpg")
	args := runner.calls[0].Args
	want := []string{"-l", "ftp://h:2121/", "-Q", "DELE a.jpg"}
	if !reflect.DeepEqual(args, want) {
		t.Fatalf("args = %v, want %v", args, want)
	}
}
