package command

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "script.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestExecRunnerCapturesOutput(t *testing.T) {
	script := writeScript(t, `echo "out $1"; echo "err" 1>&2`)
	result := ExecRunner{}.Run(context.Background(), Command{Name: script, Args: []string{"a b"}})
	if !result.OK() {
		t.Fatalf("expected success, got %v", result.Err)
	}
	if strings.TrimSpace(result.Stdout) != "out a b" {
		t.Fatalf("unexpected stdout %q", result.Stdout)
	}
	if strings.TrimSpace(result.Stderr) != "err" {
		t.Fatalf("unexpected stderr %q", result.Stderr)
	}
	if result.ExitCode != 0 {
		t.Fatalf("unexpected exit code %d", result.ExitCode)
	}
}

func TestExecRunnerReportsExitStatus(t *testing.T) {
	script := writeScript(t, `echo "disk full" 1>&2; exit 3`)
	result := ExecRunner{}.Run(context.Background(), Command{Name: script})
	if result.OK() {
		t.Fatal("expected failure")
	}
	if result.ExitCode != 3 {
		t.Fatalf("exit code = %d, want 3", result.ExitCode)
	}
	if !strings.Contains(result.Err.Error(), "disk full") {
		t.Fatalf("expected stderr in error, got %v", result.Err)
	}
	if result.TimedOut {
		t.Fatal("did not expect timeout")
	}
}

func TestExecRunnerKillsOnTimeout(t *testing.T) {
	script := writeScript(t, `exec sleep 5`)
	started := time.Now()
	result := ExecRunner{WaitDelay: 100 * time.Millisecond}.Run(context.Background(), Command{
		Name:    script,
		Timeout: 100 * time.Millisecond,
	})
	if !result.TimedOut {
		t.Fatalf("expected timeout, got %+v", result)
	}
	if !errors.Is(result.Err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", result.Err)
	}
	if elapsed := time.Since(started); elapsed > 3*time.Second {
		t.Fatalf("timeout not enforced, took %s", elapsed)
	}
}

func TestExecRunnerMissingBinary(t *testing.T) {
	result := ExecRunner{}.Run(context.Background(), Command{Name: filepath.Join(t.TempDir(), "missing")})
	if result.OK() {
		t.Fatal("expected error for missing binary")
	}
	if result.ExitCode != -1 {
		t.Fatalf("exit code = %d, want -1", result.ExitCode)
	}
}

func TestStartDeliversResultAsynchronously(t *testing.T) {
	release := make(chan struct{})
	runner := RunnerFunc(func(ctx context.Context, cmd Command) Result {
		<-release
		return Result{Stdout: cmd.Name}
	})
	done := Start(context.Background(), runner, Command{Name: "capture"})
	select {
	case <-done:
		t.Fatal("result delivered before command finished")
	default:
	}
	close(release)
	result, ok := <-done
	if !ok || result.Stdout != "capture" {
		t.Fatalf("unexpected result %+v (ok=%v)", result, ok)
	}
	if _, ok := <-done; ok {
		t.Fatal("expected channel to be closed")
	}
}

func TestCommandStringMasksSecrets(t *testing.T) {
	cmd := Command{Name: "curl", Args: []string{"-u", "cam:hunter2", "-l"}, Secrets: []string{"hunter2"}}
	if got := cmd.String(); strings.Contains(got, "hunter2") || !strings.Contains(got, "cam:****") {
		t.Fatalf("unexpected rendering %q", got)
	}
}

func TestResultExited(t *testing.T) {
	cases := []struct {
		name   string
		result Result
		want   bool
	}{
		{"success", Result{}, true},
		{"non-zero exit", Result{ExitCode: 1, Err: errors.New("exit 1")}, true},
		{"timed out", Result{ExitCode: -1, TimedOut: true, Err: ErrTimeout}, false},
		{"signal or start failure", Result{ExitCode: -1, Err: errors.New("killed")}, false},
	}
	for _, tc := range cases {
		if got := tc.result.Exited(); got != tc.want {
			t.Errorf("%s: Exited() = %v, want %v", tc.name, got, tc.want)
		}
	}

	script := writeScript(t, `exit 3`)
	if res := (ExecRunner{}).Run(context.Background(), Command{Name: script}); !res.Exited() || res.ExitCode != 3 {
		t.Fatalf("exit 3 should count as exited: %+v", res)
	}
}
