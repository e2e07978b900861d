package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"snapkeep/internal/command"
	"snapkeep/internal/config"
	"snapkeep/internal/daemon"
	"snapkeep/internal/history"
	"snapkeep/internal/testsupport"
)

const testToken = "cli-token"

type cliTestEnv struct {
	cfg        *config.Config
	store      *testsupport.MemoryStore
	history    *history.Store
	daemon     *daemon.Daemon
	configPath string
	baseDir    string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	homeDir := filepath.Join(base, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)

	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries(), testsupport.WithAPIToken(testToken))
	// Port 1 refuses at once, so status checks never wait on a dial.
	cfg.Remote.Host = "127.0.0.1"
	cfg.Remote.Port = 1

	store := testsupport.NewMemoryStore()
	hist := testsupport.MustOpenHistory(t, cfg)
	d, err := daemon.New(cfg, daemon.Options{
		Store:   store,
		Runner:  fakeCamera(),
		History: hist,
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		cancel()
		t.Fatalf("daemon start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		d.Close()
		d.Wait()
	})
	cfg.Paths.APIBind = d.APIAddr()

	configPath := filepath.Join(homeDir, ".config", "snapkeep", "config.toml")
	writeTestConfig(t, configPath, cfg)

	return &cliTestEnv{
		cfg:        cfg,
		store:      store,
		history:    hist,
		daemon:     d,
		configPath: configPath,
		baseDir:    base,
	}
}

func fakeCamera() command.Runner {
	return command.RunnerFunc(func(_ context.Context, cmd command.Command) command.Result {
		out := cmd.Args[len(cmd.Args)-1]
		if err := os.WriteFile(out, []byte("JPEGDATA"), 0o644); err != nil {
			return command.Result{ExitCode: -1, Err: err}
		}
		return command.Result{}
	})
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, configPath string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	if configPath != "" {
		args = append([]string{"--config", configPath}, args...)
	}
	cmd.SetArgs(args)
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected output to contain %q\n---\n%s", needle, haystack)
	}
}

func requireErrorContains(t *testing.T, err error, needle string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error containing %q", needle)
	}
	if !strings.Contains(err.Error(), needle) {
		t.Fatalf("expected error containing %q, got %v", needle, err)
	}
}
