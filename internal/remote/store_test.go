package remote

import (
	"errors"
	"net/textproto"
	"reflect"
	"testing"

	"github.com/zalando/go-keyring"

	"snapkeep/internal/config"
)

func TestResolvePasswordFromKeyring(t *testing.T) {
	keyring.MockInit()
	if err := keyring.Set(config.KeyringService, "cam", "from-keyring"); err != nil {
		t.Fatalf("seed keyring: %v", err)
	}

	got, err := ResolvePassword(config.Remote{PasswordSource: config.PasswordFromKeyring, Username: "cam"})
	if err != nil {
		t.Fatalf("ResolvePassword returned error: %v", err)
	}
	if got != "from-keyring" {
		t.Fatalf("password = %q", got)
	}

	if _, err := ResolvePassword(config.Remote{PasswordSource: config.PasswordFromKeyring, Username: "other"}); err == nil {
		t.Fatal("expected missing keyring entry to fail")
	}
}

func TestResolvePasswordFromConfig(t *testing.T) {
	got, err := ResolvePassword(config.Remote{PasswordSource: config.PasswordFromConfig, Password: "inline"})
	if err != nil || got != "inline" {
		t.Fatalf("got %q, %v", got, err)
	}
	if _, err := ResolvePassword(config.Remote{PasswordSource: "vault"}); err == nil {
		t.Fatal("expected unknown source to fail")
	}
}

func TestNewSelectsStoreByProtocol(t *testing.T) {
	cases := map[string]any{
		config.ProtocolCurl: &CurlStore{},
		config.ProtocolFTP:  &FTPStore{},
		config.ProtocolFTPS: &FTPStore{},
		config.ProtocolSFTP: &SFTPStore{},
	}
	for protocol, want := range cases {
		cfg := config.Default()
		cfg.Remote.Host = "example.com"
		cfg.Remote.Protocol = protocol
		store, err := New(&cfg, nil, nil)
		if err != nil {
			t.Fatalf("New(%s) returned error: %v", protocol, err)
		}
		if reflect.TypeOf(store) != reflect.TypeOf(want) {
			t.Fatalf("New(%s) = %T, want %T", protocol, store, want)
		}
	}

	cfg := config.Default()
	cfg.Remote.Protocol = "gopher"
	if _, err := New(&cfg, nil, nil); err == nil {
		t.Fatal("expected unsupported protocol error")
	}
}

func TestFTPSStoreEnablesTLS(t *testing.T) {
	cfg := config.Default()
	cfg.Remote.Host = "example.com"
	cfg.Remote.Protocol = config.ProtocolFTPS
	store, err := New(&cfg, nil, nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if !store.(*FTPStore).opts.TLS {
		t.Fatal("expected TLS for ftps")
	}
}

func TestClassify(t *testing.T) {
	if Classify(nil) != "" {
		t.Fatal("nil error should have no class")
	}
	if Classify(&textproto.Error{Code: 421, Msg: "busy"}) != ClassTransient {
		t.Fatal("4xx replies should be transient")
	}
	if Classify(&textproto.Error{Code: 550, Msg: "no such file"}) != ClassPermanent {
		t.Fatal("5xx replies should be permanent")
	}
	if Classify(errors.New("boom")) != ClassPermanent {
		t.Fatal("unknown errors should be permanent")
	}
}

func TestSplitListing(t *testing.T) {
	got := SplitListing("a\rb\r\n\n  \nc\n")
	if want := []string{"a", "b", "c"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("SplitListing = %v, want %v", got, want)
	}
}
