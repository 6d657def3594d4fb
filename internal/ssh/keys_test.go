package ssh

import (
	"errors"
	"testing"

	"github.com/tOgg1/hostdeck/internal/testutil"
)

func TestLoadPrivateKeyPlain(t *testing.T) {
	path, pub := testutil.WriteKey(t, t.TempDir(), "")

	signer, err := LoadPrivateKey(path, "", nil)
	if err != nil {
		t.Fatalf("LoadPrivateKey: %v", err)
	}
	if string(signer.PublicKey().Marshal()) != string(pub.Marshal()) {
		t.Fatal("loaded key does not match written key")
	}
}

func TestLoadPrivateKeyPassphrase(t *testing.T) {
	path, _ := testutil.WriteKey(t, t.TempDir(), "hunter2")

	if _, err := LoadPrivateKey(path, "", nil); !errors.Is(err, ErrPassphraseRequired) {
		t.Fatalf("expected ErrPassphraseRequired, got %v", err)
	}

	if _, err := LoadPrivateKey(path, "hunter2", nil); err != nil {
		t.Fatalf("LoadPrivateKey with passphrase: %v", err)
	}

	var prompted string
	prompt := func(keyPath string) (string, error) {
		prompted = keyPath
		return "hunter2", nil
	}
	if _, err := LoadPrivateKey(path, "", prompt); err != nil {
		t.Fatalf("LoadPrivateKey with prompt: %v", err)
	}
	if prompted != path {
		t.Fatalf("expected prompt for %s, got %s", path, prompted)
	}

	if _, err := LoadPrivateKey(path, "wrong", nil); Classify(err) != ConnectKey {
		t.Fatalf("expected key error for wrong passphrase, got %v", err)
	}
}

func TestConnectAgentUnavailable(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	if _, err := ConnectAgent(); !errors.Is(err, ErrSSHAgentUnavailable) {
		t.Fatalf("expected ErrSSHAgentUnavailable, got %v", err)
	}

	var conn *AgentConnection
	if conn.AuthMethod() != nil {
		t.Fatal("nil agent connection should have no auth method")
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("nil Close: %v", err)
	}
}
