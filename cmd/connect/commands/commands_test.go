package commands

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestInitThenDiag(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "profile")

	out, err := runCLI(t, "init", "--profile", dir, "--name", "qa", "--mode", "dev")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if !strings.Contains(out, "initialized profile qa (dev)") {
		t.Fatalf("unexpected init output %q", out)
	}
	if _, err := runCLI(t, "init", "--profile", dir); err == nil {
		t.Fatal("second init without --force should fail")
	}

	out, err = runCLI(t, "diag", "--profile", dir)
	if err != nil {
		t.Fatalf("diag: %v", err)
	}
	for _, want := range []string{
		"Profile: qa",
		"Host: http://localhost:3001",
		"Trusted Origin: http://localhost:3001",
		"Wallet Relay: http://localhost:3001/api/relay",
		"Bridge: ws://127.0.0.1:8787/bridge",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("diag output missing %q:\n%s", want, out)
		}
	}
}

func TestDiagWithoutProfile(t *testing.T) {
	_, err := runCLI(t, "diag", "--profile", filepath.Join(t.TempDir(), "missing"))
	if err == nil || !strings.Contains(err.Error(), "connect init") {
		t.Fatalf("expected init hint, got %v", err)
	}
}

func TestRedeemRequiresOrigin(t *testing.T) {
	_, err := runCLI(t, "redeem", "tok", "--socket", filepath.Join(t.TempDir(), "none.sock"))
	if err == nil || !strings.Contains(err.Error(), "--origin") {
		t.Fatalf("expected origin error, got %v", err)
	}
}
