package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rexliu/splitsconnect/pkg/config"
)

func TestLevelGating(t *testing.T) {
	var buf bytes.Buffer
	l := New("test")
	l.SetOutput(&buf)
	if err := l.Configure(config.LoggingConfig{Level: "warn"}); err != nil {
		t.Fatalf("configure: %v", err)
	}
	l.Printf("dropped %d", 1)
	l.Debugf("dropped too")
	l.Warnf("kept %s", "warning")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("low-level lines leaked: %q", out)
	}
	if !strings.Contains(out, "WARN kept warning") {
		t.Fatalf("warning missing: %q", out)
	}
}

func TestConfigureWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "connectd.log")
	l := New("test")
	if err := l.Configure(config.LoggingConfig{Level: "info", FilePath: path}); err != nil {
		t.Fatalf("configure: %v", err)
	}
	l.Printf("hello file")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "hello file") {
		t.Fatalf("log file missing line: %q", data)
	}
}

func TestWithInheritsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New("root")
	l.SetOutput(&buf)
	_ = l.Configure(config.LoggingConfig{Level: "error"})
	child := l.With("relay")
	child.Printf("quiet")
	child.Errorf("loud")
	if strings.Contains(buf.String(), "quiet") || !strings.Contains(buf.String(), "relay: ") {
		t.Fatalf("unexpected child output %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("DEBUG") != LevelDebug || ParseLevel("") != LevelInfo || ParseLevel("warning") != LevelWarn {
		t.Fatal("unexpected level mapping")
	}
}
