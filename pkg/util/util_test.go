package util

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestManualClock(t *testing.T) {
	start := time.UnixMilli(1_700_000_000_000)
	c := NewManualClock(start)
	c.Advance(time.Second)
	if got := c.Now(); !got.Equal(start.Add(time.Second)) {
		t.Errorf("Now = %v", got)
	}
	c.Set(start)
	if got := <-c.After(time.Minute); !got.Equal(start.Add(time.Minute)) {
		t.Errorf("After = %v", got)
	}
}

func TestNewLoggerLevels(t *testing.T) {
	for _, lvl := range []string{"", "debug", "warn"} {
		if _, err := NewLogger(lvl); err != nil {
			t.Errorf("NewLogger(%q): %v", lvl, err)
		}
	}
	if _, err := NewLogger("loud"); err == nil {
		t.Error("accepted unknown level")
	}
}

func TestNewLoggerWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "node.log")
	lg, err := NewLoggerWithFile(path, "info")
	if err != nil {
		t.Fatalf("NewLoggerWithFile: %v", err)
	}
	lg.Sugar().Infow("block_committed", "height", 7)
	_ = lg.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), `"block_committed"`) || !strings.Contains(string(data), `"height":7`) {
		t.Errorf("log file = %s", data)
	}
}
