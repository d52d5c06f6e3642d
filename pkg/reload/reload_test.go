package reload

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/goleak"

	"github.com/como-project/como/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestWatcherAppliesLogLevelChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "como.yaml")
	writeConfig(t, path, "sniffers:\n  - name: eth0\n    kind: generator\nlog:\n  level: info\n")

	cur, err := config.Load(path)
	if err != nil {
		t.Fatalf("initial load: %v", err)
	}

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	applied := make(chan *config.Config, 1)
	w := New(path, 20*time.Millisecond, cur, logger.WithField("test", true), func(c *config.Config) {
		applied <- c
	})

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go w.Run(ctx)

	time.Sleep(50 * time.Millisecond)
	writeConfig(t, path, "sniffers:\n  - name: eth0\n    kind: generator\nlog:\n  level: debug\n")

	select {
	case next := <-applied:
		if next.Log.Level != "debug" {
			t.Fatalf("expected applied config to have debug level, got %q", next.Log.Level)
		}
	case <-time.After(400 * time.Millisecond):
		t.Fatal("timed out waiting for reload to apply")
	}

	if w.Stats().Applied == 0 {
		t.Fatal("expected at least one applied reload in stats")
	}
}

func TestWatcherRejectsSnifferChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "como.yaml")
	writeConfig(t, path, "sniffers:\n  - name: eth0\n    kind: generator\n")

	cur, err := config.Load(path)
	if err != nil {
		t.Fatalf("initial load: %v", err)
	}

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	applied := make(chan *config.Config, 1)
	w := New(path, 20*time.Millisecond, cur, logger.WithField("test", true), func(c *config.Config) {
		applied <- c
	})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	go w.Run(ctx)

	time.Sleep(50 * time.Millisecond)
	writeConfig(t, path, "sniffers:\n  - name: eth1\n    kind: generator\n")

	select {
	case <-applied:
		t.Fatal("expected sniffer-list change to be rejected, not applied")
	case <-time.After(250 * time.Millisecond):
	}

	if w.Stats().Rejected == 0 {
		t.Fatal("expected at least one rejected reload in stats")
	}
}
