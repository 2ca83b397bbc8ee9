package app

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/vk/cutlet/internal/hcl"
	"github.com/vk/cutlet/internal/registry"
)

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// WriteConfig writes an HCL file into dir and returns its path.
func WriteConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}

// SetupAppTest creates an app for system tests with debug logging into a
// SafeBuffer. Set CUTLET_TEST_LOGS=true to print the logs after each test.
func SetupAppTest(t *testing.T, appConfig Config, modules ...registry.Module) (*App, *SafeBuffer) {
	t.Helper()

	logBuffer := &SafeBuffer{}
	t.Cleanup(func() {
		if os.Getenv("CUTLET_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logBuffer.String())
		}
	})

	appConfig.LogLevel = "debug"
	if appConfig.LogFormat == "" {
		appConfig.LogFormat = "text"
	}
	cfg, err := NewConfig(appConfig)
	if err != nil {
		t.Fatalf("invalid test configuration: %v", err)
	}
	testApp, err := NewApp(logBuffer, cfg, hcl.NewLoader(), modules...)
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}
	return testApp, logBuffer
}
