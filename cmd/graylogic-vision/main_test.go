package main

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nerrad567/gray-logic-vision/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-vision/internal/projection"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// writeConfig writes a minimal config using a temporary database and
// returns its path.
func writeConfig(t *testing.T, port int, extra string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf(`
api:
  host: "127.0.0.1"
  port: %d

hardware:
  driver: sim
  lock_timeout: 2s

database:
  path: %q
  wal_mode: true
  busy_timeout: 5

logging:
  level: error
  format: text
  output: stdout
%s`, port, filepath.Join(dir, "vision.db"), extra)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("GLVISION_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with an explicit missing config path")
	}
}

func TestRun_UnknownDriver(t *testing.T) {
	path := writeConfig(t, freePort(t), "")
	data, _ := os.ReadFile(path)
	data = bytes.Replace(data, []byte("driver: sim"), []byte("driver: zivid"), 1)
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GLVISION_CONFIG", path)

	err := run(context.Background())
	if err == nil || !strings.Contains(err.Error(), `unknown hardware driver "zivid"`) {
		t.Fatalf("run() error = %v", err)
	}
}

func TestRun_ServesAndShutsDown(t *testing.T) {
	port := freePort(t)
	t.Setenv("GLVISION_CONFIG", writeConfig(t, port, ""))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/cameras", port)
	var resp *http.Response
	var err error
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err = http.Get(url)
		if err == nil {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if err != nil {
		cancel()
		t.Fatalf("service never answered: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /cameras status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() error = %v", err)
		}
	case <-time.After(20 * time.Second):
		t.Fatal("run() did not return after cancel")
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("GLVISION_CONFIG", "")
	if path, explicit := getConfigPath(); path != defaultConfigPath || explicit {
		t.Errorf("getConfigPath() = %q, %v", path, explicit)
	}

	t.Setenv("GLVISION_CONFIG", "/etc/vision.yaml")
	if path, explicit := getConfigPath(); path != "/etc/vision.yaml" || !explicit {
		t.Errorf("getConfigPath() = %q, %v", path, explicit)
	}
}

func TestLoadConfig_FallsBackToDefaults(t *testing.T) {
	t.Setenv("GLVISION_CONFIG", "")
	t.Chdir(t.TempDir())

	cfg, path, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if path != "(defaults)" || cfg.Hardware.Driver != "sim" {
		t.Errorf("loadConfig() = %q, driver %q", path, cfg.Hardware.Driver)
	}
}

func TestLoadPatterns(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pattern.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, image.NewRGBA(image.Rect(0, 0, 20, 10))); err != nil {
		t.Fatal(err)
	}
	f.Close()

	patterns, err := loadPatterns(config.ProjectionConfig{
		Images: []config.ProjectionImageConfig{{Height: 10, Width: 20, Path: path}},
	})
	if err != nil {
		t.Fatalf("loadPatterns() error = %v", err)
	}
	if _, err := patterns.Lookup(projection.Resolution{Height: 10, Width: 20}); err != nil {
		t.Errorf("configured pattern missing: %v", err)
	}
	if _, err := patterns.Lookup(projection.DefaultResolution); err != nil {
		t.Errorf("built-in pattern missing: %v", err)
	}

	_, err = loadPatterns(config.ProjectionConfig{
		Images: []config.ProjectionImageConfig{{Height: 20, Width: 20, Path: path}},
	})
	if err == nil {
		t.Error("loadPatterns() accepted a pattern of the wrong size")
	}
}

func TestRunToken(t *testing.T) {
	t.Setenv("GLVISION_CONFIG", writeConfig(t, 8080, ""))
	t.Setenv("GLVISION_JWT_SECRET", testSecret)

	var out bytes.Buffer
	if err := runToken([]string{"-sub", "cell-1", "-ttl", "1h"}, &out); err != nil {
		t.Fatalf("runToken() error = %v", err)
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(strings.TrimSpace(out.String()), &claims, func(*jwt.Token) (any, error) {
		return []byte(testSecret), nil
	})
	if err != nil {
		t.Fatalf("printed token does not verify: %v", err)
	}
	if claims.Subject != "cell-1" {
		t.Errorf("subject = %q", claims.Subject)
	}
	if left := time.Until(claims.ExpiresAt.Time); left <= 59*time.Minute || left > time.Hour {
		t.Errorf("token expires in %v, want about 1h", left)
	}
}

func TestRunToken_Errors(t *testing.T) {
	t.Setenv("GLVISION_CONFIG", writeConfig(t, 8080, ""))

	tests := []struct {
		name   string
		secret string
		args   []string
		want   string
	}{
		{"missing subject", testSecret, nil, "-sub is required"},
		{"auth disabled", "", []string{"-sub", "cell-1"}, "authentication is disabled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("GLVISION_JWT_SECRET", tt.secret)
			err := runToken(tt.args, &bytes.Buffer{})
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("runToken() error = %v, want %q", err, tt.want)
			}
		})
	}
}
