package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/framegate/internal/infrastructure/config"
	"github.com/nerrad567/framegate/internal/infrastructure/influxdb"
)

// fakeInflux answers /ping and records line protocol sent to /api/v2/write.
type fakeInflux struct {
	mu     sync.Mutex
	lines  []string
	query  string
	server *httptest.Server
}

func newFakeInflux(t *testing.T) *fakeInflux {
	t.Helper()
	f := &fakeInflux{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ping", "/health":
			w.Header().Set("X-Influxdb-Version", "v2.7.4")
			w.Header().Set("X-Influxdb-Build", "OSS")
			w.WriteHeader(http.StatusNoContent)
		case "/api/v2/write":
			body, _ := io.ReadAll(r.Body)
			f.mu.Lock()
			f.query = r.URL.RawQuery
			for _, line := range strings.Split(strings.TrimSpace(string(body)), "\n") {
				if line != "" {
					f.lines = append(f.lines, line)
				}
			}
			f.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeInflux) config() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           f.server.URL,
		Token:         "framegate-test-token",
		Org:           "home",
		Bucket:        "framegate",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

// waitForLines polls until at least n lines arrived.
func (f *fakeInflux) waitForLines(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		f.mu.Lock()
		lines := append([]string(nil), f.lines...)
		f.mu.Unlock()
		if len(lines) >= n {
			return lines
		}
		if time.Now().After(deadline) {
			t.Fatalf("received %d lines, want %d: %v", len(lines), n, lines)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := config.InfluxDBConfig{Enabled: false}

	client, err := influxdb.Connect(context.Background(), cfg)
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
	if client != nil {
		t.Error("Connect() returned a client when disabled")
	}
}

func TestConnect_Unreachable(t *testing.T) {
	cfg := config.InfluxDBConfig{Enabled: true, URL: "http://127.0.0.1:1", Org: "home", Bucket: "framegate"}

	_, err := influxdb.Connect(context.Background(), cfg)
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_DefaultBatchSettings(t *testing.T) {
	f := newFakeInflux(t)
	cfg := f.config()
	cfg.BatchSize = 0
	cfg.FlushInterval = -1

	client, err := influxdb.Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
}

func TestHealthCheck(t *testing.T) {
	f := newFakeInflux(t)
	client, err := influxdb.Connect(context.Background(), f.config())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	client.Close()
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() after Close error = %v, want ErrNotConnected", err)
	}
}

func TestWriteOperation(t *testing.T) {
	f := newFakeInflux(t)
	client, err := influxdb.Connect(context.Background(), f.config())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	at := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	client.WriteOperation("192.168.1.50", "thumbnail", 84*time.Millisecond, nil, at)
	client.WriteOperation("192.168.1.50", "list_artwork", time.Second, errors.New("reset"), at)
	client.Flush()

	lines := f.waitForLines(t, 2)
	want := []string{
		"device_operation,address=192.168.1.50,operation=thumbnail,outcome=ok ",
		"device_operation,address=192.168.1.50,operation=list_artwork,outcome=error ",
	}
	for i, prefix := range want {
		if !strings.HasPrefix(lines[i], prefix) {
			t.Errorf("line %d = %q, want prefix %q", i, lines[i], prefix)
		}
	}
	if !strings.Contains(lines[0], "success=true") || !strings.Contains(lines[1], "success=false") {
		t.Errorf("success fields wrong: %v", lines)
	}

	f.mu.Lock()
	query := f.query
	f.mu.Unlock()
	if !strings.Contains(query, "bucket=framegate") || !strings.Contains(query, "org=home") {
		t.Errorf("write query = %q, want org and bucket", query)
	}
}

func TestWriteEventAndDiscovery(t *testing.T) {
	f := newFakeInflux(t)
	client, err := influxdb.Connect(context.Background(), f.config())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	client.WriteEvent("192.168.1.50", "artwork.uploaded", time.Time{})
	client.WriteDiscovery(2, 1, 3*time.Second, time.Time{})
	client.Flush()

	lines := f.waitForLines(t, 2)
	if !strings.HasPrefix(lines[0], "device_event,address=192.168.1.50,type=artwork.uploaded count=1i") {
		t.Errorf("event line = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "discovery_scan devices=2i,") || !strings.Contains(lines[1], "skipped=1i") {
		t.Errorf("discovery line = %q", lines[1])
	}
}

func TestWriteAfterCloseIsDropped(t *testing.T) {
	f := newFakeInflux(t)
	client, err := influxdb.Connect(context.Background(), f.config())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	client.Close()

	client.WriteEvent("192.168.1.50", "device.selected", time.Now())
	client.Flush()

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.lines) != 0 {
		t.Errorf("lines after Close = %v, want none", f.lines)
	}
}

func TestClose_Nil(t *testing.T) {
	var client *influxdb.Client
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
}
