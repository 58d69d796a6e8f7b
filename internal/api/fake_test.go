package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/framegate/internal/device"
	"github.com/nerrad567/framegate/internal/discovery"
	"github.com/nerrad567/framegate/internal/frametv"
	"github.com/nerrad567/framegate/internal/infrastructure/config"
	"github.com/nerrad567/framegate/internal/infrastructure/database"
	"github.com/nerrad567/framegate/internal/infrastructure/logging"
	"github.com/nerrad567/framegate/internal/settings"
	"github.com/nerrad567/framegate/internal/thumbcache"
	"github.com/nerrad567/framegate/migrations"
)

var errRefused = errors.New("fake: connection refused")

// fakeTV answers the art channel for one address.
type fakeTV struct {
	mu        sync.Mutex
	version   string
	items     []frametv.Artwork
	current   string
	thumbs    map[string][]byte
	mattes    frametv.Mattes
	uploadID  string
	uploads   [][]byte
	uploadOpt []frametv.UploadOptions
	selected  []string
	deleted   []string
	selectErr error
	down      bool
}

func newFakeTV() *fakeTV {
	return &fakeTV{
		version:  "4.3.4.0",
		thumbs:   map[string][]byte{},
		uploadID: "MY_F0100",
	}
}

func (tv *fakeTV) err() error {
	if tv.down {
		return errRefused
	}
	return nil
}

func (tv *fakeTV) APIVersion(context.Context) (string, error) {
	tv.mu.Lock()
	defer tv.mu.Unlock()
	return tv.version, tv.err()
}

func (tv *fakeTV) ArtModeSupported(context.Context) (bool, error) {
	tv.mu.Lock()
	defer tv.mu.Unlock()
	return true, tv.err()
}

func (tv *fakeTV) ListArtwork(context.Context, string) ([]frametv.Artwork, error) {
	tv.mu.Lock()
	defer tv.mu.Unlock()
	return append([]frametv.Artwork(nil), tv.items...), tv.err()
}

func (tv *fakeTV) CurrentArtwork(context.Context) (frametv.Artwork, error) {
	tv.mu.Lock()
	defer tv.mu.Unlock()
	return frametv.Artwork{ContentID: tv.current, CategoryID: "MY-C0002"}, tv.err()
}

func (tv *fakeTV) SelectArtwork(_ context.Context, id string, _ bool) error {
	tv.mu.Lock()
	defer tv.mu.Unlock()
	if err := tv.err(); err != nil {
		return err
	}
	if tv.selectErr != nil {
		return tv.selectErr
	}
	tv.selected = append(tv.selected, id)
	tv.current = id
	return nil
}

func (tv *fakeTV) DeleteArtwork(_ context.Context, ids ...string) error {
	tv.mu.Lock()
	defer tv.mu.Unlock()
	if err := tv.err(); err != nil {
		return err
	}
	tv.deleted = append(tv.deleted, ids...)
	return nil
}

func (tv *fakeTV) UploadArtwork(_ context.Context, data []byte, opts frametv.UploadOptions) (string, error) {
	tv.mu.Lock()
	defer tv.mu.Unlock()
	if err := tv.err(); err != nil {
		return "", err
	}
	tv.uploads = append(tv.uploads, data)
	tv.uploadOpt = append(tv.uploadOpt, opts)
	return tv.uploadID, nil
}

func (tv *fakeTV) Thumbnail(_ context.Context, id string) ([]byte, error) {
	tv.mu.Lock()
	defer tv.mu.Unlock()
	if err := tv.err(); err != nil {
		return nil, err
	}
	data, ok := tv.thumbs[id]
	if !ok {
		return nil, frametv.ErrRejected
	}
	return data, nil
}

func (tv *fakeTV) ThumbnailBatch(ctx context.Context, ids ...string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(ids))
	for _, id := range ids {
		data, err := tv.Thumbnail(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = data
	}
	return out, nil
}

func (tv *fakeTV) MatteList(context.Context) (frametv.Mattes, error) {
	tv.mu.Lock()
	defer tv.mu.Unlock()
	return tv.mattes, tv.err()
}

func (tv *fakeTV) Close() error { return nil }

// fakeNetwork dials the fake TVs it knows and refuses everything else.
type fakeNetwork struct {
	mu  sync.Mutex
	tvs map[string]*fakeTV
}

func (n *fakeNetwork) add(address string) *fakeTV {
	n.mu.Lock()
	defer n.mu.Unlock()
	tv := newFakeTV()
	n.tvs[address] = tv
	return tv
}

func (n *fakeNetwork) dial(_ context.Context, address string) (device.Transport, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	tv, ok := n.tvs[address]
	if !ok {
		return nil, errRefused
	}
	tv.mu.Lock()
	defer tv.mu.Unlock()
	if tv.down {
		return nil, errRefused
	}
	return tv, nil
}

// fakeScanner returns a fixed report.
type fakeScanner struct {
	mu       sync.Mutex
	report   discovery.Report
	err      error
	timeouts []time.Duration
}

func (s *fakeScanner) ScanReport(timeout time.Duration) (discovery.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeouts = append(s.timeouts, timeout)
	return s.report, s.err
}

// fixture is a server wired to a fake network, real settings and a real
// thumbnail cache.
type fixture struct {
	srv     *Server
	handler http.Handler
	reg     *device.Registry
	net     *fakeNetwork
	scanner *fakeScanner
	store   *settings.Store
	cache   *thumbcache.Cache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "thumbs.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	f := &fixture{
		net:     &fakeNetwork{tvs: map[string]*fakeTV{}},
		scanner: &fakeScanner{},
		store:   settings.NewStore(filepath.Join(t.TempDir(), "settings.json")),
		cache:   thumbcache.New(db),
	}
	f.reg = device.NewRegistry(f.store, f.cache, f.net.dial, device.Options{
		ThumbnailRetries: 1,
		Sleep:            func(time.Duration) {},
	})
	t.Cleanup(func() { f.reg.Close() })

	f.srv, err = New(Deps{
		Config: config.APIConfig{
			Host:        "127.0.0.1",
			Port:        0,
			Timeouts:    config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
			MaxUploadMB: 1,
		},
		WS: config.WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:     logging.Discard(),
		Registry:   f.reg,
		Scanner:    f.scanner,
		Thumbnails: f.cache,
		Version:    "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	f.handler = f.srv.Handler()
	return f
}

// selectTV configures the registry for a fake TV at address.
func (f *fixture) selectTV(t *testing.T, address string) *fakeTV {
	t.Helper()
	tv := f.net.add(address)
	if _, err := f.reg.Configure(context.Background(), address, "Living Room", false); err != nil {
		t.Fatalf("Configure(%s) error = %v", address, err)
	}
	return tv
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}
