package device

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/framegate/internal/events"
	"github.com/nerrad567/framegate/internal/frametv"
	"github.com/nerrad567/framegate/internal/infrastructure/database"
	"github.com/nerrad567/framegate/internal/settings"
	"github.com/nerrad567/framegate/internal/thumbcache"
	"github.com/nerrad567/framegate/migrations"
)

var errLinkDown = errors.New("fake: connection reset by peer")

// fakeTV is an instrumented TV. Each dial opens a new session on it;
// counters survive reconnects.
type fakeTV struct {
	mu sync.Mutex

	dialErr    error
	version    string
	versionErr error
	artMode    bool
	artModeErr error

	items      []frametv.Artwork
	listErr    error
	current    frametv.Artwork
	mattes     frametv.Mattes
	matteErr   error
	deleteErr  error
	uploadID   string
	uploadErr  error
	selectErr  error
	thumbs     map[string][]byte
	thumbErrs  []error
	thumbBlock chan struct{}

	// delay is spent inside every call, to widen overlap windows.
	delay time.Duration

	dials       int
	closes      int
	calls       map[string]int
	selected    []string
	deleted     []string
	uploads     []frametv.UploadOptions
	inflight    int
	maxInflight int
}

func newFakeTV(version string) *fakeTV {
	return &fakeTV{
		version: version,
		artMode: true,
		thumbs:  map[string][]byte{},
		calls:   map[string]int{},
	}
}

func (tv *fakeTV) dial(_ context.Context, _ string) (Transport, error) {
	tv.mu.Lock()
	defer tv.mu.Unlock()
	tv.dials++
	if tv.dialErr != nil {
		return nil, tv.dialErr
	}
	return &fakeSession{tv: tv}, nil
}

// enter records a call and returns the function that ends it.
func (tv *fakeTV) enter(name string) func() {
	tv.mu.Lock()
	tv.calls[name]++
	tv.inflight++
	if tv.inflight > tv.maxInflight {
		tv.maxInflight = tv.inflight
	}
	delay := tv.delay
	tv.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	return func() {
		tv.mu.Lock()
		tv.inflight--
		tv.mu.Unlock()
	}
}

func (tv *fakeTV) count(name string) int {
	tv.mu.Lock()
	defer tv.mu.Unlock()
	return tv.calls[name]
}

func (tv *fakeTV) totalCalls() int {
	tv.mu.Lock()
	defer tv.mu.Unlock()
	n := 0
	for _, c := range tv.calls {
		n += c
	}
	return n
}

func (tv *fakeTV) dialCount() int {
	tv.mu.Lock()
	defer tv.mu.Unlock()
	return tv.dials
}

func (tv *fakeTV) set(fn func(tv *fakeTV)) {
	tv.mu.Lock()
	defer tv.mu.Unlock()
	fn(tv)
}

type fakeSession struct {
	tv     *fakeTV
	closed bool
}

func (s *fakeSession) APIVersion(context.Context) (string, error) {
	defer s.tv.enter("api_version")()
	s.tv.mu.Lock()
	defer s.tv.mu.Unlock()
	return s.tv.version, s.tv.versionErr
}

func (s *fakeSession) ArtModeSupported(context.Context) (bool, error) {
	defer s.tv.enter("art_mode")()
	s.tv.mu.Lock()
	defer s.tv.mu.Unlock()
	return s.tv.artMode, s.tv.artModeErr
}

func (s *fakeSession) ListArtwork(_ context.Context, _ string) ([]frametv.Artwork, error) {
	defer s.tv.enter("list")()
	s.tv.mu.Lock()
	defer s.tv.mu.Unlock()
	if s.tv.listErr != nil {
		return nil, s.tv.listErr
	}
	return append([]frametv.Artwork(nil), s.tv.items...), nil
}

func (s *fakeSession) CurrentArtwork(context.Context) (frametv.Artwork, error) {
	defer s.tv.enter("current")()
	s.tv.mu.Lock()
	defer s.tv.mu.Unlock()
	return s.tv.current, nil
}

func (s *fakeSession) SelectArtwork(_ context.Context, contentID string, _ bool) error {
	defer s.tv.enter("select")()
	s.tv.mu.Lock()
	defer s.tv.mu.Unlock()
	if s.tv.selectErr != nil {
		return s.tv.selectErr
	}
	s.tv.selected = append(s.tv.selected, contentID)
	return nil
}

func (s *fakeSession) DeleteArtwork(_ context.Context, contentIDs ...string) error {
	defer s.tv.enter("delete")()
	s.tv.mu.Lock()
	defer s.tv.mu.Unlock()
	if s.tv.deleteErr != nil {
		return s.tv.deleteErr
	}
	s.tv.deleted = append(s.tv.deleted, contentIDs...)
	return nil
}

func (s *fakeSession) UploadArtwork(_ context.Context, _ []byte, opts frametv.UploadOptions) (string, error) {
	defer s.tv.enter("upload")()
	s.tv.mu.Lock()
	defer s.tv.mu.Unlock()
	if s.tv.uploadErr != nil {
		return "", s.tv.uploadErr
	}
	s.tv.uploads = append(s.tv.uploads, opts)
	return s.tv.uploadID, nil
}

func (s *fakeSession) Thumbnail(_ context.Context, contentID string) ([]byte, error) {
	defer s.tv.enter("thumbnail")()
	return s.tv.thumbnail(contentID)
}

func (s *fakeSession) ThumbnailBatch(_ context.Context, contentIDs ...string) (map[string][]byte, error) {
	defer s.tv.enter("thumbnail_batch")()
	out := make(map[string][]byte, len(contentIDs))
	for _, id := range contentIDs {
		data, err := s.tv.thumbnail(id)
		if err != nil {
			return nil, err
		}
		if data != nil {
			out[id] = data
		}
	}
	return out, nil
}

func (tv *fakeTV) thumbnail(contentID string) ([]byte, error) {
	tv.mu.Lock()
	block := tv.thumbBlock
	tv.mu.Unlock()
	if block != nil {
		<-block
	}

	tv.mu.Lock()
	defer tv.mu.Unlock()
	if len(tv.thumbErrs) > 0 {
		err := tv.thumbErrs[0]
		tv.thumbErrs = tv.thumbErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return tv.thumbs[contentID], nil
}

func (s *fakeSession) MatteList(context.Context) (frametv.Mattes, error) {
	defer s.tv.enter("matte_list")()
	s.tv.mu.Lock()
	defer s.tv.mu.Unlock()
	return s.tv.mattes, s.tv.matteErr
}

func (s *fakeSession) Close() error {
	s.tv.mu.Lock()
	defer s.tv.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.tv.closes++
	}
	return nil
}

// recordingSink collects published events.
type recordingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingSink) Publish(_ context.Context, e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingSink) count(typ events.Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

// sleepRecorder stands in for time.Sleep.
type sleepRecorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (s *sleepRecorder) sleep(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sleeps = append(s.sleeps, d)
}

func (s *sleepRecorder) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sleeps)
}

// testCache opens a migrated thumbnail cache in a temp dir.
func testCache(t *testing.T) *thumbcache.Cache {
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
	return thumbcache.New(db)
}

func testStore(t *testing.T) *settings.Store {
	t.Helper()
	return settings.NewStore(filepath.Join(t.TempDir(), "settings.json"))
}

// testConnection wires a Connection to tv with two retries and a recorded sleep.
func testConnection(t *testing.T, tv *fakeTV) (*Connection, *thumbcache.Cache, *sleepRecorder, *recordingSink) {
	t.Helper()
	cache := testCache(t)
	sleeper := &sleepRecorder{}
	sink := &recordingSink{}

	conn := NewConnection("192.168.1.50", tv.dial, cache, Options{
		ThumbnailRetries: 2,
		RetryDelay:       500 * time.Millisecond,
		Sleep:            sleeper.sleep,
	})
	conn.SetEventSink(sink)
	t.Cleanup(func() { conn.Close() })
	return conn, cache, sleeper, sink
}
