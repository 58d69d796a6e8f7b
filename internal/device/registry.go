package device

import (
	"context"
	"fmt"
	"sync"

	"github.com/nerrad567/framegate/internal/events"
	"github.com/nerrad567/framegate/internal/settings"
)

// Registry holds the Connection to the selected TV.
//
// Thread Safety: all methods are safe for concurrent use. Concurrent
// Configure calls check their TVs in parallel; the last one to commit wins.
type Registry struct {
	mu      sync.RWMutex
	current *Connection

	store  SettingsStore
	cache  ThumbnailCache
	dial   Dialer
	opts   Options
	logger Logger
	sink   events.Sink
}

// NewRegistry creates an empty Registry. Call InitializeFromSettings to
// restore a previous selection.
func NewRegistry(store SettingsStore, cache ThumbnailCache, dial Dialer, opts Options) *Registry {
	return &Registry{
		store:  store,
		cache:  cache,
		dial:   dial,
		opts:   opts,
		logger: noopLogger{},
		sink:   events.Discard,
	}
}

// SetLogger sets the logger for the registry and the connections it creates.
func (r *Registry) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// SetEventSink sets the sink for the registry and the connections it creates.
func (r *Registry) SetEventSink(sink events.Sink) {
	if sink == nil {
		sink = events.Discard
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink = sink
}

// Current returns the selected TV's Connection, or nil when none is selected.
func (r *Registry) Current() *Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Selection returns the persisted selection.
func (r *Registry) Selection() (settings.Selection, error) {
	return r.store.Load()
}

// Configure selects the TV at address.
//
// A fresh Connection is checked first. If it does not connect,
// ErrConfigurationRejected is returned and nothing changes. Otherwise the
// selection is saved, the previous Connection is retired and the
// thumbnail cache is handed over before the new Connection becomes
// current, so no request can see the old TV's thumbnails.
func (r *Registry) Configure(ctx context.Context, address, displayName string, manual bool) (*Connection, error) {
	address, err := NormalizeAddress(address)
	if err != nil {
		return nil, err
	}
	displayName = normalizeDisplayName(displayName, address)

	r.mu.RLock()
	conn := r.newConnection(address)
	logger := r.logger
	r.mu.RUnlock()

	st := conn.Status(ctx)
	if !st.Connected {
		conn.Close() //nolint:errcheck // Never shared
		logger.Warn("device selection rejected", "address", address, "error", st.Error)
		return nil, fmt.Errorf("%w: %s: %s", ErrConfigurationRejected, address, st.Error)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.Save(settings.NewSelection(address, displayName, manual)); err != nil {
		conn.Close() //nolint:errcheck // Never shared
		return nil, fmt.Errorf("saving selection: %w", err)
	}

	if prev := r.current; prev != nil {
		if err := prev.Close(); err != nil {
			r.logger.Debug("closing previous connection", "address", prev.Address(), "error", err)
		}
	}
	r.adoptCache(ctx, address)
	r.current = conn

	r.logger.Info("device selected",
		"address", address,
		"display_name", displayName,
		"api_version", st.APIVersion,
		"manual_entry", manual,
	)
	r.sink.Publish(ctx, events.Event{
		Type:    events.DeviceSelected,
		Address: address,
		Payload: map[string]any{
			"display_name":              displayName,
			"manual_entry":              manual,
			"api_version":               st.APIVersion,
			"art_mode_supported":        st.ArtModeSupported,
			"uses_encrypted_thumbnails": st.UsesBatchThumbnails,
		},
	})
	return conn, nil
}

// InitializeFromSettings restores the persisted selection without
// contacting the TV. It returns nil and no error when nothing is selected.
func (r *Registry) InitializeFromSettings(ctx context.Context) (*Connection, error) {
	sel, err := r.store.Load()
	if err != nil {
		return nil, fmt.Errorf("loading selection: %w", err)
	}
	if !sel.Configured() {
		r.logger.Info("no device selected")
		return nil, nil
	}

	address, err := NormalizeAddress(sel.AddressOrEmpty())
	if err != nil {
		return nil, fmt.Errorf("persisted selection: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev := r.current; prev != nil {
		prev.Close() //nolint:errcheck // Replaced
	}
	r.adoptCache(ctx, address)
	r.current = r.newConnection(address)

	r.logger.Info("device selection restored", "address", address, "display_name", sel.DisplayNameOrEmpty())
	return r.current, nil
}

// ClearThumbnails empties the thumbnail cache.
func (r *Registry) ClearThumbnails(ctx context.Context) error {
	if err := r.cache.Clear(ctx); err != nil {
		return fmt.Errorf("clearing thumbnail cache: %w", err)
	}
	return nil
}

// Close retires the current Connection.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return nil
	}
	err := r.current.Close()
	r.current = nil
	return err
}

// newConnection must be called with r.mu held.
func (r *Registry) newConnection(address string) *Connection {
	conn := NewConnection(address, r.dial, r.cache, r.opts)
	conn.SetLogger(r.logger)
	conn.SetEventSink(r.sink)
	return conn
}

// adoptCache points the thumbnail cache at address, flushing it when it
// held another TV's thumbnails. Must be called with r.mu held and the
// previous Connection closed.
func (r *Registry) adoptCache(ctx context.Context, address string) {
	flushed, err := r.cache.EnsureOwner(ctx, address)
	if err != nil {
		r.logger.Error("thumbnail cache handover failed, clearing", "address", address, "error", err)
		if err := r.cache.Clear(ctx); err != nil {
			r.logger.Error("thumbnail cache clear failed", "error", err)
		}
		flushed = true
	}
	if flushed {
		r.sink.Publish(ctx, events.Event{Type: events.ThumbnailCacheFlushed, Address: address})
	}
}
