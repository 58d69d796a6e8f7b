package device

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nerrad567/framegate/internal/events"
	"github.com/nerrad567/framegate/internal/frametv"
	"github.com/nerrad567/framegate/internal/infrastructure/config"
)

// DefaultContentCategory is the TV's "My Photos" category.
const DefaultContentCategory = "MY-C0002"

// Logger defines the logging interface used by the device package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// errThumbnailMissing marks a thumbnail reply that carried no bytes.
var errThumbnailMissing = errors.New("device: thumbnail reply was empty")

// Options tunes a Connection.
type Options struct {
	// ContentCategory is the art category listed and uploaded to.
	ContentCategory string

	// ThumbnailRetries is the number of extra attempts after a failed
	// thumbnail fetch.
	ThumbnailRetries int
	RetryDelay       time.Duration

	// Sleep waits between thumbnail attempts. Nil means time.Sleep.
	Sleep func(time.Duration)
}

// OptionsFromConfig maps the device config section to Options.
func OptionsFromConfig(cfg config.DeviceConfig) Options {
	return Options{
		ContentCategory:  cfg.ContentCategory,
		ThumbnailRetries: cfg.ThumbnailRetries,
		RetryDelay:       cfg.RetryDelay(),
	}
}

// Connection talks to one TV.
type Connection struct {
	address string
	dial    Dialer
	cache   ThumbnailCache
	opts    Options
	sleep   func(time.Duration)
	logger  Logger
	sink    events.Sink

	queue  requestQueue
	thumbs singleflight.Group

	// Guarded by queue.
	transport Transport
	version   protocolVersion
	closed    bool
}

// op names one device-bound call. contentID is set for calls about a
// single artwork, whose rejections mean the id is unknown.
type op struct {
	name      string
	contentID string
}

// NewConnection returns an unconnected Connection to address. Nothing is
// dialled until the first call.
func NewConnection(address string, dial Dialer, cache ThumbnailCache, opts Options) *Connection {
	if opts.ContentCategory == "" {
		opts.ContentCategory = DefaultContentCategory
	}
	if opts.ThumbnailRetries < 0 {
		opts.ThumbnailRetries = 0
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	return &Connection{
		address: address,
		dial:    dial,
		cache:   cache,
		opts:    opts,
		sleep:   sleep,
		logger:  noopLogger{},
		sink:    events.Discard,
	}
}

// SetLogger sets the logger. Call before the Connection is shared.
func (c *Connection) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.logger = logger
}

// SetEventSink sets where events go. Call before the Connection is shared.
func (c *Connection) SetEventSink(sink events.Sink) {
	if sink == nil {
		sink = events.Discard
	}
	c.sink = sink
}

// Address returns the TV address.
func (c *Connection) Address() string {
	return c.address
}

// State reports the connection state. It waits for any call in progress.
func (c *Connection) State() State {
	c.queue.acquire(context.Background()) //nolint:errcheck // Background is never done
	defer c.queue.release()

	switch {
	case c.transport == nil:
		return StateUnconnected
	case !c.version.known:
		return StateVersionPending
	default:
		return StateVersionKnown
	}
}

// Status checks the TV. It never fails: problems are reported in
// Status.Error, and both the transport and the detected version are
// forgotten so the next call starts afresh.
func (c *Connection) Status(ctx context.Context) Status {
	st := Status{Address: c.address}

	if err := c.queue.acquire(ctx); err != nil {
		st.Error = err.Error()
		return st
	}
	defer c.queue.release()

	var (
		supported bool
		version   protocolVersion
	)
	err := c.runLocked(ctx, op{name: "status"}, func(ctx context.Context, t Transport) error {
		var err error
		if supported, err = t.ArtModeSupported(ctx); err != nil {
			return err
		}
		version, err = c.ensureVersion(ctx, t)
		return err
	})
	if err != nil {
		c.dropTransport(ctx, "status", err)
		c.version = protocolVersion{}
		st.Error = err.Error()
		return st
	}

	st.Connected = true
	st.ArtModeSupported = supported
	st.APIVersion = version.raw
	st.UsesBatchThumbnails = version.batch
	return st
}

// ListArtwork returns the artwork in the configured category. The TV
// sometimes repeats items; only the first of each content id is kept.
func (c *Connection) ListArtwork(ctx context.Context) ([]Artwork, error) {
	var items []frametv.Artwork
	err := c.run(ctx, op{name: "list_artwork"}, func(ctx context.Context, t Transport) error {
		var err error
		items, err = t.ListArtwork(ctx, c.opts.ContentCategory)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]Artwork, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	dropped := 0
	for _, item := range items {
		if item.ContentID == "" {
			dropped++
			continue
		}
		if _, dup := seen[item.ContentID]; dup {
			dropped++
			continue
		}
		seen[item.ContentID] = struct{}{}
		out = append(out, artworkFrom(item))
	}
	if dropped > 0 {
		c.logger.Debug("dropped repeated artwork entries", "address", c.address, "count", dropped)
	}
	return out, nil
}

// CurrentArtwork returns the artwork the TV is showing.
func (c *Connection) CurrentArtwork(ctx context.Context) (Artwork, error) {
	var current frametv.Artwork
	err := c.run(ctx, op{name: "current_artwork"}, func(ctx context.Context, t Transport) error {
		var err error
		current, err = t.CurrentArtwork(ctx)
		return err
	})
	if err != nil {
		return Artwork{}, err
	}
	return artworkFrom(current), nil
}

// SelectArtwork shows contentID. The TV does not acknowledge selections,
// so success means the request was sent.
func (c *Connection) SelectArtwork(ctx context.Context, contentID string) error {
	if contentID == "" {
		return fmt.Errorf("%w: empty content id", ErrNotFound)
	}
	err := c.run(ctx, op{name: "select_artwork", contentID: contentID}, func(ctx context.Context, t Transport) error {
		return t.SelectArtwork(ctx, contentID, true)
	})
	if err != nil {
		return err
	}
	c.publish(ctx, events.ArtworkSelected, map[string]any{"content_id": contentID})
	return nil
}

// DeleteArtwork removes contentID from the TV and from the thumbnail cache.
func (c *Connection) DeleteArtwork(ctx context.Context, contentID string) error {
	if contentID == "" {
		return fmt.Errorf("%w: empty content id", ErrNotFound)
	}
	err := c.run(ctx, op{name: "delete_artwork", contentID: contentID}, func(ctx context.Context, t Transport) error {
		if err := t.DeleteArtwork(ctx, contentID); err != nil {
			return err
		}
		c.invalidate(ctx, contentID)
		return nil
	})
	if err != nil {
		return err
	}
	c.publish(ctx, events.ArtworkDeleted, map[string]any{"content_id": contentID})
	return nil
}

// UploadArtwork stores an image and returns its content id. With
// req.Display set the new artwork is selected in the same turn. If that
// selection fails the content id is still returned alongside the error.
func (c *Connection) UploadArtwork(ctx context.Context, req UploadRequest) (string, error) {
	if len(req.Data) == 0 {
		return "", ErrEmptyUpload
	}
	matte := MatteID(req.MatteStyle, req.MatteColor)

	var contentID string
	err := c.run(ctx, op{name: "upload_artwork"}, func(ctx context.Context, t Transport) error {
		id, err := t.UploadArtwork(ctx, req.Data, frametv.UploadOptions{
			Matte:         matte,
			PortraitMatte: matte,
		})
		if err != nil {
			return err
		}
		contentID = id
		// The TV reuses ids of deleted artwork.
		c.invalidate(ctx, id)
		if req.Display {
			return t.SelectArtwork(ctx, id, true)
		}
		return nil
	})
	if contentID != "" {
		c.publish(ctx, events.ArtworkUploaded, map[string]any{
			"content_id": contentID,
			"size":       len(req.Data),
			"matte":      matte,
			"displayed":  req.Display && err == nil,
		})
	}
	return contentID, err
}

// MatteOptions returns the matte styles and colours the TV offers, or the
// built-in defaults when it cannot answer.
func (c *Connection) MatteOptions(ctx context.Context) MatteOptions {
	var mattes frametv.Mattes
	err := c.run(ctx, op{name: "matte_list"}, func(ctx context.Context, t Transport) error {
		var err error
		mattes, err = t.MatteList(ctx)
		return err
	})
	if err != nil {
		c.logger.Warn("matte list unavailable, using defaults", "address", c.address, "error", err)
		return DefaultMatteOptions()
	}
	if len(mattes.Types) == 0 {
		return DefaultMatteOptions()
	}
	return matteOptionsFrom(mattes)
}

// GetThumbnail returns the thumbnail for contentID, from the cache when
// possible, retrying failed fetches ThumbnailRetries times.
func (c *Connection) GetThumbnail(ctx context.Context, contentID string) ([]byte, error) {
	return c.GetThumbnailRetries(ctx, contentID, c.opts.ThumbnailRetries)
}

// GetThumbnailRetries is GetThumbnail with an explicit retry count. A fetch
// is attempted at most retries+1 times; unknown ids are not retried.
// Concurrent requests for one id and retry count share a fetch.
func (c *Connection) GetThumbnailRetries(ctx context.Context, contentID string, retries int) ([]byte, error) {
	if contentID == "" {
		return nil, fmt.Errorf("%w: empty content id", ErrNotFound)
	}
	retries = max(retries, 0)

	data, ok, err := c.cache.Get(ctx, contentID)
	switch {
	case err != nil:
		c.logger.Warn("thumbnail cache read failed", "content_id", contentID, "error", err)
	case ok:
		return data, nil
	}

	key := contentID + "\x00" + strconv.Itoa(retries)
	v, err, _ := c.thumbs.Do(key, func() (any, error) {
		return c.fetchThumbnail(context.WithoutCancel(ctx), contentID, retries)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (c *Connection) fetchThumbnail(ctx context.Context, contentID string, retries int) ([]byte, error) {
	// A fetch that finished between our cache miss and joining the flight
	// has already written the entry.
	if data, ok, err := c.cache.Get(ctx, contentID); err == nil && ok {
		return data, nil
	}

	attempts := retries + 1

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			c.publish(ctx, events.ThumbnailRetry, map[string]any{
				"content_id": contentID,
				"attempt":    attempt,
				"error":      lastErr.Error(),
			})
			c.sleep(c.opts.RetryDelay)
		}

		data, err := c.thumbnailAttempt(ctx, contentID)
		if err == nil {
			return data, nil
		}
		if !retryable(err) {
			return nil, err
		}
		lastErr = err
		c.logger.Warn("thumbnail fetch failed",
			"address", c.address,
			"content_id", contentID,
			"attempt", attempt,
			"attempts", attempts,
			"error", err,
		)
	}
	return nil, lastErr
}

// thumbnailAttempt fetches one thumbnail in the shape the TV's version
// calls for and writes it through to the cache before releasing the turn.
func (c *Connection) thumbnailAttempt(ctx context.Context, contentID string) ([]byte, error) {
	var data []byte
	err := c.run(ctx, op{name: "thumbnail", contentID: contentID}, func(ctx context.Context, t Transport) error {
		version, err := c.ensureVersion(ctx, t)
		if err != nil {
			return err
		}

		if version.batch {
			batch, err := t.ThumbnailBatch(ctx, contentID)
			if err != nil {
				return err
			}
			data = batch[contentID]
			if data == nil && len(batch) == 1 {
				for _, only := range batch {
					data = only
				}
			}
		} else {
			if data, err = t.Thumbnail(ctx, contentID); err != nil {
				return err
			}
		}

		if len(data) == 0 {
			return errThumbnailMissing
		}
		if err := c.cache.Set(ctx, contentID, data); err != nil {
			c.logger.Warn("thumbnail cache write failed", "content_id", contentID, "error", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func retryable(err error) bool {
	return !errors.Is(err, ErrNotFound) &&
		!errors.Is(err, ErrRejected) &&
		!errors.Is(err, ErrClosed)
}

// CleanupThumbnails removes cached thumbnails for artwork no longer on the
// TV and returns how many were removed.
func (c *Connection) CleanupThumbnails(ctx context.Context) (int, error) {
	items, err := c.ListArtwork(ctx)
	if err != nil {
		return 0, err
	}
	valid := make([]string, len(items))
	for i, item := range items {
		valid[i] = item.ContentID
	}
	removed, err := c.cache.Prune(ctx, valid)
	if err != nil {
		return 0, fmt.Errorf("pruning thumbnail cache: %w", err)
	}
	if removed > 0 {
		c.logger.Info("orphaned thumbnails removed", "address", c.address, "count", removed)
	}
	return removed, nil
}

// Close retires the Connection. It waits for the call in progress, so no
// cache write can follow it. Close is idempotent.
func (c *Connection) Close() error {
	c.queue.acquire(context.Background()) //nolint:errcheck // Background is never done
	defer c.queue.release()

	if c.closed {
		return nil
	}
	c.closed = true
	if c.transport == nil {
		return nil
	}
	err := c.transport.Close()
	c.transport = nil
	return err
}

// run waits for the caller's turn and then makes one device-bound call.
func (c *Connection) run(ctx context.Context, o op, fn func(context.Context, Transport) error) error {
	if err := c.queue.acquire(ctx); err != nil {
		return err
	}
	defer c.queue.release()
	return c.runLocked(ctx, o, fn)
}

// runLocked makes one device-bound call. The caller holds the turn.
// Once started, a call is not cancelled: the transport's own timeouts
// bound it.
func (c *Connection) runLocked(ctx context.Context, o op, fn func(context.Context, Transport) error) error {
	if c.closed {
		return ErrClosed
	}
	ctx = context.WithoutCancel(ctx)
	start := time.Now()

	err := c.ensureTransport(ctx)
	if err == nil {
		if err = fn(ctx, c.transport); err != nil {
			err = c.classify(ctx, o, err)
		}
	}

	e := events.Event{
		Type:      events.OperationCompleted,
		Address:   c.address,
		Operation: o.name,
		Duration:  time.Since(start),
	}
	if err != nil {
		e.Err = err.Error()
	}
	c.sink.Publish(ctx, e)
	c.logger.Debug("device call", "address", c.address, "operation", o.name, "duration", e.Duration, "error", err)
	return err
}

func (c *Connection) ensureTransport(ctx context.Context) error {
	if c.transport != nil {
		return nil
	}
	t, err := c.dial(ctx, c.address)
	if err != nil {
		return fmt.Errorf("%w: connecting to %s: %w", ErrUnreachable, c.address, err)
	}
	c.transport = t
	c.logger.Debug("device transport opened", "address", c.address)
	return nil
}

// ensureVersion detects the art API version once per Connection. Any
// failure is a ProtocolMismatch.
func (c *Connection) ensureVersion(ctx context.Context, t Transport) (protocolVersion, error) {
	if c.version.known {
		return c.version, nil
	}
	raw, err := t.APIVersion(ctx)
	if err != nil {
		return protocolVersion{}, fmt.Errorf("%w: %w", ErrProtocolMismatch, err)
	}
	version, ok := detectedVersion(raw)
	if !ok {
		c.logger.Warn("unparseable art api version, assuming current protocol", "address", c.address, "version", raw)
	}
	c.version = version
	c.logger.Info("art api version detected",
		"address", c.address,
		"version", raw,
		"batch_thumbnails", version.batch,
	)
	return version, nil
}

// classify maps a transport error onto the device taxonomy. Anything but
// a clean rejection drops the transport.
func (c *Connection) classify(ctx context.Context, o op, err error) error {
	switch {
	case errors.Is(err, errThumbnailMissing):
		return fmt.Errorf("%w: no thumbnail for %s", ErrNotFound, o.contentID)
	case errors.Is(err, ErrProtocolMismatch):
		c.dropTransport(ctx, o.name, err)
		return fmt.Errorf("%w: %s: %w", ErrUnreachable, o.name, err)
	case errors.Is(err, frametv.ErrRejected) && o.contentID != "":
		return fmt.Errorf("%w: %s: %w", ErrNotFound, o.contentID, err)
	case errors.Is(err, frametv.ErrRejected):
		return fmt.Errorf("%w: %s: %w", ErrRejected, o.name, err)
	default:
		c.dropTransport(ctx, o.name, err)
		return fmt.Errorf("%w: %s: %w", ErrUnreachable, o.name, err)
	}
}

// dropTransport closes the transport after a failure. The detected
// version is kept.
func (c *Connection) dropTransport(ctx context.Context, operation string, cause error) {
	if c.transport == nil {
		return
	}
	c.transport.Close() //nolint:errcheck // Already failed
	c.transport = nil

	c.logger.Warn("device connection dropped", "address", c.address, "operation", operation, "error", cause)
	c.publish(ctx, events.ConnectionLost, map[string]any{
		"operation": operation,
		"error":     cause.Error(),
	})
}

func (c *Connection) invalidate(ctx context.Context, contentID string) {
	if err := c.cache.Invalidate(ctx, contentID); err != nil {
		c.logger.Error("thumbnail cache invalidation failed", "content_id", contentID, "error", err)
	}
}

func (c *Connection) publish(ctx context.Context, typ events.Type, payload map[string]any) {
	c.sink.Publish(ctx, events.Event{Type: typ, Address: c.address, Payload: payload})
}
