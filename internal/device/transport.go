package device

import (
	"context"

	"github.com/nerrad567/framegate/internal/frametv"
	"github.com/nerrad567/framegate/internal/infrastructure/config"
	"github.com/nerrad567/framegate/internal/settings"
)

// Transport is an open art channel to one TV. *frametv.Client implements it.
// A Connection never calls a Transport concurrently.
type Transport interface {
	APIVersion(ctx context.Context) (string, error)
	ArtModeSupported(ctx context.Context) (bool, error)
	ListArtwork(ctx context.Context, category string) ([]frametv.Artwork, error)
	CurrentArtwork(ctx context.Context) (frametv.Artwork, error)
	SelectArtwork(ctx context.Context, contentID string, show bool) error
	DeleteArtwork(ctx context.Context, contentIDs ...string) error
	UploadArtwork(ctx context.Context, data []byte, opts frametv.UploadOptions) (string, error)
	Thumbnail(ctx context.Context, contentID string) ([]byte, error)
	ThumbnailBatch(ctx context.Context, contentIDs ...string) (map[string][]byte, error)
	MatteList(ctx context.Context) (frametv.Mattes, error)
	Close() error
}

// Dialer opens a Transport to address.
type Dialer func(ctx context.Context, address string) (Transport, error)

// FrameTVDialer returns a Dialer that opens frametv clients with the
// configured port, client name and timeouts.
func FrameTVDialer(cfg config.DeviceConfig) Dialer {
	return func(ctx context.Context, address string) (Transport, error) {
		client, err := frametv.Dial(ctx, frametv.Config{
			Host:           address,
			Port:           cfg.Port,
			Name:           cfg.ClientName,
			ConnectTimeout: cfg.GetConnectTimeout(),
			ReadTimeout:    cfg.GetReadTimeout(),
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// ThumbnailCache is the persistent thumbnail store. *thumbcache.Cache
// implements it.
type ThumbnailCache interface {
	Get(ctx context.Context, contentID string) ([]byte, bool, error)
	Set(ctx context.Context, contentID string, data []byte) error
	Invalidate(ctx context.Context, contentID string) error
	Clear(ctx context.Context) error
	Prune(ctx context.Context, valid []string) (int, error)
	EnsureOwner(ctx context.Context, address string) (bool, error)
}

// SettingsStore persists the selected TV. *settings.Store implements it.
type SettingsStore interface {
	Load() (settings.Selection, error)
	Save(sel settings.Selection) error
}
