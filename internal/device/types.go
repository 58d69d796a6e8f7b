package device

import (
	"sort"
	"strings"

	"github.com/nerrad567/framegate/internal/frametv"
)

// State is the lifecycle position of a Connection.
type State int

// Connection states.
const (
	// StateUnconnected means no transport is open.
	StateUnconnected State = iota
	// StateVersionPending means a transport is open but the art API
	// version has not been detected on it yet.
	StateVersionPending
	// StateVersionKnown means the transport is open and the version is known.
	StateVersionKnown
)

func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateVersionPending:
		return "version_pending"
	case StateVersionKnown:
		return "version_known"
	default:
		return "unknown"
	}
}

// Status is the result of a connectivity check. It is always returned,
// never an error: failures show up as Connected=false with Error set.
type Status struct {
	Address          string `json:"address"`
	Connected        bool   `json:"connected"`
	ArtModeSupported bool   `json:"art_mode_supported"`
	APIVersion       string `json:"api_version,omitempty"`

	// UsesBatchThumbnails reports whether thumbnails come over the
	// TLS-wrapped batch socket of newer firmware.
	UsesBatchThumbnails bool   `json:"uses_encrypted_thumbnails"`
	Error               string `json:"error,omitempty"`
}

// Artwork is one item stored on the TV.
type Artwork struct {
	ContentID       string `json:"content_id"`
	DisplayName     string `json:"display_name"`
	CategoryID      string `json:"category_id,omitempty"`
	Width           int    `json:"width,omitempty"`
	Height          int    `json:"height,omitempty"`
	FileType        string `json:"file_type,omitempty"`
	ImageDate       string `json:"image_date,omitempty"`
	MatteID         string `json:"matte_id,omitempty"`
	PortraitMatteID string `json:"portrait_matte_id,omitempty"`
}

// artworkFrom converts the transport record. The TV keeps no titles, so
// the content id doubles as the display name.
func artworkFrom(a frametv.Artwork) Artwork {
	return Artwork{
		ContentID:       a.ContentID,
		DisplayName:     a.ContentID,
		CategoryID:      a.CategoryID,
		Width:           a.Width,
		Height:          a.Height,
		FileType:        a.FileType,
		ImageDate:       a.ImageDate,
		MatteID:         a.MatteID,
		PortraitMatteID: a.PortraitMatteID,
	}
}

// UploadRequest describes an image upload.
type UploadRequest struct {
	Data []byte

	// Display selects the new artwork once the TV has stored it.
	Display bool

	// MatteStyle is "none" or a style such as "modern". Empty means "none".
	MatteStyle string
	// MatteColor applies when MatteStyle is not "none". Empty means "neutral".
	MatteColor string
}

// Matte id parts.
const (
	MatteNone         = "none"
	DefaultMatteColor = "neutral"
)

// MatteID builds the TV's matte identifier from a style and colour.
func MatteID(style, color string) string {
	style = strings.ToLower(strings.TrimSpace(style))
	if style == "" || style == MatteNone {
		return MatteNone
	}
	color = strings.ToLower(strings.TrimSpace(color))
	if color == "" {
		color = DefaultMatteColor
	}
	return style + "_" + color
}

// MatteOptions lists the matte styles and colours a user can choose.
type MatteOptions struct {
	Styles []string `json:"styles"`
	Colors []string `json:"colors"`

	// Raw holds the TV's matte ids as reported.
	Raw []string `json:"raw,omitempty"`

	// FromDevice is false when the TV could not answer and the built-in
	// defaults were returned.
	FromDevice bool `json:"from_device"`
}

// DefaultMatteOptions is what the 2022+ Frame firmware offers.
func DefaultMatteOptions() MatteOptions {
	return MatteOptions{
		Styles: []string{MatteNone, "modernthin", "modern", "modernwide", "flexible"},
		Colors: []string{
			"neutral", "antique", "warm", "polar", "sand",
			"seafoam", "sage", "navy", "apricot", "black",
		},
	}
}

// matteOptionsFrom derives styles from "<style>_<colour>" matte ids.
func matteOptionsFrom(m frametv.Mattes) MatteOptions {
	styles := map[string]struct{}{MatteNone: {}}
	for _, id := range m.Types {
		id = strings.TrimSpace(id)
		if id == "" || id == MatteNone {
			continue
		}
		if i := strings.LastIndex(id, "_"); i > 0 {
			id = id[:i]
		}
		styles[id] = struct{}{}
	}

	colors := map[string]struct{}{}
	for _, c := range m.Colors {
		if c = strings.TrimSpace(c); c != "" {
			colors[c] = struct{}{}
		}
	}
	if len(colors) == 0 {
		colors[DefaultMatteColor] = struct{}{}
	}

	return MatteOptions{
		Styles:     sortedWithNoneFirst(styles),
		Colors:     sortedKeys(colors),
		Raw:        append([]string(nil), m.Types...),
		FromDevice: true,
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedWithNoneFirst(set map[string]struct{}) []string {
	out := sortedKeys(set)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i] == MatteNone && out[j] != MatteNone
	})
	return out
}
