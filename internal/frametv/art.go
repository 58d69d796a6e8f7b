package frametv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// imageDateLayout is the timestamp format the TV expects on upload.
const imageDateLayout = "2006:01:02 15:04:05"

// APIVersion returns the art API version string, for example "2.03" or
// "4.3.4.0". Older firmware only answers the api_version request.
func (c *Client) APIVersion(_ context.Context) (string, error) {
	msg, err := c.call("get_api_version", nil, "")
	if err != nil {
		if !errors.Is(err, ErrRejected) {
			return "", err
		}
		msg, err = c.call("api_version", nil, "")
		if err != nil {
			return "", err
		}
	}

	version := msg.str("version")
	if version == "" {
		return "", unexpected("get_api_version", "no version field")
	}
	return version, nil
}

// ArtModeSupported asks the TV's REST endpoint whether it is a Frame model.
func (c *Client) ArtModeSupported(ctx context.Context) (bool, error) {
	if c.closed.Load() {
		return false, ErrClosed
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+c.cfg.hostPort()+"/api/v2/", nil)
	if err != nil {
		return false, fmt.Errorf("frametv: building device info request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("frametv: fetching device info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("frametv: device info returned %s", resp.Status)
	}

	var info struct {
		Device struct {
			FrameTVSupport flexBool `json:"FrameTVSupport"`
		} `json:"device"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return false, fmt.Errorf("frametv: decoding device info: %w", err)
	}
	return bool(info.Device.FrameTVSupport), nil
}

// ListArtwork returns the artwork stored in category. An empty category
// returns everything.
func (c *Client) ListArtwork(_ context.Context, category string) ([]Artwork, error) {
	params := map[string]any{}
	if category != "" {
		params["category"] = category
	}
	msg, err := c.call("get_content_list", params, "")
	if err != nil {
		return nil, err
	}

	raw, ok := msg["content_list"]
	if !ok {
		return nil, unexpected("get_content_list", "no content_list field")
	}
	var items []Artwork
	if err := decodeEmbedded(raw, &items); err != nil {
		return nil, unexpected("get_content_list", "decoding content_list: %v", err)
	}

	if category == "" {
		return items, nil
	}
	filtered := items[:0]
	for _, item := range items {
		if item.CategoryID == "" || item.CategoryID == category {
			filtered = append(filtered, item)
		}
	}
	return filtered, nil
}

// CurrentArtwork returns the artwork currently shown in art mode.
func (c *Client) CurrentArtwork(_ context.Context) (Artwork, error) {
	msg, err := c.call("get_current_artwork", nil, "")
	if err != nil {
		return Artwork{}, err
	}

	delete(msg, "event")
	delete(msg, "request_id")
	delete(msg, "id")
	b, err := json.Marshal(msg)
	if err != nil {
		return Artwork{}, unexpected("get_current_artwork", "%v", err)
	}
	var art Artwork
	if err := json.Unmarshal(b, &art); err != nil {
		return Artwork{}, unexpected("get_current_artwork", "%v", err)
	}
	return art, nil
}

// SelectArtwork switches the displayed artwork. When show is true the TV
// also enters art mode. The TV does not acknowledge this request.
func (c *Client) SelectArtwork(_ context.Context, contentID string, show bool) error {
	return c.notify("select_image", map[string]any{
		"category_id": nil,
		"content_id":  contentID,
		"show":        show,
	})
}

// DeleteArtwork removes artwork from the TV.
func (c *Client) DeleteArtwork(_ context.Context, contentIDs ...string) error {
	if len(contentIDs) == 0 {
		return nil
	}
	list := make([]map[string]string, len(contentIDs))
	for i, id := range contentIDs {
		list[i] = map[string]string{"content_id": id}
	}
	_, err := c.call("delete_image_list", map[string]any{"content_id_list": list}, "image_deleted")
	return err
}

// MatteList returns the available matte types and colours.
func (c *Client) MatteList(_ context.Context) (Mattes, error) {
	msg, err := c.call("get_matte_list", nil, "")
	if err != nil {
		return Mattes{}, err
	}

	var m Mattes
	if m.Types, err = flattenList(msg["matte_type_list"]); err != nil {
		return Mattes{}, unexpected("get_matte_list", "matte_type_list: %v", err)
	}
	if raw, ok := msg["matte_color_list"]; ok {
		if m.Colors, err = flattenList(raw); err != nil {
			return Mattes{}, unexpected("get_matte_list", "matte_color_list: %v", err)
		}
	}
	return m, nil
}

// flattenList turns [{"matte_type":"none"}, ...] into ["none", ...].
func flattenList(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var entries []map[string]string
	if err := decodeEmbedded(raw, &entries); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		for _, v := range e {
			out = append(out, v)
		}
	}
	return out, nil
}

// Thumbnail fetches one thumbnail with the single-item request used by
// firmware before art API 4. The bytes arrive on a plain TCP socket.
func (c *Client) Thumbnail(ctx context.Context, contentID string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, err := c.send("get_thumbnail", map[string]any{
		"content_id": contentID,
		"conn_info":  newConnInfoRequest(),
	})
	if err != nil {
		return nil, err
	}
	msg, err := c.await("get_thumbnail", id, "")
	if err != nil {
		return nil, err
	}

	info, err := parseConnInfo("get_thumbnail", msg)
	if err != nil {
		return nil, err
	}
	info.Secured = false

	sock, err := c.openDataSocket(ctx, info)
	if err != nil {
		return nil, err
	}
	defer sock.Close()

	_, data, err := readFrame(sock)
	if err != nil {
		return nil, fmt.Errorf("frametv: reading thumbnail %s: %w", contentID, err)
	}
	return data, nil
}

// ThumbnailBatch fetches thumbnails with the batch request used by art API
// 4 and later. The result is keyed by the file id the TV reports, which is
// the content id.
func (c *Client) ThumbnailBatch(ctx context.Context, contentIDs ...string) (map[string][]byte, error) {
	if len(contentIDs) == 0 {
		return map[string][]byte{}, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	list := make([]map[string]string, len(contentIDs))
	for i, id := range contentIDs {
		list[i] = map[string]string{"content_id": id}
	}
	id, err := c.send("get_thumbnail_list", map[string]any{
		"content_id_list": list,
		"conn_info":       newConnInfoRequest(),
	})
	if err != nil {
		return nil, err
	}
	msg, err := c.await("get_thumbnail_list", id, "")
	if err != nil {
		return nil, err
	}

	info, err := parseConnInfo("get_thumbnail_list", msg)
	if err != nil {
		return nil, err
	}

	sock, err := c.openDataSocket(ctx, info)
	if err != nil {
		return nil, err
	}
	defer sock.Close()

	out := make(map[string][]byte, len(contentIDs))
	for {
		hdr, data, err := readFrame(sock)
		if err != nil {
			return nil, fmt.Errorf("frametv: reading thumbnail batch: %w", err)
		}
		key := hdr.FileID
		if key == "" && len(contentIDs) == 1 {
			key = contentIDs[0]
		}
		out[key] = data
		if int(hdr.Num)+1 >= int(hdr.Total) {
			return out, nil
		}
	}
}

// UploadArtwork stores an image on the TV and returns its new content id.
func (c *Client) UploadArtwork(ctx context.Context, data []byte, opts UploadOptions) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("frametv: upload data is empty")
	}
	fileType := opts.FileType
	if fileType == "" {
		fileType = DetectFileType(data)
	}
	matte := opts.Matte
	if matte == "" {
		matte = "none"
	}
	portrait := opts.PortraitMatte
	if portrait == "" {
		portrait = matte
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	id, err := c.send("send_image", map[string]any{
		"file_type":         fileType,
		"conn_info":         newConnInfoRequest(),
		"image_date":        time.Now().Format(imageDateLayout),
		"matte_id":          matte,
		"portrait_matte_id": portrait,
		"file_size":         len(data),
	})
	if err != nil {
		return "", err
	}
	msg, err := c.await("send_image", id, "ready_to_use")
	if err != nil {
		return "", err
	}

	info, err := parseConnInfo("send_image", msg)
	if err != nil {
		return "", err
	}

	sock, err := c.openDataSocket(ctx, info)
	if err != nil {
		return "", err
	}
	hdr := uploadHeader{
		Num:        0,
		Total:      1,
		FileLength: len(data),
		FileName:   "dummy",
		FileType:   fileType,
		SecKey:     info.Key,
		Version:    "0.0.1",
	}
	werr := writeFrame(sock, hdr, data)
	sock.Close() //nolint:errcheck // Transfer result is reported by image_added
	if werr != nil {
		return "", fmt.Errorf("frametv: sending image data: %w", werr)
	}

	added, err := c.await("send_image", id, "image_added")
	if err != nil {
		return "", err
	}
	contentID := added.str("content_id")
	if contentID == "" {
		return "", unexpected("send_image", "image_added without content_id")
	}
	return contentID, nil
}

// DetectFileType returns "png" for PNG data and "jpg" otherwise.
func DetectFileType(data []byte) string {
	if strings.HasSuffix(http.DetectContentType(data), "png") {
		return "png"
	}
	return "jpg"
}

func newConnInfoRequest() string {
	b, _ := json.Marshal(map[string]any{ //nolint:errcheck // Static shape always encodes
		"d2d_mode":      "socket",
		"connection_id": rand.Uint32(),
		"id":            uuid.NewString(),
	})
	return string(b)
}

func parseConnInfo(request string, msg artMessage) (connInfo, error) {
	raw, ok := msg["conn_info"]
	if !ok {
		return connInfo{}, unexpected(request, "no conn_info field")
	}
	var info connInfo
	if err := decodeEmbedded(raw, &info); err != nil {
		return connInfo{}, unexpected(request, "decoding conn_info: %v", err)
	}
	if info.Port <= 0 {
		return connInfo{}, unexpected(request, "conn_info without port")
	}
	return info, nil
}
