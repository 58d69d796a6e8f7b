package frametv

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Artwork is one item stored on the TV.
type Artwork struct {
	ContentID       string `json:"content_id"`
	CategoryID      string `json:"category_id,omitempty"`
	Width           int    `json:"width,omitempty"`
	Height          int    `json:"height,omitempty"`
	FileType        string `json:"file_type,omitempty"`
	ImageDate       string `json:"image_date,omitempty"`
	MatteID         string `json:"matte_id,omitempty"`
	PortraitMatteID string `json:"portrait_matte_id,omitempty"`
}

// UnmarshalJSON accepts width and height as numbers or strings.
func (a *Artwork) UnmarshalJSON(b []byte) error {
	type plain Artwork
	aux := struct {
		*plain
		Width  flexInt `json:"width"`
		Height flexInt `json:"height"`
	}{plain: (*plain)(a)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	a.Width, a.Height = int(aux.Width), int(aux.Height)
	return nil
}

// Mattes lists the matte types and colours the TV offers. Matte types are
// "none" or "<style>_<colour>".
type Mattes struct {
	Types  []string
	Colors []string
}

// UploadOptions controls how an uploaded image is stored.
type UploadOptions struct {
	// FileType is "jpg" or "png". Empty means detect from the data.
	FileType string

	// Matte is the landscape matte id; PortraitMatte defaults to Matte.
	Matte         string
	PortraitMatte string
}

// connInfo describes the data socket the TV opened for a transfer.
type connInfo struct {
	IP      string   `json:"ip"`
	Port    flexInt  `json:"port"`
	Key     string   `json:"key"`
	Secured flexBool `json:"secured"`
}

// frameHeader is the JSON header of one data-socket frame.
type frameHeader struct {
	Num        flexInt `json:"num"`
	Total      flexInt `json:"total"`
	FileLength flexInt `json:"fileLength"`
	FileID     string  `json:"fileID"`
	FileType   string  `json:"fileType"`
}

// uploadHeader is the header the client sends before image bytes.
type uploadHeader struct {
	Num        int    `json:"num"`
	Total      int    `json:"total"`
	FileLength int    `json:"fileLength"`
	FileName   string `json:"fileName"`
	FileType   string `json:"fileType"`
	SecKey     string `json:"secKey"`
	Version    string `json:"version"`
}

// flexInt accepts a JSON number or a numeric string; firmware differs.
type flexInt int

func (n *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return err
		}
		v = int(f)
	}
	*n = flexInt(v)
	return nil
}

// flexBool accepts true/false as JSON booleans or strings.
type flexBool bool

func (v *flexBool) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	*v = flexBool(strings.EqualFold(s, "true"))
	return nil
}

// decodeEmbedded decodes a field that may be either a JSON value or a
// string containing JSON.
func decodeEmbedded(raw json.RawMessage, v any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		raw = []byte(s)
	}
	return json.Unmarshal(raw, v)
}
