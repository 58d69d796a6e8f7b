package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/framegate/internal/device"
)

// maxMultipartMemory is how much of a multipart upload is held in memory
// before spilling to temporary files.
const maxMultipartMemory = 32 << 20

// StatusResponse is the body of GET /tv/status.
type StatusResponse struct {
	Configured  bool   `json:"configured"`
	DisplayName string `json:"display_name,omitempty"`
	device.Status
}

// SelectionResponse is the body of GET and PUT /tv/selection.
type SelectionResponse struct {
	Configured  bool   `json:"configured"`
	Address     string `json:"address,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	ManualEntry bool   `json:"manual_entry"`
}

// ConfigureRequest is the body of PUT /tv/selection.
type ConfigureRequest struct {
	Address     string `json:"address"`
	DisplayName string `json:"display_name"`
	ManualEntry bool   `json:"manual_entry"`
}

// UploadResponse is the body of a successful POST /tv/artwork.
type UploadResponse struct {
	ContentID    string `json:"content_id"`
	Displayed    bool   `json:"displayed"`
	DisplayError string `json:"display_error,omitempty"`
}

// connection returns the selected TV's Connection or writes a 409.
func (s *Server) connection(w http.ResponseWriter, r *http.Request) (*device.Connection, bool) {
	conn := s.registry.Current()
	if conn == nil {
		s.writeDeviceError(w, r, device.ErrNotConfigured)
		return nil, false
	}
	return conn, true
}

// handleStatus reports the selected TV. It always answers 200.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	conn := s.registry.Current()
	if conn == nil {
		writeJSON(w, http.StatusOK, StatusResponse{})
		return
	}

	resp := StatusResponse{Configured: true, Status: conn.Status(r.Context())}
	if sel, err := s.registry.Selection(); err == nil && sel.AddressOrEmpty() == conn.Address() {
		resp.DisplayName = sel.DisplayNameOrEmpty()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleDiscover scans for TVs. ?timeout is in seconds.
func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	var timeout time.Duration
	if v := r.URL.Query().Get("timeout"); v != "" {
		secs, err := strconv.ParseFloat(v, 64)
		if err != nil || secs <= 0 {
			writeBadRequest(w, "timeout must be a positive number of seconds")
			return
		}
		timeout = min(time.Duration(secs*float64(time.Second)), maxDiscoveryTimeout)
	}

	report, err := s.scanner.ScanReport(timeout)
	if err != nil {
		s.writeDeviceError(w, r, fmt.Errorf("discovery: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleGetSelection returns the persisted selection.
func (s *Server) handleGetSelection(w http.ResponseWriter, r *http.Request) {
	sel, err := s.registry.Selection()
	if err != nil {
		s.writeDeviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SelectionResponse{
		Configured:  sel.Configured(),
		Address:     sel.AddressOrEmpty(),
		DisplayName: sel.DisplayNameOrEmpty(),
		ManualEntry: sel.ManualEntry,
	})
}

// handleConfigure selects a TV. The TV must answer a status check first.
func (s *Server) handleConfigure(w http.ResponseWriter, r *http.Request) {
	var req ConfigureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Address == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "address is required")
		return
	}

	if _, err := s.registry.Configure(r.Context(), req.Address, req.DisplayName, req.ManualEntry); err != nil {
		s.writeDeviceError(w, r, err)
		return
	}
	s.handleGetSelection(w, r)
}

// handleListArtwork lists the artwork stored on the TV.
func (s *Server) handleListArtwork(w http.ResponseWriter, r *http.Request) {
	conn, ok := s.connection(w, r)
	if !ok {
		return
	}
	items, err := conn.ListArtwork(r.Context())
	if err != nil {
		s.writeDeviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// handleCurrentArtwork returns the artwork on screen.
func (s *Server) handleCurrentArtwork(w http.ResponseWriter, r *http.Request) {
	conn, ok := s.connection(w, r)
	if !ok {
		return
	}
	item, err := conn.CurrentArtwork(r.Context())
	if err != nil {
		s.writeDeviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// handleUploadArtwork stores an image on the TV. The image is either the
// multipart field "file" or the raw body; display, matte_style and
// matte_color come from the form or the query string.
func (s *Server) handleUploadArtwork(w http.ResponseWriter, r *http.Request) {
	conn, ok := s.connection(w, r)
	if !ok {
		return
	}

	data, err := readUpload(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodeTooLarge,
				fmt.Sprintf("upload exceeds %d MB", s.cfg.MaxUploadMB))
			return
		}
		writeBadRequest(w, err.Error())
		return
	}

	display := false
	if v := r.FormValue("display"); v != "" {
		if display, err = strconv.ParseBool(v); err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, "display must be true or false")
			return
		}
	}

	id, err := conn.UploadArtwork(r.Context(), device.UploadRequest{
		Data:       data,
		Display:    display,
		MatteStyle: r.FormValue("matte_style"),
		MatteColor: r.FormValue("matte_color"),
	})
	if id == "" {
		s.writeDeviceError(w, r, err)
		return
	}

	resp := UploadResponse{ContentID: id, Displayed: display && err == nil}
	if err != nil {
		resp.DisplayError = err.Error()
	}
	writeJSON(w, http.StatusCreated, resp)
}

// readUpload returns the image bytes of an upload request.
func readUpload(r *http.Request) ([]byte, error) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		if !errors.Is(err, http.ErrNotMultipart) {
			return nil, err
		}
		return io.ReadAll(r.Body)
	}

	f, _, err := r.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("multipart upload needs a file field: %w", err)
	}
	defer f.Close()
	return io.ReadAll(f)
}

// handleSelectArtwork shows an artwork.
func (s *Server) handleSelectArtwork(w http.ResponseWriter, r *http.Request) {
	conn, ok := s.connection(w, r)
	if !ok {
		return
	}
	if err := conn.SelectArtwork(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeDeviceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteArtwork removes an artwork from the TV.
func (s *Server) handleDeleteArtwork(w http.ResponseWriter, r *http.Request) {
	conn, ok := s.connection(w, r)
	if !ok {
		return
	}
	if err := conn.DeleteArtwork(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeDeviceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleThumbnail returns an artwork's thumbnail image.
func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	conn, ok := s.connection(w, r)
	if !ok {
		return
	}
	data, err := conn.GetThumbnail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDeviceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "private, max-age=86400")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // Best-effort write; client may have gone away
	w.Write(data)
}

// handleMattes lists matte styles and colours. It falls back to the
// built-in list when no TV is selected.
func (s *Server) handleMattes(w http.ResponseWriter, r *http.Request) {
	conn := s.registry.Current()
	if conn == nil {
		writeJSON(w, http.StatusOK, device.DefaultMatteOptions())
		return
	}
	writeJSON(w, http.StatusOK, conn.MatteOptions(r.Context()))
}

// handleCleanupThumbnails drops cached thumbnails for artwork no longer on the TV.
func (s *Server) handleCleanupThumbnails(w http.ResponseWriter, r *http.Request) {
	conn, ok := s.connection(w, r)
	if !ok {
		return
	}
	removed, err := conn.CleanupThumbnails(r.Context())
	if err != nil {
		s.writeDeviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// handleThumbnailStats reports how much the thumbnail cache holds.
func (s *Server) handleThumbnailStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.thumbnails.Stats(r.Context())
	if err != nil {
		s.writeDeviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleClearThumbnails empties the thumbnail cache.
func (s *Server) handleClearThumbnails(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.ClearThumbnails(r.Context()); err != nil {
		s.writeDeviceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
