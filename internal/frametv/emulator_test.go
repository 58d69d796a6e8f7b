package frametv

import (
	"crypto/tls"
	"encoding/binary"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// tvEmulator is an in-process stand-in for a Frame TV's art channel.
type tvEmulator struct {
	t   *testing.T
	srv *httptest.Server
	tls *tls.Config

	mu           sync.Mutex
	version      string
	legacyOnly   bool // rejects get_api_version like old firmware
	unauthorized bool
	frameSupport string
	artwork      []Artwork
	current      string
	thumbnails   map[string][]byte
	uploads      [][]byte
	uploadHeader map[string]any
	requests     []string
	nextID       int
}

func newEmulator(t *testing.T) *tvEmulator {
	t.Helper()

	e := &tvEmulator{
		t:            t,
		version:      "4.3.4.0",
		frameSupport: "true",
		thumbnails:   map[string][]byte{},
		nextID:       100,
	}

	tlsSrv := httptest.NewTLSServer(http.NotFoundHandler())
	e.tls = tlsSrv.TLS.Clone()
	e.tls.NextProtos = nil
	tlsSrv.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/", e.handleInfo)
	mux.HandleFunc(artChannelPath, e.handleChannel)
	e.srv = httptest.NewServer(mux)
	t.Cleanup(e.srv.Close)
	return e
}

func (e *tvEmulator) config() Config {
	u, err := url.Parse(e.srv.URL)
	if err != nil {
		e.t.Fatalf("parse emulator URL: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		e.t.Fatalf("parse emulator port: %v", err)
	}
	return Config{
		Host:           u.Hostname(),
		Port:           port,
		Name:           "FrameGate Test",
		ConnectTimeout: 2 * time.Second,
		ReadTimeout:    2 * time.Second,
	}
}

func (e *tvEmulator) seen() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.requests...)
}

func (e *tvEmulator) handleInfo(w http.ResponseWriter, _ *http.Request) {
	e.mu.Lock()
	support := e.frameSupport
	e.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck // Test server
		"device": map[string]any{"FrameTVSupport": support, "name": "Emulated Frame"},
	})
}

// wsWriter serialises writes to the channel from the request loop and the
// transfer goroutines.
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) write(v any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn.WriteJSON(v) //nolint:errcheck // Client may have gone away
}

func (w *wsWriter) reply(inner map[string]any) {
	b, _ := json.Marshal(inner) //nolint:errcheck // Test payloads always encode
	w.write(map[string]any{"event": eventD2DMessage, "data": string(b)})
}

func (e *tvEmulator) handleChannel(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("name") == "" {
		http.Error(w, "missing name", http.StatusBadRequest)
		return
	}
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	ws := &wsWriter{conn: conn}

	e.mu.Lock()
	unauthorized := e.unauthorized
	e.mu.Unlock()
	if unauthorized {
		ws.write(map[string]any{"event": eventChannelUnauthorized})
		return
	}
	ws.write(map[string]any{"event": eventChannelConnect, "data": map[string]any{"id": "emulator"}})
	ws.write(map[string]any{"event": "ms.channel.ready"})

	for {
		var env struct {
			Method string `json:"method"`
			Params struct {
				Event string `json:"event"`
				To    string `json:"to"`
				Data  string `json:"data"`
			} `json:"params"`
		}
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		if env.Method != "ms.channel.emit" || env.Params.Event != "art_app_request" || env.Params.To != "host" {
			e.t.Errorf("unexpected envelope %+v", env)
			continue
		}
		var req map[string]any
		if err := json.Unmarshal([]byte(env.Params.Data), &req); err != nil {
			e.t.Errorf("request data is not JSON: %v", err)
			continue
		}
		e.handleRequest(ws, req)
	}
}

func (e *tvEmulator) handleRequest(ws *wsWriter, req map[string]any) {
	name, _ := req["request"].(string)
	id, _ := req["request_id"].(string)

	e.mu.Lock()
	e.requests = append(e.requests, name)
	e.mu.Unlock()

	// Noise from another client's request must be ignored.
	ws.reply(map[string]any{"event": "go_to_standby", "request_id": "someone-else"})

	switch name {
	case "get_api_version":
		e.mu.Lock()
		legacy, version := e.legacyOnly, e.version
		e.mu.Unlock()
		if legacy {
			ws.reply(map[string]any{"event": "error", "request_id": id, "error_code": "-7"})
			return
		}
		ws.reply(map[string]any{"event": "get_api_version", "request_id": id, "version": version})

	case "api_version":
		e.mu.Lock()
		version := e.version
		e.mu.Unlock()
		ws.reply(map[string]any{"event": "api_version", "request_id": id, "version": version})

	case "get_content_list":
		e.mu.Lock()
		list, _ := json.Marshal(e.artwork) //nolint:errcheck // Test payloads always encode
		e.mu.Unlock()
		ws.reply(map[string]any{"event": "content_list", "request_id": id, "content_list": string(list)})

	case "get_current_artwork":
		e.mu.Lock()
		current := e.current
		e.mu.Unlock()
		ws.reply(map[string]any{"event": "current_artwork", "request_id": id, "content_id": current, "matte_id": "none", "width": "1920"})

	case "select_image":
		e.mu.Lock()
		e.current, _ = req["content_id"].(string)
		e.mu.Unlock()

	case "delete_image_list":
		e.handleDelete(ws, id, req)

	case "get_matte_list":
		types, _ := json.Marshal([]map[string]string{{"matte_type": "none"}, {"matte_type": "modern_apricot"}, {"matte_type": "shadowbox_polar"}})
		colors, _ := json.Marshal([]map[string]string{{"color": "apricot"}, {"color": "polar"}})
		ws.reply(map[string]any{"event": "matte_list", "request_id": id, "matte_type_list": string(types), "matte_color_list": string(colors)})

	case "get_thumbnail":
		contentID, _ := req["content_id"].(string)
		e.serveThumbnails(ws, id, []string{contentID}, false)

	case "get_thumbnail_list":
		var ids []string
		list, _ := req["content_id_list"].([]any)
		for _, item := range list {
			m, _ := item.(map[string]any)
			cid, _ := m["content_id"].(string)
			ids = append(ids, cid)
		}
		e.serveThumbnails(ws, id, ids, true)

	case "send_image":
		e.handleUpload(ws, id)

	default:
		ws.reply(map[string]any{"event": "error", "request_id": id, "error_code": "-1"})
	}
}

func (e *tvEmulator) handleDelete(ws *wsWriter, id string, req map[string]any) {
	list, _ := req["content_id_list"].([]any)

	if !e.removeArtwork(list) {
		ws.reply(map[string]any{"event": "error", "request_id": id, "error_code": "-1"})
		return
	}
	ws.reply(map[string]any{"event": "image_deleted", "request_id": id})
}

// removeArtwork deletes every listed id, reporting false if any was unknown.
func (e *tvEmulator) removeArtwork(list []any) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, item := range list {
		m, _ := item.(map[string]any)
		cid, _ := m["content_id"].(string)
		found := false
		kept := e.artwork[:0]
		for _, a := range e.artwork {
			if a.ContentID == cid {
				found = true
				continue
			}
			kept = append(kept, a)
		}
		e.artwork = kept
		if !found {
			return false
		}
	}
	return true
}

func (e *tvEmulator) listen(secured bool) net.Listener {
	var (
		ln  net.Listener
		err error
	)
	if secured {
		ln, err = tls.Listen("tcp", "127.0.0.1:0", e.tls)
	} else {
		ln, err = net.Listen("tcp", "127.0.0.1:0")
	}
	if err != nil {
		e.t.Errorf("listen: %v", err)
		return nil
	}
	return ln
}

func connInfoFor(ln net.Listener, secured bool, key string) string {
	port := ln.Addr().(*net.TCPAddr).Port
	b, _ := json.Marshal(map[string]any{ //nolint:errcheck // Static shape
		"ip":      "127.0.0.1",
		"port":    strconv.Itoa(port),
		"key":     key,
		"secured": secured,
	})
	return string(b)
}

func (e *tvEmulator) serveThumbnails(ws *wsWriter, id string, ids []string, secured bool) {
	e.mu.Lock()
	var missing bool
	payloads := make([][]byte, len(ids))
	for i, cid := range ids {
		data, ok := e.thumbnails[cid]
		if !ok {
			missing = true
		}
		payloads[i] = data
	}
	e.mu.Unlock()

	if missing {
		ws.reply(map[string]any{"event": "error", "request_id": id, "error_code": "-10"})
		return
	}

	ln := e.listen(secured)
	if ln == nil {
		return
	}
	event := "thumbnail"
	if secured {
		event = "thumbnail_list"
	}
	ws.reply(map[string]any{"event": event, "request_id": id, "conn_info": connInfoFor(ln, secured, "")})

	go func() {
		defer ln.Close()
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		for i, cid := range ids {
			hdr := map[string]any{
				"num":        i,
				"total":      len(ids),
				"fileLength": len(payloads[i]),
				"fileID":     cid,
				"fileType":   "jpg",
			}
			if err := writeFrame(conn, hdr, payloads[i]); err != nil {
				return
			}
		}
	}()
}

func (e *tvEmulator) handleUpload(ws *wsWriter, id string) {
	ln := e.listen(false)
	if ln == nil {
		return
	}
	ws.reply(map[string]any{"event": "ready_to_use", "request_id": id, "conn_info": connInfoFor(ln, false, "sec-key-1")})

	go func() {
		defer ln.Close()
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		var prefix [4]byte
		if _, err := io.ReadFull(conn, prefix[:]); err != nil {
			return
		}
		raw := make([]byte, binary.BigEndian.Uint32(prefix[:]))
		if _, err := io.ReadFull(conn, raw); err != nil {
			return
		}
		var hdr map[string]any
		if err := json.Unmarshal(raw, &hdr); err != nil {
			return
		}
		length, _ := hdr["fileLength"].(float64)
		data := make([]byte, int(length))
		if _, err := io.ReadFull(conn, data); err != nil {
			return
		}

		e.mu.Lock()
		e.nextID++
		contentID := "MY_F" + strconv.Itoa(e.nextID)
		e.uploads = append(e.uploads, data)
		e.uploadHeader = hdr
		e.artwork = append(e.artwork, Artwork{ContentID: contentID, CategoryID: "MY-C0002"})
		e.mu.Unlock()

		ws.reply(map[string]any{"event": "image_added", "request_id": id, "content_id": contentID})
	}()
}
