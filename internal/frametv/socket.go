package frametv

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"
)

const (
	// maxHeaderBytes bounds the JSON header of a data frame.
	maxHeaderBytes = 64 << 10

	// maxPayloadBytes bounds one transferred file.
	maxPayloadBytes = 64 << 20
)

// openDataSocket connects to the transfer port the TV announced in info.
// The TV's certificate is self-signed, so it is not verified.
func (c *Client) openDataSocket(ctx context.Context, info connInfo) (net.Conn, error) {
	host := info.IP
	if host == "" {
		host = c.cfg.Host
	}
	addr := net.JoinHostPort(host, strconv.Itoa(int(info.Port)))

	dialer := &net.Dialer{Timeout: c.cfg.ConnectTimeout}
	var (
		conn net.Conn
		err  error
	)
	if info.Secured {
		tlsDialer := &tls.Dialer{
			NetDialer: dialer,
			Config:    &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // TV presents a self-signed certificate
		}
		conn, err = tlsDialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("frametv: opening data socket %s: %w", addr, err)
	}

	if err := conn.SetDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
		conn.Close() //nolint:errcheck // Setup already failed
		return nil, fmt.Errorf("frametv: setting data socket deadline: %w", err)
	}
	return conn, nil
}

// readFrame reads one length-prefixed header and its payload.
func readFrame(r io.Reader) (frameHeader, []byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return frameHeader{}, nil, fmt.Errorf("reading header length: %w", err)
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n == 0 || n > maxHeaderBytes {
		return frameHeader{}, nil, fmt.Errorf("%w: header of %d bytes", ErrFrameTooLarge, n)
	}

	raw := make([]byte, n)
	if _, err := io.ReadFull(r, raw); err != nil {
		return frameHeader{}, nil, fmt.Errorf("reading header: %w", err)
	}
	var hdr frameHeader
	if err := json.Unmarshal(raw, &hdr); err != nil {
		return frameHeader{}, nil, fmt.Errorf("decoding header: %w", err)
	}
	if hdr.FileLength < 0 || hdr.FileLength > maxPayloadBytes {
		return frameHeader{}, nil, fmt.Errorf("%w: payload of %d bytes", ErrFrameTooLarge, hdr.FileLength)
	}

	data := make([]byte, int(hdr.FileLength))
	if _, err := io.ReadFull(r, data); err != nil {
		return frameHeader{}, nil, fmt.Errorf("reading payload: %w", err)
	}
	return hdr, data, nil
}

// writeFrame writes a length-prefixed JSON header followed by payload.
func writeFrame(w io.Writer, header any, payload []byte) error {
	raw, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("encoding header: %w", err)
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(raw))) //nolint:gosec // Header is a small fixed struct
	for _, chunk := range [][]byte{prefix[:], raw, payload} {
		if _, err := w.Write(chunk); err != nil {
			return err
		}
	}
	return nil
}
