package discovery

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/nerrad567/framegate/internal/events"
	"github.com/nerrad567/framegate/internal/infrastructure/config"
)

const (
	// ssdpGroup is the well-known SSDP multicast group and port.
	ssdpGroup = "239.255.255.250:1900"

	// searchMX is the MX header: the maximum seconds a device waits before replying.
	searchMX = 2

	// maxDatagram is large enough for any SSDP reply seen in practice.
	maxDatagram = 2048
)

// ErrSocket is returned when the discovery socket cannot be set up or the
// query cannot be sent. It is the only error a scan returns.
var ErrSocket = errors.New("discovery: socket setup failed")

// Logger defines the logging interface used by the Scanner.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Scanner runs SSDP scans. It is safe for concurrent use.
type Scanner struct {
	cfg    config.DiscoveryConfig
	group  string
	client *http.Client
	listen func() (net.PacketConn, error)
	flight singleflight.Group
	logger Logger
	sink   events.Sink
}

// New creates a Scanner from the discovery section of the configuration.
func New(cfg config.DiscoveryConfig) *Scanner {
	if cfg.MaxConcurrentFetches < 1 {
		cfg.MaxConcurrentFetches = 1
	}
	s := &Scanner{
		cfg:    cfg,
		group:  ssdpGroup,
		client: &http.Client{Timeout: time.Duration(cfg.DescriptorTimeout) * time.Second},
		logger: noopLogger{},
		sink:   events.Discard,
	}
	s.listen = s.listenMulticast
	return s
}

// SetLogger sets the logger for the scanner.
func (s *Scanner) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	s.logger = logger
}

// SetEventSink sets where discovery.completed events are published.
func (s *Scanner) SetEventSink(sink events.Sink) {
	if sink == nil {
		sink = events.Discard
	}
	s.sink = sink
}

// Scan returns the devices found within timeout. A zero timeout uses the
// configured default. An empty result is not an error.
func (s *Scanner) Scan(timeout time.Duration) ([]Device, error) {
	report, err := s.ScanReport(timeout)
	if err != nil {
		return nil, err
	}
	return report.Devices, nil
}

// ScanReport is Scan with the list of skipped responders. Callers arriving
// while a scan is running share its result.
func (s *Scanner) ScanReport(timeout time.Duration) (Report, error) {
	if timeout <= 0 {
		timeout = s.cfg.ScanTimeout()
	}

	v, err, shared := s.flight.Do("scan", func() (any, error) {
		return s.scan(timeout)
	})
	if err != nil {
		return Report{}, err
	}
	if shared {
		s.logger.Debug("joined in-flight discovery scan")
	}

	report := v.(Report)
	return Report{
		Devices: slices.Clone(report.Devices),
		Skipped: slices.Clone(report.Skipped),
	}, nil
}

// candidate collects the descriptor locations one address announced.
// Locations are tried in arrival order until one yields a Device.
type candidate struct {
	address string

	mu        sync.Mutex
	locations []string
	tried     int
	running   bool
	device    *Device
	failures  []Skip
}

// offer records location and reports whether a fetch worker must be
// started for the candidate.
func (c *candidate) offer(location string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device != nil || slices.Contains(c.locations, location) {
		return false
	}
	c.locations = append(c.locations, location)
	if c.running {
		return false
	}
	c.running = true
	return true
}

// next returns the next untried location, or false once the candidate is
// resolved or has nothing left to try. A false result ends the worker.
func (c *candidate) next() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device != nil || c.tried == len(c.locations) {
		c.running = false
		return "", false
	}
	location := c.locations[c.tried]
	c.tried++
	return location, true
}

func (c *candidate) record(location string, dev Device, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		c.device = &dev
		return
	}
	skip := Skip{Address: c.address, Location: location, Reason: SkipFetchFailure, Detail: err.Error()}
	var se *skipError
	if errors.As(err, &se) {
		skip.Reason = se.reason
		skip.Detail = se.err.Error()
	}
	c.failures = append(c.failures, skip)
}

// resolve tries the candidate's locations until one succeeds.
func (s *Scanner) resolve(c *candidate) {
	for {
		location, ok := c.next()
		if !ok {
			return
		}
		dev, err := s.describe(c.address, location)
		c.record(location, dev, err)
	}
}

func (s *Scanner) scan(timeout time.Duration) (Report, error) {
	start := time.Now()

	conn, err := s.listen()
	if err != nil {
		return Report{}, fmt.Errorf("%w: %v", ErrSocket, err)
	}
	defer conn.Close()

	dst, err := net.ResolveUDPAddr("udp4", s.group)
	if err != nil {
		return Report{}, fmt.Errorf("%w: resolving %s: %v", ErrSocket, s.group, err)
	}
	if _, err := conn.WriteTo(s.searchRequest(), dst); err != nil {
		return Report{}, fmt.Errorf("%w: sending M-SEARCH: %v", ErrSocket, err)
	}
	if err := conn.SetReadDeadline(start.Add(timeout)); err != nil {
		return Report{}, fmt.Errorf("%w: setting deadline: %v", ErrSocket, err)
	}

	var (
		report     = Report{Devices: []Device{}}
		candidates []*candidate
		byAddress  = make(map[string]*candidate)
		fetches    errgroup.Group
		buf        = make([]byte, maxDatagram)
	)
	fetches.SetLimit(s.cfg.MaxConcurrentFetches)

	for {
		n, src, err := conn.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			if !errors.As(err, &netErr) || !netErr.Timeout() {
				s.logger.Warn("discovery read ended early", "error", err)
			}
			break
		}

		srcAddr := hostOf(src)
		location, err := parseSearchResponse(buf[:n])
		if err != nil {
			report.Skipped = append(report.Skipped, Skip{Address: srcAddr, Reason: SkipParseFailure, Detail: err.Error()})
			continue
		}

		address, err := addressFor(location, srcAddr)
		if err != nil {
			report.Skipped = append(report.Skipped, Skip{Address: srcAddr, Location: location, Reason: SkipMissingLocation, Detail: err.Error()})
			continue
		}
		c, ok := byAddress[address]
		if !ok {
			c = &candidate{address: address}
			byAddress[address] = c
			candidates = append(candidates, c)
		}
		if c.offer(location) {
			fetches.Go(func() error {
				s.resolve(c)
				return nil
			})
		}
	}
	_ = fetches.Wait() //nolint:errcheck // Workers report through their candidate

	for _, c := range candidates {
		if c.device != nil {
			report.Devices = append(report.Devices, *c.device)
			continue
		}
		for _, skip := range c.failures {
			s.logger.Debug("skipping responder", "address", skip.Address, "reason", skip.Reason, "detail", skip.Detail)
			report.Skipped = append(report.Skipped, skip)
		}
	}

	elapsed := time.Since(start)
	s.logger.Info("discovery complete",
		"devices", len(report.Devices),
		"skipped", len(report.Skipped),
		"duration_ms", elapsed.Milliseconds(),
	)
	s.sink.Publish(context.Background(), events.Event{
		Type:     events.DiscoveryCompleted,
		Duration: elapsed,
		Payload: map[string]any{
			"devices": len(report.Devices),
			"skipped": len(report.Skipped),
		},
	})

	return report, nil
}

// describe fetches one descriptor and turns it into a Device.
func (s *Scanner) describe(address, location string) (Device, error) {
	desc, err := fetchDescriptor(context.Background(), s.client, location)
	if err != nil {
		return Device{}, err
	}
	return desc.toDevice(address, s.cfg.Vendor, s.cfg.DefaultName)
}

func (s *Scanner) searchRequest() []byte {
	return fmt.Appendf(nil,
		"M-SEARCH * HTTP/1.1\r\nHOST: %s\r\nMAN: \"ssdp:discover\"\r\nMX: %d\r\nST: %s\r\n\r\n",
		ssdpGroup, searchMX, s.cfg.SearchTarget,
	)
}

// listenMulticast opens the UDP socket used for one scan.
func (s *Scanner) listenMulticast() (net.PacketConn, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
	if err != nil {
		return nil, err
	}

	p := ipv4.NewPacketConn(conn)
	if s.cfg.MulticastTTL > 0 {
		if err := p.SetMulticastTTL(s.cfg.MulticastTTL); err != nil {
			conn.Close() //nolint:errcheck // Setup already failed
			return nil, fmt.Errorf("setting multicast TTL: %w", err)
		}
	}
	if s.cfg.Interface != "" {
		ifi, err := net.InterfaceByName(s.cfg.Interface)
		if err != nil {
			conn.Close() //nolint:errcheck // Setup already failed
			return nil, fmt.Errorf("finding interface %s: %w", s.cfg.Interface, err)
		}
		if err := p.SetMulticastInterface(ifi); err != nil {
			conn.Close() //nolint:errcheck // Setup already failed
			return nil, fmt.Errorf("setting multicast interface: %w", err)
		}
	}
	return conn, nil
}

// parseSearchResponse reads an SSDP reply and returns its LOCATION header,
// which may be empty.
func parseSearchResponse(datagram []byte) (string, error) {
	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(datagram)), nil)
	if err != nil {
		return "", fmt.Errorf("reading SSDP reply: %w", err)
	}
	resp.Body.Close() //nolint:errcheck // In-memory body
	return resp.Header.Get("Location"), nil
}

// addressFor derives the device address from the descriptor URL, falling
// back to the datagram's source when the URL has no host.
func addressFor(location, srcAddr string) (string, error) {
	if location == "" {
		return "", errors.New("no LOCATION header")
	}
	u, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("parsing LOCATION: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported LOCATION scheme %q", u.Scheme)
	}
	if host := u.Hostname(); host != "" {
		return host, nil
	}
	if srcAddr == "" {
		return "", errors.New("LOCATION has no host")
	}
	return srcAddr, nil
}

func hostOf(addr net.Addr) string {
	if udp, ok := addr.(*net.UDPAddr); ok {
		return udp.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
