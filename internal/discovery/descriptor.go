package discovery

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
)

// maxDescriptorBytes caps how much of a descriptor document is read.
const maxDescriptorBytes = 256 << 10

// upnpDescriptor is the subset of a UPnP device description we use.
// Element names are matched without regard to namespace.
type upnpDescriptor struct {
	Device struct {
		Manufacturer string `xml:"manufacturer"`
		FriendlyName string `xml:"friendlyName"`
		ModelName    string `xml:"modelName"`
	} `xml:"device"`
}

// skipError carries a SkipReason through the fetch pipeline.
type skipError struct {
	reason SkipReason
	err    error
}

func (e *skipError) Error() string {
	return fmt.Sprintf("%s: %v", e.reason, e.err)
}

func (e *skipError) Unwrap() error {
	return e.err
}

func skipf(reason SkipReason, format string, args ...any) *skipError {
	return &skipError{reason: reason, err: fmt.Errorf(format, args...)}
}

// fetchDescriptor GETs and parses the descriptor at location.
func fetchDescriptor(ctx context.Context, client *http.Client, location string) (*upnpDescriptor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, skipf(SkipMissingLocation, "building request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, classifyFetchError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, skipf(SkipFetchFailure, "descriptor returned %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDescriptorBytes))
	if err != nil {
		return nil, classifyFetchError(err)
	}

	return parseDescriptor(body)
}

func parseDescriptor(body []byte) (*upnpDescriptor, error) {
	var d upnpDescriptor
	if err := xml.Unmarshal(body, &d); err != nil {
		return nil, &skipError{reason: SkipParseFailure, err: err}
	}
	return &d, nil
}

func classifyFetchError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &skipError{reason: SkipFetchTimeout, err: err}
	}
	return &skipError{reason: SkipFetchFailure, err: err}
}

// toDevice applies the vendor filter and name fallbacks.
func (d *upnpDescriptor) toDevice(address, vendor, defaultName string) (Device, error) {
	manufacturer := strings.TrimSpace(d.Device.Manufacturer)
	if !strings.Contains(strings.ToLower(manufacturer), strings.ToLower(vendor)) {
		return Device{}, skipf(SkipWrongVendor, "manufacturer %q", manufacturer)
	}

	model := strings.TrimSpace(d.Device.ModelName)
	name := strings.TrimSpace(d.Device.FriendlyName)
	if name == "" {
		name = model
	}
	if name == "" {
		name = defaultName
	}

	return Device{Address: address, DisplayName: name, ModelName: model}, nil
}
