package discovery

// Device is one TV found by a scan. Devices are never persisted.
type Device struct {
	Address     string `json:"address"`
	DisplayName string `json:"display_name"`
	ModelName   string `json:"model_name,omitempty"`
}

// SkipReason says why a responder was left out of the result.
type SkipReason string

const (
	// SkipMissingLocation: the reply had no LOCATION header or an unusable URL.
	SkipMissingLocation SkipReason = "missing_location"

	// SkipFetchTimeout: the descriptor fetch did not finish in time.
	SkipFetchTimeout SkipReason = "fetch_timeout"

	// SkipFetchFailure: the descriptor fetch failed or returned a non-200 status.
	SkipFetchFailure SkipReason = "fetch_failure"

	// SkipParseFailure: the reply or the descriptor could not be parsed.
	SkipParseFailure SkipReason = "parse_failure"

	// SkipWrongVendor: the descriptor names a different manufacturer.
	SkipWrongVendor SkipReason = "wrong_vendor"
)

// Skip records one responder that was ignored.
type Skip struct {
	Address  string     `json:"address,omitempty"`
	Location string     `json:"location,omitempty"`
	Reason   SkipReason `json:"reason"`
	Detail   string     `json:"detail,omitempty"`
}

// Report is the full outcome of a scan.
type Report struct {
	Devices []Device `json:"devices"`
	Skipped []Skip   `json:"skipped,omitempty"`
}
