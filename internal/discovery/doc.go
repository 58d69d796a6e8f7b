// Package discovery finds Frame TVs on the local network with SSDP.
//
// A scan sends one M-SEARCH query to the SSDP multicast group, collects
// unicast replies until the scan window closes, then fetches each
// responder's UPnP device descriptor and keeps the ones whose manufacturer
// matches the configured vendor. Replies are deduplicated by address with
// the first reply winning.
//
// A responder that cannot be fetched or parsed never fails the scan. It is
// recorded in the Report with a SkipReason instead. Only failure to set up
// the socket or send the query is returned as an error.
//
// Scans are bounded by their timeout and cannot be cancelled. Concurrent
// callers share the scan already in flight.
package discovery
