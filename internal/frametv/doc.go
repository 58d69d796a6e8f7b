// Package frametv is a client for the Samsung Frame TV art-mode channel.
//
// The TV exposes a WebSocket endpoint on port 8001. Art-mode requests are
// wrapped in an ms.channel.emit envelope whose data field is itself a JSON
// string; replies come back as d2d_service_message events, again with a
// JSON string payload. Binary transfers (thumbnails and uploads) do not use
// the WebSocket. The TV opens a short-lived TCP port, optionally TLS, and
// exchanges length-prefixed frames:
//
//	+----------------+----------------------+-------------+
//	| header length  | JSON header          | payload     |
//	| 4 bytes, BE    | fileLength, num, ... | fileLength  |
//	+----------------+----------------------+-------------+
//
// Firmware with art API version 4 and later only serves thumbnails through
// the batch request over TLS; older firmware serves one thumbnail per
// request over plain TCP. Callers choose with APIVersion.
//
// A Client is safe for concurrent use but the TV is not: requests are
// serialised internally, one outstanding request at a time.
package frametv
