// Package thumbcache stores device-rendered artwork thumbnails in SQLite.
//
// Entries map a device content identifier to the thumbnail bytes the device
// returned for it. There is no TTL: the device renders a thumbnail once and
// never changes it, so an entry only goes stale when the artwork is deleted
// (Invalidate) or when a different device is selected (Clear, EnsureOwner).
// Content identifiers are only unique per device, which is why the cache
// records its owning device address.
//
// Concurrent reads and concurrent writes of distinct keys are safe. Writes of
// an existing key are ignored, which is correct because a content id always
// maps to the same bytes on a given device.
package thumbcache
