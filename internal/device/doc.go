// Package device owns the conversation with the selected Frame TV.
//
// A Connection wraps one TV address. It opens its transport lazily, detects
// the TV's art API version once, and serialises every device-bound call
// through a FIFO request queue of depth one: the TV's art channel cannot
// interleave requests, so neither can we.
//
// The Registry holds the single current Connection. Selecting a different
// TV checks it first and only then persists the choice, retires the old
// Connection and hands the thumbnail cache over to the new address.
//
// Architecture:
//
//	┌──────────────┐   Current()   ┌──────────────┐   Dialer   ┌─────────────┐
//	│   Registry   │──────────────▶│  Connection  │───────────▶│  Transport  │
//	│ (one current)│               │ (FIFO queue) │            │  (frametv)  │
//	└──────┬───────┘               └──────┬───────┘            └─────────────┘
//	       │ Save                         │ Get / Set (write-through)
//	       ▼                              ▼
//	┌──────────────┐               ┌──────────────┐
//	│ SettingsStore│               │ThumbnailCache│
//	└──────────────┘               └──────────────┘
//
// Connection state is a three-state value:
//
//	Unconnected ──dial──▶ VersionPending ──detect──▶ VersionKnown
//	     ▲                      │                         │
//	     └──── failure ─────────┴─────────────────────────┘
//
// A failed call drops the transport. A version that was already detected
// survives the failure, except when the failing call is Status, which
// forgets both.
//
// Thread Safety:
//
// All exported methods are safe for concurrent use. Calls on one Connection
// are served strictly in arrival order.
package device
