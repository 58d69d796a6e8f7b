// Package webui serves the FrameGate gallery frontend.
//
// The built assets are embedded into the binary with go:embed. Handler
// serves them with SPA fallback routing: a path that does not name a file
// gets index.html, so client-side routes survive a reload.
//
// Setting api.static_dir serves a directory from disk instead, which is
// handy while working on the frontend.
package webui
