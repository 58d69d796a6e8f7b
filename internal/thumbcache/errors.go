package thumbcache

import "errors"

var (
	// ErrEmptyContentID is returned when a content id is blank.
	ErrEmptyContentID = errors.New("thumbcache: content id is required")

	// ErrEmptyThumbnail is returned by Set for zero-length data.
	ErrEmptyThumbnail = errors.New("thumbcache: thumbnail data is empty")
)
