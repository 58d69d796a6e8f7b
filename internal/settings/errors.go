package settings

import "errors"

// ErrCorrupt is returned by Load when the settings file is not valid JSON.
var ErrCorrupt = errors.New("settings: file is corrupt")
