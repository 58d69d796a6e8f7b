// Package settings persists the operator's device selection.
//
// The selection is a single JSON object written by whole-file replacement:
//
//	{
//	  "selected_address": "192.168.1.40",
//	  "selected_display_name": "Living Room",
//	  "manual_entry": false
//	}
//
// Files written by older releases used selected_tv_ip / selected_tv_name;
// Load still reads those keys.
package settings
