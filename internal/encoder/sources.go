package encoder

import "strings"

// CaptureSource is one capturable screen or window. The ID carries enough
// information for the grab input to target it directly: "desktop" for the
// primary screen, "title=<t>" for windows on gdigrab platforms, and
// "region=X,Y,WxH" for X11 secondary screens and windows, which are only
// addressable by geometry.
type CaptureSource struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Type   string `json:"sourceType"` // "screen" or "window"
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

const (
	minWindowWidth  = 200
	minWindowHeight = 150
	maxWindows      = 20
	maxSourceName   = 45
)

// skipTitles are known system windows excluded from enumeration.
var skipTitles = []string{
	"Program Manager",
	"Windows Input Experience",
	"Microsoft Text Input",
	"NVIDIA GeForce Overlay",
	"AMD Software",
	"Settings",
	"Task View",
	"Search",
	"Desktop",
	"Plasma",
	"plasmashell",
}

func isSystemWindow(title string) bool {
	for _, s := range skipTitles {
		if title == s || strings.HasPrefix(title, s) {
			return true
		}
	}
	return false
}

func truncateName(title string) string {
	if len(title) > maxSourceName {
		return title[:maxSourceName-3] + "..."
	}
	return title
}

// fallbackSources is what enumeration degrades to when the platform API
// fails: the full desktop is always capturable.
func fallbackSources() []CaptureSource {
	return []CaptureSource{{
		ID:   "desktop",
		Name: "Desktop (Full Screen)",
		Type: "screen",
	}}
}
