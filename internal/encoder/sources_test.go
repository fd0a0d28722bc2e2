package encoder

import (
	"fmt"
	"strings"
	"testing"
)

func TestParseMonitors(t *testing.T) {
	out := `Monitors: 2
 0: +*eDP-1 1920/344x1080/194+0+0  eDP-1
 1: +HDMI-1 2560/598x1440/336+1920+0  HDMI-1
`
	sources := parseMonitors(out)
	if len(sources) != 2 {
		t.Fatalf("got %d sources, want 2: %+v", len(sources), sources)
	}

	primary := sources[0]
	if primary.ID != "desktop" || primary.Type != "screen" {
		t.Errorf("primary = %+v, want desktop/screen", primary)
	}
	if primary.Width != 1920 || primary.Height != 1080 {
		t.Errorf("primary geometry = %dx%d", primary.Width, primary.Height)
	}
	if primary.Name != "Desktop (eDP-1)" {
		t.Errorf("primary name = %q", primary.Name)
	}

	secondary := sources[1]
	if secondary.ID != "region=1920,0,2560x1440" {
		t.Errorf("secondary id = %q, want its grab region", secondary.ID)
	}
	if secondary.Width != 2560 || secondary.Height != 1440 {
		t.Errorf("secondary geometry = %dx%d", secondary.Width, secondary.Height)
	}
}

func TestParseMonitorGeometry(t *testing.T) {
	tests := []struct {
		geom       string
		w, h, x, y int
		wantOK     bool
	}{
		{"1920/344x1080/194+0+0", 1920, 1080, 0, 0, true},
		{"2560/598x1440/336+1920+0", 2560, 1440, 1920, 0, true},
		{"800x600+0+0", 800, 600, 0, 0, true},
		{"1024x768", 1024, 768, 0, 0, true},
		{"garbage", 0, 0, 0, 0, false},
		{"x1080", 0, 0, 0, 0, false},
	}
	for _, tt := range tests {
		w, h, x, y, ok := parseMonitorGeometry(tt.geom)
		if ok != tt.wantOK || w != tt.w || h != tt.h || x != tt.x || y != tt.y {
			t.Errorf("parseMonitorGeometry(%q) = %d,%d,%d,%d,%v want %d,%d,%d,%d,%v",
				tt.geom, w, h, x, y, ok, tt.w, tt.h, tt.x, tt.y, tt.wantOK)
		}
	}
}

func TestParseRegionID(t *testing.T) {
	tests := []struct {
		id         string
		x, y, w, h int
		wantOK     bool
	}{
		{"region=1920,0,2560x1440", 1920, 0, 2560, 1440, true},
		{"region=26,52,1876x1012", 26, 52, 1876, 1012, true},
		{"desktop", 0, 0, 0, 0, false},
		{"title=Editor", 0, 0, 0, 0, false},
		{"region=1920,0", 0, 0, 0, 0, false},
		{"region=a,b,cxd", 0, 0, 0, 0, false},
		{"region=0,0,0x1080", 0, 0, 0, 0, false},
		{"region=0,0,1920x-1", 0, 0, 0, 0, false},
	}
	for _, tt := range tests {
		x, y, w, h, ok := parseRegionID(tt.id)
		if ok != tt.wantOK || x != tt.x || y != tt.y || w != tt.w || h != tt.h {
			t.Errorf("parseRegionID(%q) = %d,%d,%d,%d,%v want %d,%d,%d,%d,%v",
				tt.id, x, y, w, h, ok, tt.x, tt.y, tt.w, tt.h, tt.wantOK)
		}
	}
}

func TestParseWindows(t *testing.T) {
	out := `0x03600003  0 26 52 1876 1012 host Editor - main.go
0x04a00001 -1 0 0 1920 1080 host Desktop
0x05200007  1 100 100 180 120 host Tiny Popup
0x05a00002  0 0 0 1920 40 host plasmashell
0x06000004  1 300 200 1280 720 host Browser - Documentation
`
	sources := parseWindows(out)
	if len(sources) != 2 {
		t.Fatalf("got %d windows, want 2: %+v", len(sources), sources)
	}
	if sources[0].ID != "region=26,52,1876x1012" {
		t.Errorf("first id = %q, want the window's grab region", sources[0].ID)
	}
	if sources[0].Width != 1876 || sources[0].Height != 1012 {
		t.Errorf("first geometry = %dx%d", sources[0].Width, sources[0].Height)
	}
	if sources[1].Name != "Browser - Documentation" {
		t.Errorf("second name = %q", sources[1].Name)
	}
	if sources[1].ID != "region=300,200,1280x720" {
		t.Errorf("second id = %q, want the window's grab region", sources[1].ID)
	}
}

func TestParseWindowsCap(t *testing.T) {
	var b strings.Builder
	for i := 0; i < maxWindows+10; i++ {
		fmt.Fprintf(&b, "0x%08x  0 0 0 1280 720 host Window Number %d\n", i, i)
	}
	sources := parseWindows(b.String())
	if len(sources) != maxWindows {
		t.Errorf("got %d windows, want cap of %d", len(sources), maxWindows)
	}
}

func TestIsSystemWindow(t *testing.T) {
	tests := []struct {
		title string
		want  bool
	}{
		{"Program Manager", true},
		{"Windows Input Experience", true},
		{"NVIDIA GeForce Overlay DT", true},
		{"My Editor", false},
		{"Settings", true},
		{"Settings Editor Pro", true},
	}
	for _, tt := range tests {
		if got := isSystemWindow(tt.title); got != tt.want {
			t.Errorf("isSystemWindow(%q) = %v, want %v", tt.title, got, tt.want)
		}
	}
}

func TestTruncateName(t *testing.T) {
	short := "Short Title"
	if got := truncateName(short); got != short {
		t.Errorf("short title changed: %q", got)
	}

	long := strings.Repeat("x", 80)
	got := truncateName(long)
	if len(got) != maxSourceName {
		t.Errorf("truncated length = %d, want %d", len(got), maxSourceName)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("truncated title missing ellipsis: %q", got)
	}
}

func TestFallbackSources(t *testing.T) {
	sources := fallbackSources()
	if len(sources) != 1 || sources[0].ID != "desktop" {
		t.Errorf("fallback = %+v, want single desktop entry", sources)
	}
}
