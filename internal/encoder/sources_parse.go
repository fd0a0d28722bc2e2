package encoder

import (
	"fmt"
	"strconv"
	"strings"
)

// Parsing for the X11 enumeration helpers. Kept free of build tags so the
// tables are testable on any platform.

// parseMonitors parses `xrandr --listmonitors` output:
//
//	Monitors: 2
//	 0: +*eDP-1 1920/344x1080/194+0+0  eDP-1
//	 1: +HDMI-1 2560/598x1440/336+1920+0  HDMI-1
//
// The starred entry is the primary screen and gets the canonical
// "desktop" id; secondaries get a region id carrying the grab geometry so
// the capture input can target them directly.
func parseMonitors(out string) []CaptureSource {
	var sources []CaptureSource
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		fields := strings.Fields(line)
		if len(fields) < 4 || !strings.HasSuffix(fields[0], ":") {
			continue
		}
		if _, err := strconv.Atoi(strings.TrimSuffix(fields[0], ":")); err != nil {
			continue
		}
		primary := strings.Contains(fields[1], "*")
		w, h, x, y, ok := parseMonitorGeometry(fields[2])
		if !ok {
			continue
		}
		name := fields[len(fields)-1]

		id := regionID(x, y, w, h)
		label := "Screen " + name
		if primary {
			id = "desktop"
			label = "Desktop (" + name + ")"
		}
		sources = append(sources, CaptureSource{
			ID:     id,
			Name:   label,
			Type:   "screen",
			Width:  w,
			Height: h,
		})
	}
	return sources
}

// parseMonitorGeometry decodes "1920/344x1080/194+1920+0" into pixel size
// and desktop offset.
func parseMonitorGeometry(geom string) (w, h, x, y int, ok bool) {
	wPart, rest, found := strings.Cut(geom, "x")
	if !found {
		return 0, 0, 0, 0, false
	}
	wStr, _, _ := strings.Cut(wPart, "/")
	hPart, offsets, _ := strings.Cut(rest, "+")
	hStr, _, _ := strings.Cut(hPart, "/")
	w, err := strconv.Atoi(wStr)
	if err != nil {
		return 0, 0, 0, 0, false
	}
	h, err = strconv.Atoi(hStr)
	if err != nil {
		return 0, 0, 0, 0, false
	}
	if xStr, yStr, found := strings.Cut(offsets, "+"); found {
		x, _ = strconv.Atoi(xStr)
		y, _ = strconv.Atoi(yStr)
	}
	return w, h, x, y, true
}

// parseWindows parses `wmctrl -lG` output:
//
//	0x03600003  0 26 52 1876 1012 host Some Window Title
//
// X11 has no title-addressable grab, so windows become region captures of
// their current geometry. Sticky/system windows (desktop -1), title-less,
// undersized, and known system windows are filtered; at most maxWindows
// entries are returned.
func parseWindows(out string) []CaptureSource {
	var sources []CaptureSource
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 8 {
			continue
		}
		desktop, err := strconv.Atoi(fields[1])
		if err != nil || desktop < 0 {
			continue
		}
		x, errX := strconv.Atoi(fields[2])
		y, errY := strconv.Atoi(fields[3])
		w, errW := strconv.Atoi(fields[4])
		h, errH := strconv.Atoi(fields[5])
		if errX != nil || errY != nil || errW != nil || errH != nil {
			continue
		}
		if w < minWindowWidth || h < minWindowHeight {
			continue
		}
		title := strings.Join(fields[7:], " ")
		if title == "" || isSystemWindow(title) {
			continue
		}
		if len(sources) >= maxWindows {
			break
		}
		sources = append(sources, CaptureSource{
			ID:     regionID(x, y, w, h),
			Name:   truncateName(title),
			Type:   "window",
			Width:  w,
			Height: h,
		})
	}
	return sources
}

func regionID(x, y, w, h int) string {
	return fmt.Sprintf("region=%d,%d,%dx%d", x, y, w, h)
}

// parseRegionID decodes a "region=X,Y,WxH" source id back into grab
// geometry.
func parseRegionID(id string) (x, y, w, h int, ok bool) {
	rest, found := strings.CutPrefix(id, "region=")
	if !found {
		return 0, 0, 0, 0, false
	}
	parts := strings.Split(rest, ",")
	if len(parts) != 3 {
		return 0, 0, 0, 0, false
	}
	wStr, hStr, found := strings.Cut(parts[2], "x")
	if !found {
		return 0, 0, 0, 0, false
	}
	var err error
	if x, err = strconv.Atoi(parts[0]); err != nil {
		return 0, 0, 0, 0, false
	}
	if y, err = strconv.Atoi(parts[1]); err != nil {
		return 0, 0, 0, 0, false
	}
	if w, err = strconv.Atoi(wStr); err != nil || w <= 0 {
		return 0, 0, 0, 0, false
	}
	if h, err = strconv.Atoi(hStr); err != nil || h <= 0 {
		return 0, 0, 0, 0, false
	}
	return x, y, w, h, true
}
