package encoder

import (
	"context"
	"os/exec"
	"strings"
)

// Capabilities describes what the encoder binary can do. A missing binary
// yields Available=false rather than an error.
type Capabilities struct {
	Available     bool     `json:"available"`
	Version       string   `json:"version,omitempty"`
	Encoders      []string `json:"encoders"`
	WHIPSupported bool     `json:"ingestProtocolSupported"`
}

// encoderProbes maps ffmpeg encoder names to the short kind labels the
// rest of the system uses.
var encoderProbes = []struct {
	needle string
	kind   string
}{
	{"h264_nvenc", "nvenc"},
	{"h264_qsv", "qsv"},
	{"h264_amf", "amf"},
	{"h264_mf", "mf"},
	{"libx264", "x264"},
}

// CheckCapabilities probes the binary's version, hardware codec list, and
// WHIP muxer availability via short-lived helper invocations.
func (c *Controller) CheckCapabilities(ctx context.Context) Capabilities {
	out, err := exec.CommandContext(ctx, c.bin, "-version").Output()
	if err != nil {
		return Capabilities{Encoders: []string{}}
	}
	caps := Capabilities{
		Available: true,
		Version:   parseVersion(string(out)),
		Encoders:  []string{},
	}

	if enc, err := exec.CommandContext(ctx, c.bin, "-encoders", "-hide_banner").Output(); err == nil {
		caps.Encoders = detectEncoders(string(enc))
	}
	if mux, err := exec.CommandContext(ctx, c.bin, "-muxers", "-hide_banner").Output(); err == nil {
		caps.WHIPSupported = strings.Contains(string(mux), " whip ")
	}
	return caps
}

// parseVersion extracts the version token from the first line of
// `ffmpeg -version` ("ffmpeg version 7.1 Copyright ...").
func parseVersion(out string) string {
	line, _, _ := strings.Cut(out, "\n")
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return ""
	}
	return fields[2]
}

func detectEncoders(out string) []string {
	found := []string{}
	for _, p := range encoderProbes {
		if strings.Contains(out, p.needle) {
			found = append(found, p.kind)
		}
	}
	return found
}

// GstCapabilities describes the gstreamer sidecar: whether whipclientsink
// and the usual encoder plugins are installed.
type GstCapabilities struct {
	Available     bool   `json:"available"`
	Version       string `json:"version,omitempty"`
	WHIPSupported bool   `json:"ingestProtocolSupported"`
	HasD3D11      bool   `json:"hasD3d11"`
	HasX264       bool   `json:"hasX264"`
	HasOpenH264   bool   `json:"hasOpenH264"`
}

// CheckGstCapabilities probes the gst-launch binary and its plugin list.
// A missing binary yields Available=false rather than an error.
func (c *Controller) CheckGstCapabilities(ctx context.Context) GstCapabilities {
	out, err := exec.CommandContext(ctx, c.gstBin, "--version").Output()
	if err != nil {
		return GstCapabilities{}
	}
	caps := GstCapabilities{
		Available: true,
		Version:   parseGstVersion(string(out)),
	}

	if help, err := exec.CommandContext(ctx, c.gstBin, "--gst-plugin-help").CombinedOutput(); err == nil {
		caps.WHIPSupported, caps.HasD3D11, caps.HasX264, caps.HasOpenH264 = detectGstFeatures(string(help))
	}
	return caps
}

// parseGstVersion returns the first line of `gst-launch-1.0 --version`
// ("gst-launch-1.0 version 1.24.2").
func parseGstVersion(out string) string {
	line, _, _ := strings.Cut(out, "\n")
	return strings.TrimSpace(line)
}

func detectGstFeatures(help string) (whip, d3d11, x264, openh264 bool) {
	whip = strings.Contains(help, "whipclientsink") || strings.Contains(help, "rswebrtc")
	d3d11 = strings.Contains(help, "d3d11")
	x264 = strings.Contains(help, "x264")
	openh264 = strings.Contains(help, "openh264")
	return whip, d3d11, x264, openh264
}
