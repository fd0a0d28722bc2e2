package encoder

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
)

// BuildArgs constructs the full ffmpeg argument list for a job. The output
// is deterministic for a given job and platform; WHIP-egress requirements
// (baseline profile, zero B-frames, CBR, keyframe interval of 2*fps) are
// non-negotiable for playability and applied on every codec path.
func BuildArgs(job Job) []string {
	return buildArgs(job, runtime.GOOS)
}

func buildArgs(job Job, goos string) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "info",
		"-fflags", "+genpts+nobuffer+flush_packets",
		"-flags", "low_delay",
		"-max_delay", "0",
		"-y",
		"-nostdin",
	}

	args = append(args, grabInputArgs(job, goos)...)
	if job.AudioEnabled {
		args = append(args, audioInputArgs(goos)...)
	}

	args = append(args, "-vf", scaleFilter(job))
	args = append(args, codecArgs(job)...)
	if job.Encoder != KindNVENC {
		args = append(args, "-pix_fmt", "yuv420p")
	}

	if job.AudioEnabled {
		args = append(args,
			"-c:a", "libopus",
			"-ar", "48000",
			"-ac", "2",
			"-b:a", "128k",
		)
	} else {
		args = append(args, "-an")
	}

	args = append(args,
		"-flush_packets", "1",
		"-ts_buffer_size", "1048576",
		"-whip_flags", "dtls_active",
		"-f", "whip",
	)
	if job.AuthToken != "" {
		args = append(args, "-authorization", job.AuthToken)
	}
	return append(args, job.IngestURL)
}

// grabInputArgs binds the platform screen/window grabber to the source id.
func grabInputArgs(job Job, goos string) []string {
	fps := strconv.Itoa(job.FPS)
	if goos == "windows" {
		args := []string{
			"-rtbufsize", "64M",
			"-thread_queue_size", "512",
			"-probesize", "32",
			"-analyzeduration", "0",
			"-f", "gdigrab",
			"-draw_mouse", "1",
			"-framerate", fps,
		}
		if strings.HasPrefix(job.SourceID, "title=") {
			return append(args, "-i", job.SourceID)
		}
		return append(args,
			"-offset_x", "0",
			"-offset_y", "0",
			"-i", "desktop",
		)
	}
	// X11 grabs are bound to the source id: region ids (secondary screens
	// and windows) capture their exact geometry, everything else grabs the
	// root display.
	if x, y, w, h, ok := parseRegionID(job.SourceID); ok {
		return []string{
			"-f", "x11grab",
			"-framerate", fps,
			"-video_size", fmt.Sprintf("%dx%d", w, h),
			"-i", fmt.Sprintf(":0.0+%d,%d", x, y),
		}
	}
	return []string{
		"-f", "x11grab",
		"-framerate", fps,
		"-i", ":0.0",
	}
}

func audioInputArgs(goos string) []string {
	if goos == "windows" {
		return []string{"-f", "dshow", "-i", "audio=virtual-audio-capturer"}
	}
	return []string{"-f", "pulse", "-i", "default"}
}

func scaleFilter(job Job) string {
	base := fmt.Sprintf("scale=%d:%d:flags=fast_bilinear", job.Width, job.Height)
	if job.Encoder == KindNVENC {
		// gdigrab/x11grab output bgra; NVENC wants nv12.
		return base + ",format=nv12"
	}
	return base
}

// codecArgs selects the encoder block from a fixed table. Hardware paths
// use low-latency tuning; anything unrecognized takes the x264 fallback.
func codecArgs(job Job) []string {
	bitrate := fmt.Sprintf("%dk", job.BitrateKbps)
	gop := strconv.Itoa(job.FPS * 2)

	switch job.Encoder {
	case KindNVENC:
		preset := job.Preset
		if preset == "" {
			preset = "p1"
		}
		return []string{
			"-c:v", "h264_nvenc",
			"-preset", preset,
			"-b:v", bitrate,
			"-bf", "0",
			"-g", gop,
		}
	case KindQSV:
		return []string{
			"-c:v", "h264_qsv",
			"-preset", "veryfast",
			"-profile:v", "baseline",
			"-bf", "0",
			"-b:v", bitrate,
			"-g", gop,
		}
	case KindAMF:
		return []string{
			"-c:v", "h264_amf",
			"-usage", "ultralowlatency",
			"-profile:v", "baseline",
			"-bf", "0",
			"-b:v", bitrate,
			"-g", gop,
		}
	case KindMF:
		return []string{
			"-c:v", "h264_mf",
			"-rate_control", "4",
			"-scenario", "4",
			"-hw_encoding", "1",
			"-profile:v", "baseline",
			"-bf", "0",
			"-b:v", bitrate,
			"-g", gop,
		}
	default:
		return []string{
			"-c:v", "libx264",
			"-preset", "ultrafast",
			"-tune", "zerolatency",
			"-profile:v", "baseline",
			"-bf", "0",
			"-b:v", bitrate,
			"-bufsize", fmt.Sprintf("%dk", job.BitrateKbps/4),
			"-g", gop,
			"-threads", "1",
		}
	}
}
