package streaming

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"
)

// ProfileKind discriminates encoder strategies. The kinds form a tagged
// union sharing the Applicable/Args capability set; there is no hierarchy.
type ProfileKind string

const (
	// Transmux repackages the source stream into DASH segments without
	// re-encoding.
	Transmux ProfileKind = "transmux"
	// Transcode re-encodes on the CPU.
	Transcode ProfileKind = "transcode"
	// HardwareTranscode re-encodes on a VAAPI device.
	HardwareTranscode ProfileKind = "hardware_transcode"
	// SubtitleExtract converts one subtitle stream to a sidecar file.
	SubtitleExtract ProfileKind = "subtitle_extract"
)

// Profile is one encoder configuration in a chain. Chains are ordered
// fallbacks: the supervisor tries head-first and advances on failure.
type Profile struct {
	Kind ProfileKind
}

// ProfileContext is the input a profile renders its argv from.
type ProfileContext struct {
	// InputFile is the source media path.
	InputFile string
	// InputStream is the container stream index to map.
	InputStream int
	// OutputCodec is the encoder codec name ("copy", "libx264", "aac", ...).
	OutputCodec string
	// Bitrate is the target bitrate in bits/second; zero means encoder default.
	Bitrate int
	// Height is the target frame height; zero keeps the source height.
	Height int
	// AudioChannels caps the channel count for audio outputs.
	AudioChannels int
	// StartNumber is the absolute index of the first segment to produce.
	StartNumber uint32
	// TargetGOP is the segment duration.
	TargetGOP time.Duration
	// OutDir is the session's exclusive output directory.
	OutDir string
	// SubtitleFormat is "webvtt" or "ass" for SubtitleExtract profiles.
	SubtitleFormat string
	// HWDevice is the render device for hardware profiles.
	HWDevice string
}

// SubtitleFile returns the sidecar filename a SubtitleExtract profile writes.
func (ctx *ProfileContext) SubtitleFile() string {
	if ctx.SubtitleFormat == "ass" {
		return "stream.ass"
	}
	return "stream.vtt"
}

// Applicable reports whether this profile can serve the given context.
func (p Profile) Applicable(ctx ProfileContext) bool {
	switch p.Kind {
	case Transmux:
		return ctx.OutputCodec == "copy"
	case Transcode:
		return ctx.OutputCodec != "" && ctx.OutputCodec != "copy"
	case HardwareTranscode:
		return ctx.HWDevice != "" && ctx.OutputCodec != "" && ctx.OutputCodec != "copy"
	case SubtitleExtract:
		return ctx.SubtitleFormat != ""
	default:
		return false
	}
}

// Args renders the encoder argv for this profile. The returned argv is
// relative to the session outdir: segment files land as <N>.m4s next to
// init.mp4, numbering absolute from StartNumber.
func (p Profile) Args(ctx ProfileContext) []string {
	if p.Kind == SubtitleExtract {
		return []string{
			"-y",
			"-i", ctx.InputFile,
			"-map", "0:" + strconv.Itoa(ctx.InputStream),
			"-f", ctx.SubtitleFormat,
			filepath.Join(ctx.OutDir, ctx.SubtitleFile()),
		}
	}

	gop := ctx.TargetGOP.Seconds()
	seek := float64(ctx.StartNumber) * gop

	args := []string{"-y"}
	if p.Kind == HardwareTranscode {
		args = append(args,
			"-hwaccel", "vaapi",
			"-hwaccel_device", ctx.HWDevice,
			"-hwaccel_output_format", "vaapi",
		)
	}
	if seek > 0 {
		args = append(args, "-ss", strconv.FormatFloat(seek, 'f', -1, 64))
	}
	args = append(args,
		"-i", ctx.InputFile,
		"-copyts",
		"-map", "0:"+strconv.Itoa(ctx.InputStream),
	)

	switch p.Kind {
	case Transmux:
		args = append(args, "-c:0", "copy")
	case Transcode:
		args = append(args, "-c:0", ctx.OutputCodec)
		if ctx.OutputCodec == "libx264" {
			args = append(args,
				"-preset", "veryfast",
				"-force_key_frames", fmt.Sprintf("expr:gte(t,n_forced*%d)", int(gop)),
			)
			if ctx.Height > 0 {
				args = append(args, "-vf", fmt.Sprintf("scale=-2:%d", ctx.Height))
			}
		}
		if ctx.AudioChannels > 0 {
			args = append(args, "-ac", strconv.Itoa(ctx.AudioChannels))
		}
		if ctx.Bitrate > 0 {
			args = append(args,
				"-b:0", strconv.Itoa(ctx.Bitrate),
				"-maxrate", strconv.Itoa(ctx.Bitrate),
				"-bufsize", strconv.Itoa(2*ctx.Bitrate),
			)
		}
	case HardwareTranscode:
		args = append(args, "-c:0", "h264_vaapi")
		if ctx.Height > 0 {
			args = append(args, "-vf", fmt.Sprintf("scale_vaapi=w=-2:h=%d", ctx.Height))
		}
		args = append(args, "-force_key_frames", fmt.Sprintf("expr:gte(t,n_forced*%d)", int(gop)))
		if ctx.Bitrate > 0 {
			args = append(args,
				"-b:0", strconv.Itoa(ctx.Bitrate),
				"-maxrate", strconv.Itoa(ctx.Bitrate),
			)
		}
	}

	args = append(args,
		"-f", "dash",
		"-use_template", "1",
		"-use_timeline", "0",
		"-seg_duration", strconv.FormatFloat(gop, 'f', -1, 64),
		"-start_number", strconv.FormatUint(uint64(ctx.StartNumber), 10),
		"-init_seg_name", "init.mp4",
		"-media_seg_name", "$Number$.m4s",
		filepath.Join(ctx.OutDir, "playlist.mpd"),
	)
	return args
}

// FilterChain drops hardware profiles when hardware acceleration is
// disabled and removes profiles that cannot serve the context. Order is
// preserved; the result may be empty.
func FilterChain(chain []Profile, ctx ProfileContext, hwaccel bool) []Profile {
	out := make([]Profile, 0, len(chain))
	for _, p := range chain {
		if p.Kind == HardwareTranscode && !hwaccel {
			continue
		}
		if !p.Applicable(ctx) {
			continue
		}
		out = append(out, p)
	}
	return out
}
