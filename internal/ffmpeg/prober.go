// Package ffmpeg wraps the external ffmpeg/ffprobe binaries: media probing
// and hardware acceleration discovery.
package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

// Probe failure classification.
var (
	// ErrProbeFailed indicates the external probe tool exited non-zero.
	ErrProbeFailed = errors.New("probe failed")
	// ErrFileCorrupt indicates probe output without a primary video stream,
	// a valid duration, or a parseable container bitrate.
	ErrFileCorrupt = errors.New("file corrupt")
)

// Stream codec types as reported by ffprobe.
const (
	StreamVideo    = "video"
	StreamAudio    = "audio"
	StreamSubtitle = "subtitle"
)

// MediaInfo is the parsed ffprobe output for one file.
type MediaInfo struct {
	Format  Format   `json:"format"`
	Streams []Stream `json:"streams"`
}

// Format contains container format information.
type Format struct {
	Filename   string            `json:"filename"`
	NumStreams int               `json:"nb_streams"`
	FormatName string            `json:"format_name"`
	Duration   string            `json:"duration"`
	Size       string            `json:"size"`
	BitRate    string            `json:"bit_rate"`
	Tags       map[string]string `json:"tags"`
}

// Stream contains per-stream information.
type Stream struct {
	Index         int               `json:"index"`
	CodecName     string            `json:"codec_name"`
	CodecLongName string            `json:"codec_long_name"`
	Profile       string            `json:"profile"`
	CodecType     string            `json:"codec_type"` // video, audio, subtitle, data
	Width         int               `json:"width,omitempty"`
	Height        int               `json:"height,omitempty"`
	Level         int               `json:"level,omitempty"`
	PixFmt        string            `json:"pix_fmt,omitempty"`
	SampleRate    string            `json:"sample_rate,omitempty"`
	Channels      int               `json:"channels,omitempty"`
	ChannelLayout string            `json:"channel_layout,omitempty"`
	AvgFrameRate  string            `json:"avg_frame_rate,omitempty"`
	RFrameRate    string            `json:"r_frame_rate,omitempty"`
	Duration      string            `json:"duration,omitempty"`
	BitRate       string            `json:"bit_rate,omitempty"`
	Disposition   Disposition       `json:"disposition,omitempty"`
	Tags          map[string]string `json:"tags,omitempty"`
}

// Disposition contains stream disposition flags.
type Disposition struct {
	Default int `json:"default"`
	Forced  int `json:"forced"`
}

// Prober invokes ffprobe. Results are never cached: files may change
// between library insertion and session establishment.
type Prober struct {
	ffprobePath string
	timeout     time.Duration
}

// NewProber creates a new media prober.
func NewProber(ffprobePath string) *Prober {
	return &Prober{
		ffprobePath: ffprobePath,
		timeout:     30 * time.Second,
	}
}

// WithTimeout sets the probe timeout.
func (p *Prober) WithTimeout(timeout time.Duration) *Prober {
	p.timeout = timeout
	return p
}

// Probe probes a file and returns its media description.
func (p *Prober) Probe(ctx context.Context, path string) (*MediaInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrProbeFailed, path, err)
	}

	var info MediaInfo
	if err := json.Unmarshal(output, &info); err != nil {
		return nil, fmt.Errorf("%w: parsing ffprobe output: %v", ErrProbeFailed, err)
	}

	if err := info.validate(); err != nil {
		return nil, err
	}
	return &info, nil
}

// validate enforces the minimum shape a playable file must have.
func (info *MediaInfo) validate() error {
	if info.GetPrimary(StreamVideo) == nil {
		return fmt.Errorf("%w: no video stream", ErrFileCorrupt)
	}
	if info.GetDuration() <= 0 {
		return fmt.Errorf("%w: invalid duration %q", ErrFileCorrupt, info.Format.Duration)
	}
	if _, err := strconv.Atoi(info.Format.BitRate); err != nil {
		return fmt.Errorf("%w: invalid container bitrate %q", ErrFileCorrupt, info.Format.BitRate)
	}
	return nil
}

// GetPrimary returns the default-flagged stream of the given type, or the
// first stream of that type, or nil.
func (info *MediaInfo) GetPrimary(codecType string) *Stream {
	var first *Stream
	for i := range info.Streams {
		s := &info.Streams[i]
		if s.CodecType != codecType {
			continue
		}
		if s.Disposition.Default == 1 {
			return s
		}
		if first == nil {
			first = s
		}
	}
	return first
}

// FindByType returns all streams of the given type, in container order.
func (info *MediaInfo) FindByType(codecType string) []Stream {
	var streams []Stream
	for _, s := range info.Streams {
		if s.CodecType == codecType {
			streams = append(streams, s)
		}
	}
	return streams
}

// GetDuration returns the container duration in seconds, or 0.
func (info *MediaInfo) GetDuration() float64 {
	if info.Format.Duration == "" {
		return 0
	}
	d, err := strconv.ParseFloat(info.Format.Duration, 64)
	if err != nil {
		return 0
	}
	return d
}

// DurationMS returns the duration in milliseconds as a decimal string.
func (info *MediaInfo) DurationMS() string {
	return strconv.FormatInt(int64(info.GetDuration()*1000), 10)
}

// GetContainerBitrate returns the container bitrate in bits per second, or 0.
func (info *MediaInfo) GetContainerBitrate() int {
	br, err := strconv.Atoi(info.Format.BitRate)
	if err != nil {
		return 0
	}
	return br
}

// Bitrate returns the stream bitrate in bits per second, or 0.
func (s *Stream) Bitrate() int {
	br, err := strconv.Atoi(s.BitRate)
	if err != nil {
		return 0
	}
	return br
}

// Framerate returns the stream framerate, or 0.
func (s *Stream) Framerate() float64 {
	if fr := parseFramerate(s.AvgFrameRate); fr > 0 {
		return fr
	}
	return parseFramerate(s.RFrameRate)
}

// Language returns the stream's language tag, if any.
func (s *Stream) Language() string {
	return s.Tags["language"]
}

// Title returns the stream's title tag, if any.
func (s *Stream) Title() string {
	return s.Tags["title"]
}

// parseFramerate parses a framerate string like "30000/1001" or "25/1".
func parseFramerate(fr string) float64 {
	if fr == "" {
		return 0
	}
	var num, den float64
	if n, err := fmt.Sscanf(fr, "%f/%f", &num, &den); err != nil || n != 2 {
		if f, err := strconv.ParseFloat(fr, 64); err == nil {
			return f
		}
		return 0
	}
	if den == 0 {
		return 0
	}
	return num / den
}
