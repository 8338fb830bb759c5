package streaming

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/lumoware/lumo/internal/ffmpeg"
)

// ContentType classifies a virtual manifest's track.
type ContentType string

const (
	ContentVideo    ContentType = "video"
	ContentAudio    ContentType = "audio"
	ContentSubtitle ContentType = "subtitle"
)

// VirtualManifest describes a single stream id to the manifest compiler:
// one video quality, one audio track, or one subtitle track of a group.
type VirtualManifest struct {
	ID             string            `json:"id"`
	ContentType    ContentType       `json:"content_type"`
	Mime           string            `json:"mime"`
	Codecs         string            `json:"codecs"`
	Bandwidth      int               `json:"bandwidth"`
	TargetDuration float64           `json:"target_duration"`
	InitSeg        string            `json:"init_seg,omitempty"`
	ChunkPath      string            `json:"chunk_path"`
	Label          string            `json:"label"`
	Language       string            `json:"language,omitempty"`
	IsDefault      bool              `json:"is_default"`
	IsDirect       bool              `json:"is_direct"`
	Args           map[string]string `json:"args,omitempty"`
}

// ManifestGroup is the fixed track set for one playback of one file.
type ManifestGroup struct {
	Manifests []*VirtualManifest `json:"tracks"`
	// Duration is the source duration in seconds.
	Duration float64 `json:"duration"`
}

// GroupOptions tune manifest group assembly for one playback.
type GroupOptions struct {
	// ForceASS keeps ASS/SSA subtitles in their native format instead of
	// converting to WebVTT.
	ForceASS bool
}

// acceptableSubtitleCodecs are text subtitle codecs we can extract.
// Bitmap formats (pgs, dvdsub) are skipped.
var acceptableSubtitleCodecs = map[string]bool{
	"subrip": true,
	"srt":    true,
	"ass":    true,
	"ssa":    true,
	"webvtt": true,
	"vtt":    true,
}

// CreateGroup probes results in hand, builds the fixed set of virtual
// manifests for one playback of one file, allocating a session per track.
// The returned set is immutable until the group is killed.
func (m *Manager) CreateGroup(info *ffmpeg.MediaInfo, inputFile string, opts GroupOptions) (uuid.UUID, *ManifestGroup, error) {
	video := info.GetPrimary(ffmpeg.StreamVideo)
	if video == nil {
		return uuid.Nil, nil, fmt.Errorf("%w: no video stream", ffmpeg.ErrFileCorrupt)
	}

	gop := m.cfg.TargetGOP.Seconds()
	sourceBitrate := video.Bitrate()
	if sourceBitrate == 0 {
		sourceBitrate = info.GetContainerBitrate()
	}

	var manifests []*VirtualManifest

	// Direct play: an H.264 source streams with only a transmux.
	directPlayable := video.CodecName == "h264"
	if directPlayable {
		id, err := m.Create([]Profile{{Kind: Transmux}}, ProfileContext{
			InputFile:   inputFile,
			InputStream: video.Index,
			OutputCodec: "copy",
		})
		if err != nil {
			return uuid.Nil, nil, err
		}
		manifests = append(manifests, &VirtualManifest{
			ID:             id,
			ContentType:    ContentVideo,
			Mime:           "video/mp4",
			Codecs:         avc1Tag(video.Profile, video.Level),
			Bandwidth:      sourceBitrate,
			TargetDuration: gop,
			InitSeg:        initPath(id),
			ChunkPath:      chunkTemplate(id),
			Label:          fmt.Sprintf("%dp (direct)", video.Height),
			IsDirect:       true,
		})
	}

	for _, rung := range Ladder(video.Height, sourceBitrate) {
		chain := []Profile{{Kind: HardwareTranscode}, {Kind: Transcode}}
		id, err := m.Create(chain, ProfileContext{
			InputFile:   inputFile,
			InputStream: video.Index,
			OutputCodec: "libx264",
			Bitrate:     rung.Bitrate,
			Height:      rung.Height,
		})
		if err != nil {
			return uuid.Nil, nil, err
		}
		label := fmt.Sprintf("%dp", rung.Height)
		if rung.SourceEqual {
			label += " (source)"
		}
		manifests = append(manifests, &VirtualManifest{
			ID:             id,
			ContentType:    ContentVideo,
			Mime:           "video/mp4",
			Codecs:         transcodedAVC1Tag(rung.Height),
			Bandwidth:      rung.Bitrate,
			TargetDuration: gop,
			InitSeg:        initPath(id),
			ChunkPath:      chunkTemplate(id),
			Label:          label,
			Args:           map[string]string{"height": strconv.Itoa(rung.Height)},
		})
	}

	for _, audio := range info.FindByType(ffmpeg.StreamAudio) {
		const audioBitrate = 120_000
		id, err := m.Create([]Profile{{Kind: Transcode}}, ProfileContext{
			InputFile:     inputFile,
			InputStream:   audio.Index,
			OutputCodec:   "aac",
			Bitrate:       audioBitrate,
			AudioChannels: 2,
		})
		if err != nil {
			return uuid.Nil, nil, err
		}
		manifests = append(manifests, &VirtualManifest{
			ID:             id,
			ContentType:    ContentAudio,
			Mime:           "audio/mp4",
			Codecs:         "mp4a.40.2",
			Bandwidth:      audioBitrate,
			TargetDuration: gop,
			InitSeg:        initPath(id),
			ChunkPath:      chunkTemplate(id),
			Label:          trackLabel(audio.Title(), audio.Language()),
			Language:       audio.Language(),
			IsDefault:      audio.Disposition.Default == 1,
		})
	}

	for _, sub := range info.FindByType(ffmpeg.StreamSubtitle) {
		if !acceptableSubtitleCodecs[sub.CodecName] {
			continue
		}
		format, mime := "webvtt", "text/vtt"
		if opts.ForceASS && (sub.CodecName == "ass" || sub.CodecName == "ssa") {
			format, mime = "ass", "text/x-ssa"
		}
		id, err := m.Create([]Profile{{Kind: SubtitleExtract}}, ProfileContext{
			InputFile:      inputFile,
			InputStream:    sub.Index,
			SubtitleFormat: format,
		})
		if err != nil {
			return uuid.Nil, nil, err
		}
		manifests = append(manifests, &VirtualManifest{
			ID:          id,
			ContentType: ContentSubtitle,
			Mime:        mime,
			ChunkPath:   subtitlePath(id, format),
			Label:       trackLabel(sub.Title(), sub.Language()),
			Language:    sub.Language(),
		})
	}

	electDefaultVideo(manifests, m.cfg.DefaultQuality)

	group := &ManifestGroup{Manifests: manifests, Duration: info.GetDuration()}
	gid := uuid.New()
	m.mu.Lock()
	m.groups[gid] = group
	m.mu.Unlock()

	m.logger.Info("manifest group created",
		slog.String("gid", gid.String()),
		slog.Int("tracks", len(manifests)),
	)
	return gid, group, nil
}

// Group returns the fixed manifest set of a group.
func (m *Manager) Group(gid uuid.UUID) (*ManifestGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	group, ok := m.groups[gid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGroup, gid)
	}
	return group, nil
}

// KillGroup stops every session of the group and removes it.
func (m *Manager) KillGroup(gid uuid.UUID) error {
	group, err := m.Group(gid)
	if err != nil {
		return err
	}
	for _, vm := range group.Manifests {
		_ = m.Die(vm.ID)
	}
	m.mu.Lock()
	delete(m.groups, gid)
	m.mu.Unlock()
	return nil
}

// KillGroupSubtitles stops the group's non-A/V sessions to free encoder
// slots once playback settles on audio and video.
func (m *Manager) KillGroupSubtitles(gid uuid.UUID) error {
	group, err := m.Group(gid)
	if err != nil {
		return err
	}
	for _, vm := range group.Manifests {
		if vm.ContentType == ContentSubtitle {
			_ = m.Die(vm.ID)
		}
	}
	return nil
}

// electDefaultVideo sets is_default on exactly one video track: the
// direct-play track when preferred and available, else the rung matching
// the preferred height, else the first video track.
func electDefaultVideo(manifests []*VirtualManifest, pref string) {
	var direct, first, preferred *VirtualManifest
	for _, vm := range manifests {
		if vm.ContentType != ContentVideo {
			continue
		}
		if first == nil {
			first = vm
		}
		if vm.IsDirect {
			direct = vm
		}
		if vm.Args["height"] == pref {
			preferred = vm
		}
	}

	chosen := first
	switch {
	case pref == "direct" && direct != nil:
		chosen = direct
	case preferred != nil:
		chosen = preferred
	}
	if chosen != nil {
		chosen.IsDefault = true
	}
}

// trackLabel builds a display label from a stream title and language tag.
// Ampersands become "and"; XML escaping is the manifest writer's concern.
func trackLabel(title, lang string) string {
	label := strings.ReplaceAll(title, "&", "and")
	if label != "" {
		return label
	}
	if lang == "" {
		return "Unknown"
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return lang
	}
	if name := display.English.Languages().Name(tag); name != "" {
		return name
	}
	return lang
}

// avc1Tag synthesizes the RFC 6381 codec string for an H.264 stream from
// its probed profile and level.
func avc1Tag(profile string, level int) string {
	hex := "6400" // High
	switch profile {
	case "Baseline", "Constrained Baseline":
		hex = "42e0"
	case "Main":
		hex = "4d40"
	}
	if level <= 0 {
		level = 40 // assume level 4.0 at 24 fps when the probe is silent
	}
	return fmt.Sprintf("avc1.%s%02x", hex, level)
}

// transcodedAVC1Tag returns the codec string our libx264 settings produce
// for a given output height.
func transcodedAVC1Tag(height int) string {
	switch {
	case height >= 2160:
		return "avc1.640033" // High@5.1
	case height >= 1080:
		return "avc1.640028" // High@4.0
	default:
		return "avc1.64001f" // High@3.1
	}
}

func initPath(id string) string {
	return "/stream/" + id + "/data/init.mp4"
}

func chunkTemplate(id string) string {
	return "/stream/" + id + "/data/$Number$.m4s"
}

func subtitlePath(id, format string) string {
	if format == "ass" {
		return "/stream/" + id + "/data/stream.ass"
	}
	return "/stream/" + id + "/data/stream.vtt"
}
