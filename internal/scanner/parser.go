package scanner

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Metadata is one name/year/season/episode guess extracted from a path.
// Several guesses per file are normal; the matcher tries them in order.
type Metadata struct {
	Name    string
	Year    *int
	Season  *int
	Episode *int
}

// IsEpisode reports whether the guess carries TV positioning.
func (m Metadata) IsEpisode() bool {
	return m.Season != nil && m.Episode != nil
}

// Year extraction requires delimiters so episode numbers and dates do not
// false-match: (2020) [2020] .2020. -2020- etc.
var yearRx = regexp.MustCompile(`(?:^|[\(\[\.\-_,\s])((?:19|20)\d{2})(?:[\)\]\.\-_,+\s]|$)`)

// Episode markers: S01E02, s1e2, and the 1x02 convention.
var (
	seasonEpisodeRx = regexp.MustCompile(`(?i)\bS(\d{1,3})[\s._-]*E(\d{1,3})`)
	crossEpisodeRx  = regexp.MustCompile(`(?i)\b(\d{1,2})x(\d{2,3})\b`)
)

// garbageTokens are release-name junk; the title ends at the first one.
var garbageTokens = buildTokenSet(
	// video codecs
	"x264", "x265", "h264", "h265", "hevc", "avc", "xvid", "divx", "av1", "vp9", "10bit", "8bit",
	// audio codecs and channel layouts
	"aac", "ac3", "dts", "dtshd", "truehd", "atmos", "flac", "mp3", "opus", "eac3", "5.1", "7.1", "2.0",
	// resolutions
	"480p", "576p", "720p", "1080p", "1080i", "2160p", "4k", "uhd", "hd", "sd",
	// sources
	"bluray", "blu-ray", "bdrip", "brrip", "bdremux", "remux", "hdrip",
	"dvd", "dvdrip", "webrip", "web-dl", "webdl", "web", "hdtv", "pdtv", "tvrip", "cam",
	// release tags
	"proper", "repack", "internal", "limited", "extended", "unrated", "remastered",
	"multi", "dubbed", "subbed", "subs",
	// containers leaking into names
	"mkv", "mp4", "avi",
)

func buildTokenSet(tokens ...string) map[string]bool {
	set := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		set[strings.ToLower(tok)] = true
	}
	return set
}

var tokenSplitRx = regexp.MustCompile(`[\s._]+`)

// ParseFilename extracts one metadata guess from a file or directory base
// name (no extension).
func ParseFilename(base string) Metadata {
	var meta Metadata
	working := base

	if m := seasonEpisodeRx.FindStringSubmatchIndex(working); m != nil {
		season, _ := strconv.Atoi(working[m[2]:m[3]])
		episode, _ := strconv.Atoi(working[m[4]:m[5]])
		meta.Season = &season
		meta.Episode = &episode
		working = working[:m[0]]
	} else if m := crossEpisodeRx.FindStringSubmatchIndex(working); m != nil {
		season, _ := strconv.Atoi(working[m[2]:m[3]])
		episode, _ := strconv.Atoi(working[m[4]:m[5]])
		meta.Season = &season
		meta.Episode = &episode
		working = working[:m[0]]
	}

	if m := yearRx.FindStringSubmatchIndex(working); m != nil {
		year, _ := strconv.Atoi(working[m[2]:m[3]])
		meta.Year = &year
		working = working[:m[0]]
	}

	meta.Name = cleanTitle(working)
	return meta
}

// cleanTitle normalizes separators and cuts the title at the first
// release-junk token.
func cleanTitle(s string) string {
	s = strings.NewReplacer("(", " ", ")", " ", "[", " ", "]", " ").Replace(s)
	tokens := tokenSplitRx.Split(s, -1)

	var kept []string
	for _, tok := range tokens {
		trimmed := strings.Trim(tok, "-")
		if trimmed == "" {
			continue
		}
		if garbageTokens[strings.ToLower(trimmed)] {
			break
		}
		kept = append(kept, trimmed)
	}
	return strings.Join(kept, " ")
}

// Candidates derives the ordered metadata guesses for a media file path:
// the filename first, then the parent directories. For episodes whose
// filename lacks a usable show name, the grandparent (show directory)
// supplies it.
func Candidates(path string) []Metadata {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	primary := ParseFilename(base)

	var candidates []Metadata
	if primary.Name != "" {
		candidates = append(candidates, primary)
	}

	parent := filepath.Base(filepath.Dir(path))
	if parent != "." && parent != string(filepath.Separator) {
		fromParent := ParseFilename(parent)
		if primary.IsEpisode() {
			// Season directories ("Season 1", "S02") name nothing useful;
			// walk up once more for the show directory.
			if isSeasonDir(parent) {
				fromParent = ParseFilename(filepath.Base(filepath.Dir(filepath.Dir(path))))
			}
			fromParent.Season = primary.Season
			fromParent.Episode = primary.Episode
		}
		if fromParent.Name != "" && !sameGuess(fromParent, primary) {
			candidates = append(candidates, fromParent)
		}
	}

	return candidates
}

var seasonDirRx = regexp.MustCompile(`(?i)^(?:season[\s._-]*\d+|s\d{1,3}|specials?)$`)

func isSeasonDir(name string) bool {
	return seasonDirRx.MatchString(name)
}

func sameGuess(a, b Metadata) bool {
	return a.Name == b.Name && intPtrEq(a.Year, b.Year) &&
		intPtrEq(a.Season, b.Season) && intPtrEq(a.Episode, b.Episode)
}

func intPtrEq(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
