package streaming

// QualityRung is one target of the adaptive ladder.
type QualityRung struct {
	// Height is the output frame height.
	Height int
	// Bitrate is the effective target bitrate in bits/second.
	Bitrate int
	// SourceEqual marks the rung that mirrors the source dimensions.
	SourceEqual bool
}

// ladder is the fixed resolution ladder with per-rung target bitrates.
var ladder = []QualityRung{
	{Height: 2160, Bitrate: 24_000_000},
	{Height: 1440, Bitrate: 12_000_000},
	{Height: 1080, Bitrate: 8_000_000},
	{Height: 720, Bitrate: 4_000_000},
	{Height: 480, Bitrate: 2_000_000},
	{Height: 360, Bitrate: 1_000_000},
}

// Ladder derives output qualities from the source height and bitrate:
// the fixed rungs at or below the source in both dimensions, plus one
// source-equal rung. The effective bitrate of a rung never exceeds the
// source bitrate.
func Ladder(sourceHeight, sourceBitrate int) []QualityRung {
	effective := sourceBitrate
	if effective == 0 {
		// Unknown source bitrate: fall back to the nearest ladder target.
		effective = nearestLadderBitrate(sourceHeight)
	}

	rungs := []QualityRung{{Height: sourceHeight, Bitrate: effective, SourceEqual: true}}
	for _, r := range ladder {
		if r.Height > sourceHeight || r.Bitrate > effective {
			continue
		}
		// Skip the rung that would duplicate the source-equal rung.
		if r.Height == sourceHeight && r.Bitrate == effective {
			continue
		}
		rungs = append(rungs, r)
	}
	return rungs
}

// nearestLadderBitrate returns the target bitrate of the smallest ladder
// rung at or above the given height.
func nearestLadderBitrate(height int) int {
	best := ladder[0].Bitrate
	for _, r := range ladder {
		if r.Height >= height {
			best = r.Bitrate
		}
	}
	return best
}
