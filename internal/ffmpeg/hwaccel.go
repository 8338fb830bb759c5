package ffmpeg

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// HWAccelType represents a hardware acceleration method.
type HWAccelType string

const (
	HWAccelNone  HWAccelType = "none"
	HWAccelVAAPI HWAccelType = "vaapi"
	HWAccelCUDA  HWAccelType = "cuda"
	HWAccelQSV   HWAccelType = "qsv"
)

// HWAccelDetector detects hardware acceleration support of the local
// ffmpeg build. Results are cached for the process lifetime; the binary
// does not change underneath a running server.
type HWAccelDetector struct {
	ffmpegPath string

	mu       sync.Mutex
	detected bool
	accels   map[HWAccelType]bool
}

// NewHWAccelDetector creates a new hardware acceleration detector.
func NewHWAccelDetector(ffmpegPath string) *HWAccelDetector {
	return &HWAccelDetector{ffmpegPath: ffmpegPath}
}

// Supports reports whether the ffmpeg build advertises the given method.
func (d *HWAccelDetector) Supports(ctx context.Context, accel HWAccelType) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.detected {
		accels, err := d.detect(ctx)
		if err != nil {
			return false, err
		}
		d.accels = accels
		d.detected = true
	}
	return d.accels[accel], nil
}

// detect lists hwaccels from the ffmpeg binary.
func (d *HWAccelDetector) detect(ctx context.Context) (map[HWAccelType]bool, error) {
	cmd := exec.CommandContext(ctx, d.ffmpegPath, "-hide_banner", "-hwaccels")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("listing hwaccels: %w", err)
	}

	accels := make(map[HWAccelType]bool)
	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "Hardware acceleration methods") {
			continue
		}
		accels[HWAccelType(line)] = true
	}
	return accels, nil
}
