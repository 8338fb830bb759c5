package streaming

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubEncoderProduce mimics an encoder run: it picks -start_number and the
// output directory out of the argv, writes init.mp4 plus five segments and
// exits cleanly.
const stubEncoderProduce = `#!/bin/sh
start=0
prev=""
for a in "$@"; do
	[ "$prev" = "-start_number" ] && start=$a
	prev="$a"
	last=$a
done
dir=$(dirname "$last")
printf seg > "$dir/init.mp4"
i=0
while [ "$i" -lt 5 ]; do
	printf seg > "$dir/$((start+i)).m4s"
	i=$((i+1))
done
exit 0
`

// stubEncoderFail always exits with an error after complaining on stderr.
const stubEncoderFail = `#!/bin/sh
echo "no suitable encoder" >&2
exit 1
`

// stubEncoderNoVAAPI fails when asked for hardware acceleration and
// otherwise produces segments like stubEncoderProduce.
const stubEncoderNoVAAPI = `#!/bin/sh
start=0
prev=""
for a in "$@"; do
	[ "$a" = "vaapi" ] && exit 1
	[ "$prev" = "-start_number" ] && start=$a
	prev="$a"
	last=$a
done
dir=$(dirname "$last")
printf seg > "$dir/init.mp4"
i=0
while [ "$i" -lt 5 ]; do
	printf seg > "$dir/$((start+i)).m4s"
	i=$((i+1))
done
exit 0
`

// stubEncoderSidecar writes its last argument as a subtitle sidecar.
const stubEncoderSidecar = `#!/bin/sh
for a in "$@"; do last=$a; done
printf 'WEBVTT' > "$last"
exit 0
`

func writeStubEncoder(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func testManager(t *testing.T, script string, mutate func(*Config)) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.StateDir = t.TempDir()
	cfg.FFmpegBin = writeStubEncoder(t, script)
	cfg.TargetGOP = time.Second
	cfg.HardSeekDistance = 10
	cfg.MaxEncoders = 2
	cfg.ReapInterval = time.Hour
	if mutate != nil {
		mutate(&cfg)
	}
	m := NewManager(cfg, nil)
	t.Cleanup(m.Shutdown)
	return m
}

func transmuxContext() ProfileContext {
	return ProfileContext{
		InputFile:   "/media/example.mkv",
		InputStream: 0,
		OutputCodec: "copy",
	}
}

func TestChunkRequestSpawnsEncoder(t *testing.T) {
	m := testManager(t, stubEncoderProduce, nil)

	id, err := m.Create([]Profile{{Kind: Transmux}}, transmuxContext())
	require.NoError(t, err)

	started, err := m.HasStarted(id)
	require.NoError(t, err)
	assert.False(t, started, "creation alone must not spawn")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	path, err := m.ChunkRequest(ctx, id, 0)
	require.NoError(t, err)
	assert.Equal(t, "0.m4s", filepath.Base(path))
	assert.FileExists(t, path)

	started, err = m.HasStarted(id)
	require.NoError(t, err)
	assert.True(t, started)

	initPath, err := m.ChunkInitRequest(ctx, id, 0)
	require.NoError(t, err)
	assert.FileExists(t, initPath)

	// The stub exits cleanly after producing its segments.
	require.Eventually(t, func() bool {
		done, err := m.IsDone(id)
		return err == nil && done
	}, 5*time.Second, 50*time.Millisecond)

	// After a clean exit the final produced segment is servable too.
	path, err = m.ChunkRequest(ctx, id, 4)
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestChunkBeyondWindowHardSeeks(t *testing.T) {
	m := testManager(t, stubEncoderProduce, nil)

	id, err := m.Create([]Profile{{Kind: Transmux}}, transmuxContext())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	first, err := m.ChunkRequest(ctx, id, 0)
	require.NoError(t, err)
	assert.FileExists(t, first)

	seek, err := m.ShouldHardSeek(id, 50)
	require.NoError(t, err)
	assert.True(t, seek, "chunk 50 lies past the forward window")

	path, err := m.ChunkRequest(ctx, id, 50)
	require.NoError(t, err)
	assert.Equal(t, "50.m4s", filepath.Base(path))
	assert.FileExists(t, path)

	// The restart swept the old run's segments.
	assert.NoFileExists(t, first)

	seek, err = m.ShouldHardSeek(id, 52)
	require.NoError(t, err)
	assert.False(t, seek, "chunk 52 is inside the new window")
}

func TestShouldHardSeekBeforeStart(t *testing.T) {
	m := testManager(t, stubEncoderProduce, nil)

	id, err := m.Create([]Profile{{Kind: Transmux}}, transmuxContext())
	require.NoError(t, err)

	seek, err := m.ShouldHardSeek(id, 99)
	require.NoError(t, err)
	assert.False(t, seek, "idle sessions start wherever the first request lands")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_, err = m.ChunkRequest(ctx, id, 20)
	require.NoError(t, err)

	seek, err = m.ShouldHardSeek(id, 5)
	require.NoError(t, err)
	assert.True(t, seek, "seeking backwards always restarts")
}

func TestChainFallsBackToSoftware(t *testing.T) {
	m := testManager(t, stubEncoderNoVAAPI, func(cfg *Config) {
		cfg.EnableHWAccel = true
		cfg.HWDevice = "/dev/dri/renderD128"
	})

	chain := []Profile{{Kind: HardwareTranscode}, {Kind: Transcode}}
	id, err := m.Create(chain, ProfileContext{
		InputFile:   "/media/example.mkv",
		OutputCodec: "libx264",
		Bitrate:     4_000_000,
		Height:      720,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	path, err := m.ChunkRequest(ctx, id, 0)
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestChainExhaustedErrorsSession(t *testing.T) {
	m := testManager(t, stubEncoderFail, nil)

	id, err := m.Create([]Profile{{Kind: Transmux}}, transmuxContext())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	_, err = m.ChunkRequest(ctx, id, 0)
	require.ErrorIs(t, err, ErrSessionErrored)

	// The failed encoder's stderr stays retrievable for diagnostics.
	stderr, err := m.GetStderr(id)
	require.NoError(t, err)
	assert.Contains(t, stderr, "no suitable encoder")
}

func TestErroredSessionRefusesLeftoverSegments(t *testing.T) {
	m := testManager(t, stubEncoderFail, nil)

	id, err := m.Create([]Profile{{Kind: Transmux}}, transmuxContext())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	_, err = m.ChunkRequest(ctx, id, 0)
	require.ErrorIs(t, err, ErrSessionErrored)

	// Segments a dying child managed to flush must not be served once
	// the chain is exhausted.
	s, err := m.session(id)
	require.NoError(t, err)
	for _, name := range []string{"0.m4s", "1.m4s"} {
		require.NoError(t, os.WriteFile(filepath.Join(s.outdir, name), []byte("x"), 0o644))
	}

	_, err = m.ChunkRequest(ctx, id, 0)
	require.ErrorIs(t, err, ErrSessionErrored)
}

func TestCreateRejectsInapplicableChain(t *testing.T) {
	m := testManager(t, stubEncoderProduce, nil)

	// A transmux profile cannot serve a transcode context.
	_, err := m.Create([]Profile{{Kind: Transmux}}, ProfileContext{
		InputFile:   "/media/example.mkv",
		OutputCodec: "libx264",
	})
	assert.ErrorIs(t, err, ErrNoProfileApplicable)
}

func TestStreamIDsUnique(t *testing.T) {
	m := testManager(t, stubEncoderProduce, nil)

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		id, err := m.Create([]Profile{{Kind: Transmux}}, transmuxContext())
		require.NoError(t, err)
		assert.False(t, seen[id], "stream id %s reused", id)
		seen[id] = true
	}
}

func TestDieIsIdempotent(t *testing.T) {
	m := testManager(t, stubEncoderProduce, nil)

	id, err := m.Create([]Profile{{Kind: Transmux}}, transmuxContext())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_, err = m.ChunkRequest(ctx, id, 0)
	require.NoError(t, err)

	require.NoError(t, m.Die(id))
	require.NoError(t, m.Die(id))

	// A stopped session refuses new work but keeps its identity known.
	_, err = m.ChunkRequest(ctx, id, 20)
	assert.ErrorIs(t, err, ErrUnknownStream)
}

func TestUnknownStream(t *testing.T) {
	m := testManager(t, stubEncoderProduce, nil)

	ctx := context.Background()
	_, err := m.ChunkRequest(ctx, "no-such-stream", 0)
	assert.ErrorIs(t, err, ErrUnknownStream)

	_, err = m.GetStderr("no-such-stream")
	assert.ErrorIs(t, err, ErrUnknownStream)

	err = m.Die("no-such-stream")
	assert.ErrorIs(t, err, ErrUnknownStream)
}

func TestGetSub(t *testing.T) {
	m := testManager(t, stubEncoderSidecar, nil)

	id, err := m.Create([]Profile{{Kind: SubtitleExtract}}, ProfileContext{
		InputFile:      "/media/example.mkv",
		InputStream:    2,
		SubtitleFormat: "webvtt",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer cancel()

	path, err := m.GetSub(ctx, id, "stream.vtt")
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "WEBVTT", string(data))

	_, err = m.GetSub(ctx, id, "../escape.vtt")
	assert.Error(t, err)
}

func TestReapPausesAndDeletes(t *testing.T) {
	m := testManager(t, stubEncoderProduce, func(cfg *Config) {
		cfg.ReapInterval = 20 * time.Millisecond
		cfg.IdlePauseAfter = 50 * time.Millisecond
		cfg.IdleDeleteAfter = 300 * time.Millisecond
	})

	id, err := m.Create([]Profile{{Kind: Transmux}}, transmuxContext())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	path, err := m.ChunkRequest(ctx, id, 0)
	require.NoError(t, err)

	s, err := m.session(id)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return s.State() == StatePaused
	}, 5*time.Second, 20*time.Millisecond, "idle session should pause")
	assert.FileExists(t, path, "pausing keeps the outdir")

	require.Eventually(t, func() bool {
		_, err := m.session(id)
		return err != nil
	}, 5*time.Second, 20*time.Millisecond, "expired session should be removed")
	assert.NoFileExists(t, path, "deletion removes the outdir")
}
