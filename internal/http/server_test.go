package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/lumoware/lumo/internal/config"
	"github.com/lumoware/lumo/internal/ffmpeg"
	"github.com/lumoware/lumo/internal/models"
	"github.com/lumoware/lumo/internal/repository"
	"github.com/lumoware/lumo/internal/streaming"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Library{}, &models.MediaFile{}))
	return db
}

func testHandler(t *testing.T) (http.Handler, *streaming.Manager, *gorm.DB) {
	t.Helper()

	m := streaming.NewManager(streaming.Config{
		StateDir:         t.TempDir(),
		FFmpegBin:        "ffmpeg",
		TargetGOP:        time.Second,
		HardSeekDistance: 10,
		MaxEncoders:      2,
		ReapInterval:     time.Hour,
		IdlePauseAfter:   time.Hour,
		IdleDeleteAfter:  2 * time.Hour,
		StderrRingSize:   4096,
		DefaultQuality:   "direct",
	}, nil)
	t.Cleanup(m.Shutdown)

	db := testDB(t)
	files := repository.NewMediaFileRepository(db)
	streams := NewStreamHandler(m, ffmpeg.NewProber("ffprobe"), files, nil)
	srv := NewServer(config.ServerConfig{
		Host:            "127.0.0.1",
		Port:            8080,
		ShutdownTimeout: time.Second,
	}, streams, nil)
	return srv.srv.Handler, m, db
}

func doGET(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func groupProbe() *ffmpeg.MediaInfo {
	return &ffmpeg.MediaInfo{
		Format: ffmpeg.Format{Duration: "1800.0", BitRate: "6000000"},
		Streams: []ffmpeg.Stream{
			{
				Index: 0, CodecType: ffmpeg.StreamVideo, CodecName: "h264",
				Profile: "High", Level: 40, Width: 1920, Height: 1080,
				BitRate: "5000000",
			},
			{
				Index: 1, CodecType: ffmpeg.StreamAudio, CodecName: "aac",
				Channels:    2,
				Disposition: ffmpeg.Disposition{Default: 1},
				Tags:        map[string]string{"language": "eng"},
			},
			{
				Index: 2, CodecType: ffmpeg.StreamSubtitle, CodecName: "subrip",
				Tags: map[string]string{"language": "eng"},
			},
		},
	}
}

func TestHealthz(t *testing.T) {
	h, _, _ := testHandler(t)

	rec := doGET(t, h, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)

	var body healthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "dev", body.Version)
}

func TestManifestInvalidFileID(t *testing.T) {
	h, _, _ := testHandler(t)

	rec := doGET(t, h, "/stream/not-a-ulid/manifest")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestManifestUnknownGroup(t *testing.T) {
	h, _, _ := testHandler(t)

	rec := doGET(t, h, "/stream/x/manifest?gid="+uuid.NewString())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestManifestMissingFileOnDisk(t *testing.T) {
	h, _, db := testHandler(t)

	lib := &models.Library{Name: "Movies", Location: "/library", Kind: models.LibraryMovie}
	require.NoError(t, repository.NewLibraryRepository(db).Create(context.Background(), lib))

	files := repository.NewMediaFileRepository(db)
	file := &models.MediaFile{
		LibraryID:  lib.ID,
		TargetFile: "/nonexistent/movie.mkv",
		RawName:    "movie.mkv",
	}
	require.NoError(t, files.Create(context.Background(), file))

	rec := doGET(t, h, "/stream/"+file.ID.String()+"/manifest")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGroupLifecycle(t *testing.T) {
	h, m, _ := testHandler(t)

	gid, group, err := m.CreateGroup(groupProbe(), "/media/example.mkv", streaming.GroupOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, group.Manifests)

	// Manifest by gid.
	rec := doGET(t, h, "/stream/x/manifest?gid="+gid.String())
	require.Equal(t, http.StatusOK, rec.Code)
	var body manifestResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, gid.String(), body.GID)
	assert.Len(t, body.Tracks, len(group.Manifests))
	assert.InDelta(t, 1800.0, body.Duration, 0.001)

	// Compiled MPD. should_kill=false keeps the subtitle sessions alive.
	rec = doGET(t, h, "/stream/"+gid.String()+"/manifest.mpd?should_kill=false")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/dash+xml", rec.Header().Get("Content-Type"))
	mpd := rec.Body.String()
	assert.Contains(t, mpd, "SegmentTemplate")
	assert.Contains(t, mpd, "avc1.")
	assert.Contains(t, mpd, `mediaPresentationDuration="PT1800.000S"`)

	// Idle sessions never demand a client seek.
	rec = doGET(t, h, "/stream/"+gid.String()+"/state/should_hard_seek/5")
	require.Equal(t, http.StatusOK, rec.Code)
	var seek map[string]bool
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&seek))
	assert.False(t, seek["should_client_seek"])

	rec = doGET(t, h, "/stream/"+gid.String()+"/state/get_stderr")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doGET(t, h, "/stream/"+gid.String()+"/state/kill")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doGET(t, h, "/stream/"+gid.String()+"/state/kill")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMPDIncludesFilter(t *testing.T) {
	h, m, _ := testHandler(t)

	gid, group, err := m.CreateGroup(groupProbe(), "/media/example.mkv", streaming.GroupOptions{})
	require.NoError(t, err)

	var video, audio *streaming.VirtualManifest
	for _, vm := range group.Manifests {
		switch vm.ContentType {
		case streaming.ContentVideo:
			if video == nil {
				video = vm
			}
		case streaming.ContentAudio:
			if audio == nil {
				audio = vm
			}
		}
	}
	require.NotNil(t, video)
	require.NotNil(t, audio)

	rec := doGET(t, h, "/stream/"+gid.String()+"/manifest.mpd?should_kill=false&includes="+video.ID)
	require.Equal(t, http.StatusOK, rec.Code)
	mpd := rec.Body.String()
	assert.Contains(t, mpd, video.ID)
	assert.NotContains(t, mpd, audio.ID)
}

func TestChunkUnknownStream(t *testing.T) {
	h, _, _ := testHandler(t)

	rec := doGET(t, h, "/stream/"+uuid.NewString()+"/data/3.m4s")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChunkInvalidNumber(t *testing.T) {
	h, _, _ := testHandler(t)

	rec := doGET(t, h, "/stream/x/data/abc.m4s")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStateInvalidGID(t *testing.T) {
	h, _, _ := testHandler(t)

	for _, path := range []string{
		"/stream/nope/state/should_hard_seek/1",
		"/stream/nope/state/get_stderr",
		"/stream/nope/state/kill",
	} {
		rec := doGET(t, h, path)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestRequestIDGenerated(t *testing.T) {
	h, _, _ := testHandler(t)

	rec := doGET(t, h, "/healthz")
	id := rec.Header().Get("X-Request-ID")
	require.NotEmpty(t, id)
	_, err := uuid.Parse(strings.TrimSpace(id))
	assert.NoError(t, err)
}
