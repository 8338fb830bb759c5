package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lumoware/lumo/internal/ffmpeg"
	"github.com/lumoware/lumo/internal/models"
	"github.com/lumoware/lumo/internal/repository"
	"github.com/lumoware/lumo/internal/streaming"
)

// StreamHandler serves the streaming surface: group manifests, DASH
// segments, subtitles and per-group state operations.
type StreamHandler struct {
	manager *streaming.Manager
	prober  *ffmpeg.Prober
	files   repository.MediaFileRepository
	logger  *slog.Logger
}

// NewStreamHandler creates a stream handler.
func NewStreamHandler(manager *streaming.Manager, prober *ffmpeg.Prober, files repository.MediaFileRepository, logger *slog.Logger) *StreamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHandler{
		manager: manager,
		prober:  prober,
		files:   files,
		logger:  logger.With(slog.String("component", "http")),
	}
}

// Register mounts the stream routes.
func (h *StreamHandler) Register(r chi.Router) {
	// The first path segment is a media file id for manifest, a group id
	// for manifest.mpd and state, and a stream id for data. Chi requires a
	// single wildcard name per position.
	r.Route("/stream/{id}", func(r chi.Router) {
		r.Get("/manifest", h.getManifest)
		r.Get("/manifest.mpd", h.getManifestMPD)

		r.Get("/data/init.mp4", h.getInit)
		r.Get("/data/stream.vtt", h.getSubtitle)
		r.Get("/data/stream.ass", h.getSubtitle)
		r.Get("/data/{chunk}.m4s", h.getChunk)

		r.Get("/state/should_hard_seek/{chunk}", h.getShouldHardSeek)
		r.Get("/state/get_stderr", h.getStderr)
		r.Get("/state/kill", h.kill)
	})
}

// manifestResponse is the JSON body of the manifest route.
type manifestResponse struct {
	GID      string                       `json:"gid"`
	Tracks   []*streaming.VirtualManifest `json:"tracks"`
	Duration float64                      `json:"duration"`
}

// getManifest returns the manifest group for a media file, creating it
// when no gid is supplied.
func (h *StreamHandler) getManifest(w http.ResponseWriter, r *http.Request) {
	if raw := r.URL.Query().Get("gid"); raw != "" {
		gid, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid gid")
			return
		}
		group, err := h.manager.Group(gid)
		if err != nil {
			writeError(w, http.StatusNotFound, "unknown group")
			return
		}
		writeJSON(w, http.StatusOK, manifestResponse{
			GID:      gid.String(),
			Tracks:   group.Manifests,
			Duration: group.Duration,
		})
		return
	}

	fileID, err := models.ParseULID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid media file id")
		return
	}
	file, err := h.files.GetByID(r.Context(), fileID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if file == nil {
		writeError(w, http.StatusNotFound, "no media file found")
		return
	}
	if _, err := os.Stat(file.TargetFile); err != nil {
		writeError(w, http.StatusNotFound, "file does not exist")
		return
	}

	// Probe fresh on every session establishment; the file may have
	// changed since the library scan.
	info, err := h.prober.Probe(r.Context(), file.TargetFile)
	if err != nil {
		h.logger.Warn("probe failed",
			slog.String("file", file.TargetFile),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusUnprocessableEntity, "probe failed")
		return
	}

	opts := streaming.GroupOptions{
		ForceASS: r.URL.Query().Get("force_ass") == "true",
	}
	gid, group, err := h.manager.CreateGroup(info, file.TargetFile, opts)
	if err != nil {
		h.logger.Error("group creation failed",
			slog.String("file", file.TargetFile),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "group creation failed")
		return
	}

	writeJSON(w, http.StatusOK, manifestResponse{
		GID:      gid.String(),
		Tracks:   group.Manifests,
		Duration: group.Duration,
	})
}

// getManifestMPD compiles a DASH manifest for the group. Unless
// should_kill=false, the group's subtitle sessions are stopped first:
// clients fetching the MPD have the sidecar files already.
func (h *StreamHandler) getManifestMPD(w http.ResponseWriter, r *http.Request) {
	gid, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid gid")
		return
	}
	group, err := h.manager.Group(gid)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown group")
		return
	}

	if r.URL.Query().Get("should_kill") != "false" {
		_ = h.manager.KillGroupSubtitles(gid)
	}

	startNum, _ := strconv.ParseUint(r.URL.Query().Get("start_num"), 10, 32)

	manifests := group.Manifests
	if includes := r.URL.Query().Get("includes"); includes != "" {
		wanted := make(map[string]bool)
		for _, id := range strings.Split(includes, ",") {
			wanted[strings.TrimSpace(id)] = true
		}
		filtered := make([]*streaming.VirtualManifest, 0, len(manifests))
		for _, vm := range manifests {
			if wanted[vm.ID] {
				filtered = append(filtered, vm)
			}
		}
		manifests = filtered
	}

	body, err := compileMPD(manifests, group.Duration, uint32(startNum))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "manifest compilation failed")
		return
	}

	w.Header().Set("Content-Type", "application/dash+xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// getInit serves the init segment, spawning the encoder at start_num.
func (h *StreamHandler) getInit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	startNum, _ := strconv.ParseUint(r.URL.Query().Get("start_num"), 10, 32)

	path, err := h.manager.ChunkInitRequest(r.Context(), id, uint32(startNum))
	if err != nil {
		h.writeStreamError(w, err)
		return
	}
	http.ServeFile(w, r, path)
}

// getChunk serves one DASH segment, waiting for it to be produced.
func (h *StreamHandler) getChunk(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	n, err := strconv.ParseUint(chi.URLParam(r, "chunk"), 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid chunk number")
		return
	}

	path, err := h.manager.ChunkRequest(r.Context(), id, uint32(n))
	if err != nil {
		h.writeStreamError(w, err)
		return
	}
	http.ServeFile(w, r, path)
}

// getSubtitle serves a produced subtitle sidecar, starting the extract
// session on first access.
func (h *StreamHandler) getSubtitle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	name := strings.TrimPrefix(r.URL.Path, "/stream/"+id+"/data/")

	path, err := h.manager.GetSub(r.Context(), id, name)
	if err != nil {
		h.writeStreamError(w, err)
		return
	}
	http.ServeFile(w, r, path)
}

// getShouldHardSeek reports whether requesting the chunk would restart
// any of the group's A/V encoders.
func (h *StreamHandler) getShouldHardSeek(w http.ResponseWriter, r *http.Request) {
	gid, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid gid")
		return
	}
	n, err := strconv.ParseUint(chi.URLParam(r, "chunk"), 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid chunk number")
		return
	}

	group, err := h.manager.Group(gid)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown group")
		return
	}

	should := false
	for _, vm := range group.Manifests {
		if vm.ContentType == streaming.ContentSubtitle {
			continue
		}
		seek, err := h.manager.ShouldHardSeek(vm.ID, uint32(n))
		if err != nil {
			continue
		}
		if seek {
			should = true
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"should_client_seek": should})
}

// getStderr collects the recent encoder stderr of every session in the
// group.
func (h *StreamHandler) getStderr(w http.ResponseWriter, r *http.Request) {
	gid, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid gid")
		return
	}
	group, err := h.manager.Group(gid)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown group")
		return
	}

	var outputs []string
	for _, vm := range group.Manifests {
		text, err := h.manager.GetStderr(vm.ID)
		if err != nil || text == "" {
			continue
		}
		outputs = append(outputs, text)
	}
	writeJSON(w, http.StatusOK, map[string][]string{"errors": outputs})
}

// kill stops the whole group.
func (h *StreamHandler) kill(w http.ResponseWriter, r *http.Request) {
	gid, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid gid")
		return
	}
	if err := h.manager.KillGroup(gid); err != nil {
		writeError(w, http.StatusNotFound, "unknown group")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeStreamError maps session manager errors onto HTTP statuses.
func (h *StreamHandler) writeStreamError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, streaming.ErrChunkNotDone):
		writeError(w, http.StatusNotFound, "chunk not done")
	case errors.Is(err, streaming.ErrUnknownStream):
		writeError(w, http.StatusNotFound, "unknown stream")
	case errors.Is(err, streaming.ErrSessionErrored):
		writeError(w, http.StatusInternalServerError, "session errored")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
