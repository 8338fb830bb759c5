package http

import (
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/lumoware/lumo/internal/version"
)

type healthResponse struct {
	Status        string  `json:"status"`
	Version       string  `json:"version"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Load1         float64 `json:"load_1,omitempty"`
	MemoryUsedPct float64 `json:"memory_used_pct,omitempty"`
}

// healthHandler answers liveness probes with coarse host stats.
type healthHandler struct {
	startTime time.Time
}

func newHealthHandler() *healthHandler {
	return &healthHandler{startTime: time.Now()}
}

func (h *healthHandler) get(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:        "ok",
		Version:       version.Version,
		UptimeSeconds: time.Since(h.startTime).Seconds(),
	}
	if avg, err := load.Avg(); err == nil {
		resp.Load1 = avg.Load1
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		resp.MemoryUsedPct = vm.UsedPercent
	}
	writeJSON(w, http.StatusOK, resp)
}
