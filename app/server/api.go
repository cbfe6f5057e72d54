package server

import (
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/seawatch/reportd/app/health"
	"github.com/seawatch/reportd/app/pool"
	"github.com/seawatch/reportd/app/server/persistence"
)

// APIStatusResponse is the JSON response for /api/v1/status
type APIStatusResponse struct {
	Service   APIServiceInfo     `json:"service"`
	Health    health.Status      `json:"health"`
	Workers   pool.Stats         `json:"workers"`
	Resources APIResources       `json:"resources"`
	Reports   persistence.Totals `json:"reports"`
	Timestamp time.Time          `json:"timestamp"`
}

// APIServiceInfo identifies the running service
type APIServiceInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// APIResources reports process and host resource usage
type APIResources struct {
	MemoryUsedPercent float64 `json:"memory_used_percent"`
	MemoryTotalMB     uint64  `json:"memory_total_mb"`
	LoadAvg1          float64 `json:"load_avg_1"`
	Goroutines        int     `json:"goroutines"`
}

// APIReportsResponse is the JSON response for /api/v1/reports
type APIReportsResponse struct {
	Reports []persistence.ReportRecord `json:"reports"`
	Count   int                        `json:"count"`
}

// handleStatus returns JSON service status - designed for CLI/jq consumption
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	totals, err := s.store.Totals()
	if err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusInternalServerError, err, "failed to get report totals")
		return
	}

	resp := APIStatusResponse{
		Service: APIServiceInfo{
			Name:    "reportd",
			Version: s.version,
			Uptime:  time.Since(s.started).Round(time.Second).String(),
		},
		Workers:   s.pool.Stats(),
		Resources: resources(),
		Reports:   totals,
		Timestamp: time.Now(),
	}
	if s.prober != nil {
		resp.Health = s.prober.Status()
	}

	rest.RenderJSON(w, resp)
}

// handleReports returns recent report history, newest first
func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err == nil && parsed <= 0 {
			err = fmt.Errorf("limit must be positive, got %d", parsed)
		}
		if err != nil {
			rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, err, "invalid limit")
			return
		}
		limit = parsed
	}
	if limit > 100 {
		limit = 100
	}

	reports, err := s.store.ListReports(limit)
	if err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusInternalServerError, err, "failed to list reports")
		return
	}

	rest.RenderJSON(w, APIReportsResponse{Reports: reports, Count: len(reports)})
}

// resources collects host metrics, tolerating partial failures so status
// never errors out on an exotic platform
func resources() APIResources {
	res := APIResources{Goroutines: runtime.NumGoroutine()}

	if v, err := mem.VirtualMemory(); err == nil {
		res.MemoryUsedPercent = v.UsedPercent
		res.MemoryTotalMB = v.Total / 1024 / 1024
	}
	if avg, err := load.Avg(); err == nil {
		res.LoadAvg1 = avg.Load1
	}
	return res
}
