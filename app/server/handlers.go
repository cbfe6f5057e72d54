package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/google/uuid"
	"github.com/invopop/jsonschema"

	"github.com/seawatch/reportd/app/guard"
	"github.com/seawatch/reportd/app/pool"
	"github.com/seawatch/reportd/app/report"
	"github.com/seawatch/reportd/app/report/charts"
	"github.com/seawatch/reportd/app/report/pdf"
	"github.com/seawatch/reportd/app/server/persistence"
)

// report flavors
const (
	flavorSightings  = "sightings"
	flavorReportings = "reportings"
)

// outputGrace protects PDFs still being streamed by concurrent workers
// from the pre-generation output sweep
const outputGrace = time.Minute

var errNoCharts = errors.New("no charts generated, check your data contains valid fields")

// handleIndex answers the root liveness endpoint
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	// the root route also catches unknown paths, keep those 404
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	rest.RenderJSON(w, rest.JSON{"message": "SERVER IS RUNNING"})
}

// handleGenerateSightings generates a PDF report for sightings data
func (s *Server) handleGenerateSightings(w http.ResponseWriter, r *http.Request) {
	s.generateReport(w, r, flavorSightings)
}

// handleGenerateReportings generates a PDF report for reportings data
func (s *Server) handleGenerateReportings(w http.ResponseWriter, r *http.Request) {
	s.generateReport(w, r, flavorReportings)
}

// handleSchema returns the JSON schema of the observation payload
func (s *Server) handleSchema(w http.ResponseWriter, _ *http.Request) {
	rest.RenderJSON(w, jsonschema.Reflect(&report.Observation{}))
}

// buildOut carries results from the pooled job back to the handler
type buildOut struct {
	pdfPath string
	charts  int
}

func (s *Server) generateReport(w http.ResponseWriter, r *http.Request, flavor string) {
	if s.guard.Enabled() {
		if ok, reason := guard.Check(s.guard); !ok {
			rest.SendErrorJSON(w, r, log.Default(), http.StatusServiceUnavailable,
				errors.New(reason), "server is overloaded, try again later")
			return
		}
	}

	body, err := s.payload(r)
	if err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, err, "failed to read report data")
		return
	}

	observations, err := report.Parse(body)
	if err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, err, "invalid report data")
		return
	}
	if len(observations) > s.maxObservations {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest,
			fmt.Errorf("too many observations, maximum %d allowed", s.maxObservations), "invalid report data")
		return
	}

	reportID := uuid.New().String()
	started := time.Now()

	// the result travels over a buffered channel rather than a shared
	// variable: an abandoned worker may still be running the closure after
	// Submit returns with a timeout
	resCh := make(chan buildOut, 1)
	err = s.pool.Submit(r.Context(), func(ctx context.Context) error {
		res, buildErr := s.buildReport(ctx, reportID, flavor, observations)
		resCh <- res
		return buildErr
	})

	var out buildOut
	select {
	case out = <-resCh:
	default: // timed out or cancelled, the abandoned job still owns its result
	}

	s.record(persistence.ReportRecord{
		ID:           reportID,
		Flavor:       flavor,
		Observations: len(observations),
		Charts:       out.charts,
		SizeBytes:    fileSize(out.pdfPath),
		DurationMs:   time.Since(started).Milliseconds(),
		Status:       recordStatus(err),
		Error:        recordError(err),
	})

	if err != nil {
		if s.notifier != nil {
			s.notifier.OnFailure(r.Context(), flavor, err)
		}
		s.sendBuildError(w, r, err)
		return
	}

	log.Printf("[INFO] %s report %s generated, %d observations, %d charts, took %v",
		flavor, reportID, len(observations), out.charts, time.Since(started).Round(time.Millisecond))

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", reportID+".pdf"))
	http.ServeFile(w, r, out.pdfPath)
}

// buildReport runs inside a pool worker: render charts into a dedicated
// temp workspace, assemble the PDF in the output dir, drop the workspace.
func (s *Server) buildReport(ctx context.Context, reportID, flavor string, observations []report.Observation) (buildOut, error) {
	workDir := filepath.Join(s.tempDir, reportID)
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			log.Printf("[WARN] failed to remove chart workspace %s: %v", workDir, err)
		}
	}()

	gen := charts.Generator{Dir: workDir, Style: s.chartStyle}
	var res charts.Result
	var err error
	if flavor == flavorReportings {
		res, err = gen.Reportings(ctx, observations)
	} else {
		res, err = gen.Sightings(ctx, observations)
	}
	if err != nil {
		return buildOut{}, fmt.Errorf("chart generation failed: %w", err)
	}
	if len(res.Files) == 0 {
		return buildOut{}, errNoCharts
	}

	s.cleanOutput()

	title := "Sightings Report"
	if flavor == flavorReportings {
		title = "Reportings Report"
	}
	pdfPath := filepath.Join(s.outputDir, reportID+".pdf")
	err = pdf.Create(pdfPath, pdf.Params{
		Title:        title,
		Observations: len(observations),
		GeneratedAt:  time.Now(),
		Charts:       res.Files,
		Summaries:    res.Summaries,
	})
	if err != nil {
		return buildOut{charts: len(res.Files)}, fmt.Errorf("PDF generation failed: %w", err)
	}

	return buildOut{pdfPath: pdfPath, charts: len(res.Files)}, nil
}

// payload extracts the raw JSON document from the request: inline body for
// JSON requests, uploaded "file" field otherwise.
func (s *Server) payload(r *http.Request) ([]byte, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		return data, nil
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, errors.New("no data provided")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read uploaded file: %w", err)
	}
	return data, nil
}

// cleanOutput removes finished PDFs from the output directory before a new
// report lands there. Files younger than the grace window stay, they may
// still be streaming to another client.
func (s *Server) cleanOutput() {
	entries, err := os.ReadDir(s.outputDir)
	if err != nil {
		log.Printf("[WARN] failed to read output directory %s: %v", s.outputDir, err)
		return
	}

	cutoff := time.Now().Add(-outputGrace)
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(s.outputDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			log.Printf("[WARN] failed to delete %s: %v", path, err)
		}
	}
}

// sendBuildError maps pipeline failures to response codes: client data
// problems get 400, deadline and capacity problems 503, the rest 500.
func (s *Server) sendBuildError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errNoCharts):
		rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, err, "invalid report data")
	case errors.Is(err, pool.ErrTimeout):
		rest.SendErrorJSON(w, r, log.Default(), http.StatusServiceUnavailable, err, "report generation timed out")
	default:
		rest.SendErrorJSON(w, r, log.Default(), http.StatusInternalServerError, err, "report generation failed")
	}
}

func (s *Server) record(rec persistence.ReportRecord) {
	if err := s.store.RecordReport(rec); err != nil {
		log.Printf("[WARN] failed to record report %s: %v", rec.ID, err)
	}
}

func recordStatus(err error) string {
	if err != nil {
		return persistence.StatusFailed
	}
	return persistence.StatusOK
}

func recordError(err error) string {
	if err != nil {
		return err.Error()
	}
	return ""
}

func fileSize(path string) int64 {
	if path == "" {
		return 0
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
