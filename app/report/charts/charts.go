// Package charts aggregates observations into bar charts rendered as PNG
// files, one set for sightings reports and one for reportings reports.
// Every chart also yields an ordered summary table for the PDF.
package charts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
	"gopkg.in/yaml.v3"

	"github.com/seawatch/reportd/app/report"
)

// Row is a single summary table entry.
type Row struct {
	Category string
	Count    int
}

// Summary is the table rendered under a chart in the PDF.
type Summary struct {
	Title string
	Rows  []Row
}

// Result holds rendered chart files with their summaries, index-aligned.
type Result struct {
	Files     []string
	Summaries []Summary
}

// Style controls chart appearance. Colors map chart keys (monthly, blocks,
// districts, waterbodies, weather, threats, agegroups, species, status,
// causes) to hex values; unknown keys fall back to the default palette.
type Style struct {
	Width    int               `yaml:"width"`
	Height   int               `yaml:"height"`
	BarWidth int               `yaml:"bar_width"`
	Colors   map[string]string `yaml:"colors"`
}

// DefaultStyle returns the stock palette and dimensions.
func DefaultStyle() Style {
	return Style{
		Width:    800,
		Height:   500,
		BarWidth: 40,
		Colors: map[string]string{
			"monthly":     "87ceeb", // skyblue
			"blocks":      "1f77b4",
			"districts":   "4682b4", // steelblue
			"waterbodies": "008080", // teal
			"species":     "008080",
			"weather":     "ff7f50", // coral
			"status":      "ff7f50",
			"threats":     "cd5c5c", // indianred
			"causes":      "cd5c5c",
			"agegroups":   "3cb371", // mediumseagreen
		},
	}
}

// LoadStyle reads a style override file and merges it over the defaults.
func LoadStyle(path string) (Style, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path comes from operator config
	if err != nil {
		return Style{}, fmt.Errorf("failed to read style file %q: %w", path, err)
	}

	var override Style
	if err := yaml.Unmarshal(data, &override); err != nil {
		return Style{}, fmt.Errorf("failed to parse style file %q: %w", path, err)
	}

	res := DefaultStyle()
	if override.Width > 0 {
		res.Width = override.Width
	}
	if override.Height > 0 {
		res.Height = override.Height
	}
	if override.BarWidth > 0 {
		res.BarWidth = override.BarWidth
	}
	for k, v := range override.Colors {
		res.Colors[k] = v
	}
	return res, nil
}

// Generator renders charts for one report into a dedicated directory.
// The directory is owned by the caller, typically temp/<report-id>.
type Generator struct {
	Dir   string
	Style Style
}

// barSpec describes one chart to render
type barSpec struct {
	name    string // file name without extension
	key     string // palette key
	title   string
	wide    bool // monthly charts get extra width for the long labels
	labels  []string
	counts  []int
	summary Summary
}

// render draws a single bar chart to <dir>/<name>.png
func (g *Generator) render(spec barSpec) (string, error) {
	if len(spec.labels) == 0 {
		return "", fmt.Errorf("chart %s has no data", spec.name)
	}

	fill := drawing.ColorFromHex(g.Style.Colors[spec.key])
	if g.Style.Colors[spec.key] == "" {
		fill = drawing.ColorFromHex("1f77b4")
	}

	bars := make([]chart.Value, 0, len(spec.labels))
	for i, label := range spec.labels {
		bars = append(bars, chart.Value{
			Label: label,
			Value: float64(spec.counts[i]),
			Style: chart.Style{FillColor: fill, StrokeColor: fill},
		})
	}

	width := g.Style.Width
	if spec.wide {
		width += g.Style.Width / 4
	}

	graph := chart.BarChart{
		Title:      spec.title,
		Width:      width,
		Height:     g.Style.Height,
		BarWidth:   g.Style.BarWidth,
		BarSpacing: 20,
		Background: chart.Style{Padding: chart.Box{Top: 50, Bottom: 20}},
		XAxis:      chart.Style{TextRotationDegrees: 45},
		Bars:       bars,
	}

	path := filepath.Join(g.Dir, spec.name+".png")
	fh, err := os.Create(path) // #nosec G304 - name is a fixed chart identifier
	if err != nil {
		return "", fmt.Errorf("failed to create chart file %s: %w", path, err)
	}
	defer fh.Close()

	if err := graph.Render(chart.PNG, fh); err != nil {
		return "", fmt.Errorf("failed to render chart %s: %w", spec.name, err)
	}
	if err := fh.Close(); err != nil {
		return "", fmt.Errorf("failed to write chart %s: %w", path, err)
	}
	return path, nil
}

// generate renders all non-empty specs, checking ctx between charts so a
// timed-out job stops instead of burning a worker on remaining charts.
func (g *Generator) generate(ctx context.Context, specs []barSpec) (Result, error) {
	if err := os.MkdirAll(g.Dir, 0o750); err != nil {
		return Result{}, fmt.Errorf("failed to create chart directory %s: %w", g.Dir, err)
	}

	res := Result{}
	for _, spec := range specs {
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("chart generation interrupted: %w", err)
		}
		if len(spec.labels) == 0 {
			continue // nothing to plot for this chart
		}
		path, err := g.render(spec)
		if err != nil {
			// a single broken chart doesn't sink the report, same as the
			// other charts still render when one aggregation is empty
			log.Printf("[WARN] %v", err)
			continue
		}
		res.Files = append(res.Files, path)
		res.Summaries = append(res.Summaries, spec.summary)
	}
	return res, nil
}

// counter accumulates category frequencies preserving nothing; ordering is
// applied by the sort helpers below.
type counter map[string]int

func (c counter) add(key string) { c[key]++ }

// byCountDesc returns rows ordered by count descending, category ascending
// on ties, the ordering used by every non-chronological summary.
func (c counter) byCountDesc() []Row {
	rows := make([]Row, 0, len(c))
	for k, v := range c {
		rows = append(rows, Row{Category: k, Count: v})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].Category < rows[j].Category
	})
	return rows
}

// byKeyAsc returns rows ordered by category ascending (chronological for
// the YYYY-MM month keys).
func (c counter) byKeyAsc() []Row {
	rows := make([]Row, 0, len(c))
	for k, v := range c {
		rows = append(rows, Row{Category: k, Count: v})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Category < rows[j].Category })
	return rows
}

func split(rows []Row) (labels []string, counts []int) {
	labels = make([]string, 0, len(rows))
	counts = make([]int, 0, len(rows))
	for _, r := range rows {
		labels = append(labels, r.Category)
		counts = append(counts, r.Count)
	}
	return labels, counts
}

// monthlySpec builds the monthly frequency chart shared by both report
// flavors. Summary rows keep the sortable YYYY-MM keys, chart labels get
// the human month names.
func monthlySpec(observations []report.Observation, subject string) barSpec {
	months := counter{}
	for _, obs := range observations {
		ts, ok := obs.ObservedTime()
		if !ok {
			continue
		}
		months.add(ts.Format("2006-01"))
	}

	rows := months.byKeyAsc()
	labels := make([]string, 0, len(rows))
	counts := make([]int, 0, len(rows))
	for _, r := range rows {
		ts, err := time.Parse("2006-01", r.Category)
		if err != nil {
			continue
		}
		labels = append(labels, ts.Format("January 2006"))
		counts = append(counts, r.Count)
	}

	return barSpec{
		name:    "chart_monthly_frequency",
		key:     "monthly",
		title:   fmt.Sprintf("Monthly %s Frequency", subject),
		wide:    true,
		labels:  labels,
		counts:  counts,
		summary: Summary{Title: "Monthly Frequency Summary", Rows: rows},
	}
}
