package charts

import (
	"context"

	"github.com/seawatch/reportd/app/report"
)

// Reportings renders the reportings chart set: monthly frequency, block,
// district, species, status, causes and age group distributions. Charts
// with no underlying data are skipped.
func (g *Generator) Reportings(ctx context.Context, observations []report.Observation) (Result, error) {
	specs := []barSpec{
		monthlySpec(observations, "Reportings"),
		categorySpec(observations, "chart_blocks", "blocks", "Reportings by Block", "Block Summary",
			func(obs report.Observation) []string {
				if obs.Block == "" {
					return nil
				}
				return []string{obs.Block}
			}),
		categorySpec(observations, "chart_districts", "districts", "Reportings by District", "District Summary",
			func(obs report.Observation) []string {
				if obs.District == "" {
					return nil
				}
				return []string{obs.District}
			}),
		speciesSpec(observations),
		statusSpec(observations),
		causesSpec(observations),
		reportingsAgeGroupSpec(observations),
	}
	return g.generate(ctx, specs)
}

// speciesSpec counts one entry per species record, defaulting unknown types
func speciesSpec(observations []report.Observation) barSpec {
	counts := counter{}
	for _, obs := range observations {
		for _, sp := range obs.Species {
			if sp.Type == "" {
				counts.add("Unknown")
				continue
			}
			counts.add(sp.Type)
		}
	}

	rows := counts.byCountDesc()
	labels, values := split(rows)
	return barSpec{
		name:    "chart_species",
		key:     "species",
		title:   "Reportings by Species",
		labels:  labels,
		counts:  values,
		summary: Summary{Title: "Species Summary", Rows: rows},
	}
}

// statusSpec sums stranded/injured/dead counts across the adult, adultMale,
// adultFemale and subAdult breakdowns of every species record.
func statusSpec(observations []report.Observation) barSpec {
	var stranded, injured, dead int
	for _, obs := range observations {
		for _, sp := range obs.Species {
			for _, group := range []report.AgeGroup{sp.Adult, sp.AdultMale, sp.AdultFemale, sp.SubAdult} {
				stranded += group.Stranded
				injured += group.Injured
				dead += group.Dead
			}
		}
	}

	spec := barSpec{
		name:  "chart_status",
		key:   "status",
		title: "Animals by Status",
	}
	if stranded == 0 && injured == 0 && dead == 0 {
		return spec
	}

	spec.labels = []string{"Stranded", "Injured", "Dead"}
	spec.counts = []int{stranded, injured, dead}
	spec.summary = Summary{
		Title: "Status Summary",
		Rows: counter{
			"Stranded": stranded,
			"Injured":  injured,
			"Dead":     dead,
		}.byCountDesc(),
	}
	return spec
}

// causesSpec flattens cause lists, folding free-text otherCause entries in
// with an "Other:" prefix.
func causesSpec(observations []report.Observation) barSpec {
	counts := counter{}
	for _, obs := range observations {
		for _, entry := range obs.Causes {
			for _, cause := range entry.Cause {
				if cause != "" {
					counts.add(cause)
				}
			}
			if entry.OtherCause != "" {
				counts.add("Other: " + entry.OtherCause)
			}
		}
	}

	rows := counts.byCountDesc()
	labels, values := split(rows)
	return barSpec{
		name:    "chart_causes",
		key:     "causes",
		title:   "Distribution of Causes",
		labels:  labels,
		counts:  values,
		summary: Summary{Title: "Causes Summary", Rows: rows},
	}
}

// reportingsAgeGroupSpec totals each age group's breakdown separately,
// keeping the adult male/female split the reportings form collects.
func reportingsAgeGroupSpec(observations []report.Observation) barSpec {
	var adult, adultMale, adultFemale, subAdult int
	for _, obs := range observations {
		for _, sp := range obs.Species {
			adult += sp.Adult.Stranded + sp.Adult.Injured + sp.Adult.Dead
			adultMale += sp.AdultMale.Stranded + sp.AdultMale.Injured + sp.AdultMale.Dead
			adultFemale += sp.AdultFemale.Stranded + sp.AdultFemale.Injured + sp.AdultFemale.Dead
			subAdult += sp.SubAdult.Stranded + sp.SubAdult.Injured + sp.SubAdult.Dead
		}
	}

	spec := barSpec{
		name:  "chart_agegroups",
		key:   "agegroups",
		title: "Age Group Distribution",
	}
	if adult == 0 && adultMale == 0 && adultFemale == 0 && subAdult == 0 {
		return spec
	}

	spec.labels = []string{"Adult", "Adult Male", "Adult Female", "Sub-Adult"}
	spec.counts = []int{adult, adultMale, adultFemale, subAdult}
	spec.summary = Summary{
		Title: "Age Group Summary",
		Rows: counter{
			"Adult":        adult,
			"Adult Male":   adultMale,
			"Adult Female": adultFemale,
			"Sub-Adult":    subAdult,
		}.byCountDesc(),
	}
	return spec
}
