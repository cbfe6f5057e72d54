package charts

import (
	"context"

	"github.com/seawatch/reportd/app/report"
)

// Sightings renders the sightings chart set: monthly frequency, block,
// district, water body, weather, threats and age group distributions.
// Charts with no underlying data are skipped.
func (g *Generator) Sightings(ctx context.Context, observations []report.Observation) (Result, error) {
	specs := []barSpec{
		monthlySpec(observations, "Sightings"),
		categorySpec(observations, "chart_blocks", "blocks", "Sightings by Block", "Block Summary",
			func(obs report.Observation) []string {
				if obs.Block == "" {
					return nil
				}
				return []string{obs.Block}
			}),
		categorySpec(observations, "chart_districts", "districts", "Sightings by District", "District Summary",
			func(obs report.Observation) []string {
				if obs.District == "" {
					return nil
				}
				return []string{obs.District}
			}),
		categorySpec(observations, "chart_waterbodies", "waterbodies", "Sightings by Water Body Type", "Water Body Type Summary",
			func(obs report.Observation) []string { return obs.WaterBody }),
		categorySpec(observations, "chart_weather", "weather", "Sightings by Weather Condition", "Weather Condition Summary",
			func(obs report.Observation) []string { return obs.WeatherCondition }),
		categorySpec(observations, "chart_threats", "threats", "Distribution of Threats", "Threats Summary",
			func(obs report.Observation) []string { return obs.Threats }),
		sightingsAgeGroupSpec(observations),
	}
	return g.generate(ctx, specs)
}

// categorySpec counts string categories extracted per observation
func categorySpec(observations []report.Observation, name, key, title, summaryTitle string,
	extract func(report.Observation) []string) barSpec {

	counts := counter{}
	for _, obs := range observations {
		for _, category := range extract(obs) {
			if category != "" {
				counts.add(category)
			}
		}
	}

	rows := counts.byCountDesc()
	labels, values := split(rows)
	return barSpec{
		name:    name,
		key:     key,
		title:   title,
		labels:  labels,
		counts:  values,
		summary: Summary{Title: summaryTitle, Rows: rows},
	}
}

// sightingsAgeGroupSpec sums species age group counts across all
// observations. The chart keeps a fixed Adult/Sub-Adult/Unidentified order,
// the summary is count-descending like the others.
func sightingsAgeGroupSpec(observations []report.Observation) barSpec {
	var adult, subAdult, unidentified int
	for _, obs := range observations {
		for _, sp := range obs.Species {
			adult += sp.Adult.Total() + sp.AdultMale.Total() + sp.AdultFemale.Total()
			subAdult += sp.SubAdult.Total()
			unidentified += sp.Unidentified.Total()
		}
	}

	spec := barSpec{
		name:  "chart_agegroups",
		key:   "agegroups",
		title: "Age Group Distribution",
	}
	if adult == 0 && subAdult == 0 && unidentified == 0 {
		return spec // empty, will be skipped
	}

	spec.labels = []string{"Adult", "Sub-Adult", "Unidentified"}
	spec.counts = []int{adult, subAdult, unidentified}
	spec.summary = Summary{
		Title: "Age Group Summary",
		Rows: counter{
			"Adult":        adult,
			"Sub-Adult":    subAdult,
			"Unidentified": unidentified,
		}.byCountDesc(),
	}
	return spec
}
