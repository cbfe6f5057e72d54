// Package report defines the observation payload model shared by the
// sightings and reportings report pipelines. Payloads come from field
// submission tools and are tolerant by necessity: several fields arrive
// either as a single string or a list, and species age groups are plain
// counts in sightings payloads but stranded/injured/dead breakdowns in
// reportings payloads.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Observation is a single submitted record. All fields are optional, each
// chart skips records missing the fields it aggregates.
type Observation struct {
	ObservedAt       string     `json:"observedAt,omitempty"`
	Block            string     `json:"block,omitempty"`
	District         string     `json:"district,omitempty"`
	WaterBody        StringList `json:"waterBody,omitempty"`
	WeatherCondition StringList `json:"weatherCondition,omitempty"`
	Threats          []string   `json:"threats,omitempty"`
	Species          []Species  `json:"species,omitempty"`
	Causes           []Cause    `json:"causes,omitempty"`
}

// Species holds per-species age group data within an observation.
type Species struct {
	Type         string   `json:"type,omitempty"`
	Adult        AgeGroup `json:"adult,omitempty"`
	AdultMale    AgeGroup `json:"adultMale,omitempty"`
	AdultFemale  AgeGroup `json:"adultFemale,omitempty"`
	SubAdult     AgeGroup `json:"subAdult,omitempty"`
	Unidentified AgeGroup `json:"unidentified,omitempty"`
}

// Cause describes why animals were reported, with an optional free-text
// addition submitted as otherCause.
type Cause struct {
	Cause      StringList `json:"cause,omitempty"`
	OtherCause string     `json:"otherCause,omitempty"`
}

// AgeGroup accepts two wire forms: a bare number (sightings) or an object
// with stranded/injured/dead counts (reportings).
type AgeGroup struct {
	Count    int `json:"count,omitempty"`
	Stranded int `json:"stranded,omitempty"`
	Injured  int `json:"injured,omitempty"`
	Dead     int `json:"dead,omitempty"`
}

// UnmarshalJSON handles both the numeric and the breakdown form.
func (a *AgeGroup) UnmarshalJSON(b []byte) error {
	*a = AgeGroup{}

	var n float64
	if err := json.Unmarshal(b, &n); err == nil {
		a.Count = int(n)
		return nil
	}

	var breakdown struct {
		Stranded int `json:"stranded"`
		Injured  int `json:"injured"`
		Dead     int `json:"dead"`
	}
	if err := json.Unmarshal(b, &breakdown); err != nil {
		return fmt.Errorf("age group must be a number or an object: %w", err)
	}
	a.Stranded, a.Injured, a.Dead = breakdown.Stranded, breakdown.Injured, breakdown.Dead
	return nil
}

// Total returns the overall count regardless of the wire form. Only one
// form is ever populated, so the sum is safe.
func (a AgeGroup) Total() int {
	return a.Count + a.Stranded + a.Injured + a.Dead
}

// StringList accepts either a single string or a list of strings. The
// single-string form is the legacy submission format.
type StringList []string

// UnmarshalJSON decodes a string or a list of strings.
func (s *StringList) UnmarshalJSON(b []byte) error {
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		if single == "" {
			*s = nil
			return nil
		}
		*s = StringList{single}
		return nil
	}

	var list []string
	if err := json.Unmarshal(b, &list); err != nil {
		return fmt.Errorf("expected string or list of strings: %w", err)
	}
	*s = list
	return nil
}

// ObservedTime parses the observedAt timestamp. Submissions are expected
// in RFC3339, but timezone-less and date-only values occur in older data.
func (o Observation) ObservedTime() (time.Time, bool) {
	if o.ObservedAt == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, o.ObservedAt); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// parse errors, surfaced to the client as 400 responses
var (
	ErrInvalidJSON  = errors.New("invalid JSON data")
	ErrNotContainer = errors.New("data must be a JSON object or array")
	ErrNotArray     = errors.New("observations must be an array")
	ErrNoData       = errors.New("no observations found in data")
)

// Parse extracts the observation list from a request payload. The payload
// is either a bare array of observations, an object with the list under a
// "result" or "data" key, or a single observation object.
func Parse(data []byte) ([]Observation, error) {
	var raw json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	switch firstByte(raw) {
	case '[':
		var observations []Observation
		if err := json.Unmarshal(raw, &observations); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
		}
		if len(observations) == 0 {
			return nil, ErrNoData
		}
		return observations, nil

	case '{':
		var envelope struct {
			Result json.RawMessage `json:"result"`
			Data   json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
		}

		inner := envelope.Result
		if inner == nil {
			inner = envelope.Data
		}
		if inner == nil { // no envelope key, the object itself is one observation
			var single Observation
			if err := json.Unmarshal(raw, &single); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
			}
			return []Observation{single}, nil
		}

		if firstByte(inner) != '[' {
			return nil, ErrNotArray
		}
		var observations []Observation
		if err := json.Unmarshal(inner, &observations); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
		}
		if len(observations) == 0 {
			return nil, ErrNoData
		}
		return observations, nil

	default:
		return nil, ErrNotContainer
	}
}

// firstByte returns the first non-whitespace byte of a JSON value, 0 for empty
func firstByte(raw json.RawMessage) byte {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return b
	}
	return 0
}
