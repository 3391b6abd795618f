// Package extract turns raw workflow execution results into display-ready
// summaries of the dataflows and observations they contain.
package extract

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/user/databridge/internal/types"
)

// NoDataSummary is reported when the backend planned a query but ran no steps.
const NoDataSummary = "Query planned but no data was fetched."

const unknownName = "Unknown"

// ExtractedData summarizes what an execution result actually retrieved.
type ExtractedData struct {
	HasData      bool                 `json:"has_data"`
	Dataflows    []DiscoveredFlow     `json:"dataflows"`
	Observations []ObservationSummary `json:"observations"`
	Summary      string               `json:"summary"`
}

// ObservationSummary describes one fetched SDMX data message.
type ObservationSummary struct {
	SeriesCount      int             `json:"series_count"`
	ObservationCount int             `json:"observation_count"`
	RawData          json.RawMessage `json:"raw_data"`
}

// Empty returns the zero summary with non-nil sequences, so it encodes as
// empty lists rather than null.
func Empty() ExtractedData {
	return ExtractedData{
		Dataflows:    []DiscoveredFlow{},
		Observations: []ObservationSummary{},
	}
}

// Extractor extracts data from execution results. The zero value is ready to
// use; Logger, when set, receives a debug record for each skipped item.
type Extractor struct {
	Logger *slog.Logger
}

// Extract runs the zero-value Extractor.
func Extract(result *types.ExecutionResult) ExtractedData {
	return Extractor{}.Extract(result)
}

// Extract walks the successful steps of result in order and classifies every
// JSON payload found in their result items. Malformed items are skipped.
func (e Extractor) Extract(result *types.ExecutionResult) ExtractedData {
	out := Empty()
	if result == nil || !result.Success {
		return out
	}
	if len(result.Execution) == 0 {
		out.Summary = NoDataSummary
		return out
	}

	for si, step := range result.Execution {
		if step.Status != types.StepStatusSuccess {
			continue
		}
		for ii, item := range step.Result {
			text, ok := item.Text()
			if !ok {
				continue
			}
			if err := e.classify(&out, []byte(text)); err != nil {
				e.debug("skipping result item", "step", si, "item", ii, "error", err)
			}
		}
	}
	return out
}

func (e Extractor) classify(out *ExtractedData, text []byte) error {
	var payload any
	if err := json.Unmarshal(text, &payload); err != nil {
		return fmt.Errorf("parse payload: %w", err)
	}

	switch p := payload.(type) {
	case map[string]any:
		data, ok := p["data"].(map[string]any)
		if !ok {
			return nil
		}
		if _, ok := data["dataSets"]; !ok {
			return nil
		}
		addMessage(out, data, text)
	case []any:
		if len(p) == 0 {
			return nil
		}
		var elems []json.RawMessage
		if err := json.Unmarshal(text, &elems); err != nil {
			return fmt.Errorf("parse discovery list: %w", err)
		}
		out.HasData = true
		for _, el := range elems {
			out.Dataflows = append(out.Dataflows, Raw(el))
		}
		out.Summary = fmt.Sprintf("Found %d dataflows", len(elems))
	}
	return nil
}

// addMessage records an SDMX data message: its structure as a dataflow and,
// when a data set is present, the series and observation counts of the first.
// raw is the whole message, kept verbatim as the observation's raw data.
func addMessage(out *ExtractedData, data map[string]any, raw []byte) {
	out.HasData = true

	structure, _ := data["structure"].(map[string]any)
	name := unknownName
	if v, ok := structure["name"]; ok {
		name = localized(v)
	}
	out.Dataflows = append(out.Dataflows, Structured(name, localized(structure["description"])))

	sets, _ := data["dataSets"].([]any)
	if len(sets) == 0 {
		return
	}
	first, _ := sets[0].(map[string]any)
	series, _ := first["series"].(map[string]any)

	observations := 0
	for _, s := range series {
		obj, _ := s.(map[string]any)
		observations += entries(obj["observations"])
	}

	out.Observations = append(out.Observations, ObservationSummary{
		SeriesCount:      len(series),
		ObservationCount: observations,
		RawData:          append(json.RawMessage(nil), raw...),
	})
	out.Summary = fmt.Sprintf("Retrieved %d data series with %d observations", len(series), observations)
}

// entries counts the members of a JSON object or array; anything else is empty.
func entries(v any) int {
	switch t := v.(type) {
	case map[string]any:
		return len(t)
	case []any:
		return len(t)
	}
	return 0
}

// localized reads an SDMX text field, which is either a plain string or a
// language map such as {"en": "..."}.
func localized(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		if s, ok := t["en"].(string); ok {
			return s
		}
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if s, ok := t[k].(string); ok {
				return s
			}
		}
	}
	return ""
}

func (e Extractor) debug(msg string, args ...any) {
	if e.Logger != nil {
		e.Logger.Debug(msg, args...)
	}
}
