// Package clarify decides whether a response should ask the user a follow-up
// question before the conversation can make progress.
package clarify

import (
	"encoding/json"
	"fmt"

	"github.com/user/databridge/internal/extract"
	"github.com/user/databridge/internal/types"
)

// Kind identifies the clarification variant. Its value is the JSON "type".
type Kind string

const (
	KindSelectDataflow Kind = "select_dataflow"
	KindRefineQuery    Kind = "refine_query"
)

const (
	// selectThreshold is exclusive: four or more flows without data trigger a selection.
	selectThreshold = 3
	maxOptions      = 5

	SelectPrompt  = "Which dataflow would you like to explore? (Type the number or name)"
	RefineMessage = "I planned the query but couldn't retrieve data. This might help:"
)

// RefineSuggestions are offered when a planned query fetched nothing.
var RefineSuggestions = []string{
	"Specify a dataflow ID (like DF_B3019)",
	`Add a time period (like "for 2024")`,
	`Try: "Get data from DF_B3019 for 2024-10 to 2025-10"`,
}

// Clarification is a question sent back to the user. Options is set for
// KindSelectDataflow, Suggestions for KindRefineQuery.
type Clarification struct {
	Kind        Kind
	Message     string
	Options     []extract.DiscoveredFlow
	Prompt      string
	Suggestions []string
}

// Advise returns the clarification warranted by result and its extraction,
// or nil when none is needed.
func Advise(result *types.ExecutionResult, extracted extract.ExtractedData) *Clarification {
	n := len(extracted.Dataflows)
	if n > selectThreshold && len(extracted.Observations) == 0 {
		options := make([]extract.DiscoveredFlow, min(n, maxOptions))
		copy(options, extracted.Dataflows)
		return &Clarification{
			Kind:    KindSelectDataflow,
			Message: fmt.Sprintf("I found %d dataflows. Here are the first 5:", n),
			Options: options,
			Prompt:  SelectPrompt,
		}
	}

	if result != nil && result.Success && !extracted.HasData && result.HasPlan() {
		return &Clarification{
			Kind:        KindRefineQuery,
			Message:     RefineMessage,
			Suggestions: append([]string(nil), RefineSuggestions...),
		}
	}
	return nil
}

func (c Clarification) MarshalJSON() ([]byte, error) {
	switch c.Kind {
	case KindSelectDataflow:
		options := c.Options
		if options == nil {
			options = []extract.DiscoveredFlow{}
		}
		return json.Marshal(struct {
			Type    Kind                     `json:"type"`
			Message string                   `json:"message"`
			Options []extract.DiscoveredFlow `json:"options"`
			Prompt  string                   `json:"prompt"`
		}{c.Kind, c.Message, options, c.Prompt})
	case KindRefineQuery:
		suggestions := c.Suggestions
		if suggestions == nil {
			suggestions = []string{}
		}
		return json.Marshal(struct {
			Type        Kind     `json:"type"`
			Message     string   `json:"message"`
			Suggestions []string `json:"suggestions"`
		}{c.Kind, c.Message, suggestions})
	}
	return nil, fmt.Errorf("clarify: unknown kind %q", c.Kind)
}
