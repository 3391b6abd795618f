package render

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/user/databridge/internal/clarify"
	"github.com/user/databridge/internal/extract"
	"github.com/user/databridge/internal/gateway"
	"github.com/user/databridge/internal/types"
)

func TestMarkdownObservations(t *testing.T) {
	resp := &gateway.Response{
		Success: true,
		ExtractedData: extract.ExtractedData{
			HasData:      true,
			Dataflows:    []extract.DiscoveredFlow{extract.Structured("Population", "Residents by <b>region</b>")},
			Observations: []extract.ObservationSummary{{SeriesCount: 2, ObservationCount: 7}},
			Summary:      "Retrieved 2 data series with 7 observations",
		},
	}

	out := Markdown(resp)
	assert.True(t, strings.HasPrefix(out, "*Retrieved 2 data series with 7 observations*"), out)
	assert.Contains(t, out, "- 2 series, 7 observations")
	assert.Contains(t, out, "- Population: Residents by **region**")
}

func TestMarkdownSelectDataflow(t *testing.T) {
	var flows []extract.DiscoveredFlow
	for i := 0; i < 6; i++ {
		flows = append(flows, extract.Raw(json.RawMessage(fmt.Sprintf(`{"id":"DF_%d"}`, i))))
	}
	data := extract.ExtractedData{HasData: true, Dataflows: flows, Summary: "Found 6 dataflows"}
	resp := &gateway.Response{
		Success:       true,
		ExtractedData: data,
		Clarification: clarify.Advise(&types.ExecutionResult{Success: true}, data),
	}

	out := Markdown(resp)
	assert.Contains(t, out, "I found 6 dataflows. Here are the first 5:")
	assert.Contains(t, out, "1. DF\\_0")
	assert.Contains(t, out, "5. DF\\_4")
	assert.NotContains(t, out, "DF\\_5")
	assert.True(t, strings.HasSuffix(out, clarify.SelectPrompt), out)
}

func TestMarkdownRefine(t *testing.T) {
	result := &types.ExecutionResult{Success: true, Plan: json.RawMessage(`{"steps":[1]}`)}
	data := extract.Empty()
	resp := &gateway.Response{
		Success:        true,
		OriginalResult: result,
		ExtractedData:  data,
		Clarification:  clarify.Advise(result, data),
	}

	out := Markdown(resp)
	assert.Contains(t, out, clarify.RefineMessage)
	assert.Contains(t, out, "- Specify a dataflow ID (like DF\\_B3019)")
	assert.NotContains(t, out, noDataMessage)
}

func TestMarkdownFailure(t *testing.T) {
	result := types.FailedResult(fmt.Errorf("%w: slow backend", types.ErrTimeout))
	resp := &gateway.Response{Success: false, OriginalResult: result, ExtractedData: extract.Empty()}

	out := Markdown(resp)
	assert.True(t, strings.HasPrefix(out, failedTitle), out)
	assert.Contains(t, out, "(Timeout)")
}

func TestMarkdownNoData(t *testing.T) {
	resp := &gateway.Response{Success: true, ExtractedData: extract.Empty()}
	assert.Equal(t, noDataMessage, Markdown(resp))
	assert.Equal(t, noDataMessage, Markdown(nil))
}

func TestMarkdownLongFlowList(t *testing.T) {
	var flows []extract.DiscoveredFlow
	for i := 0; i < 12; i++ {
		flows = append(flows, extract.Structured(fmt.Sprintf("Flow %d", i), ""))
	}
	// Observations present, so no selection is offered.
	resp := &gateway.Response{
		Success: true,
		ExtractedData: extract.ExtractedData{
			HasData:      true,
			Dataflows:    flows,
			Observations: []extract.ObservationSummary{{SeriesCount: 1, ObservationCount: 1}},
		},
	}
	out := Markdown(resp)
	assert.Contains(t, out, "- Flow 9")
	assert.NotContains(t, out, "- Flow 10")
	assert.Contains(t, out, "...and 2 more")
}

func TestDescription(t *testing.T) {
	assert.Equal(t, "plain text", Description("  plain   text "))
	assert.Equal(t, "**bold** word", Description("<p><strong>bold</strong> word</p>"))
	long := strings.Repeat("a", maxDescription+10)
	assert.Equal(t, strings.Repeat("a", maxDescription)+"...", Description(long))
}
