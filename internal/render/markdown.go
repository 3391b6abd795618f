// Package render turns query responses into Markdown for chat and terminal output.
package render

import (
	"fmt"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/user/databridge/internal/clarify"
	"github.com/user/databridge/internal/extract"
	"github.com/user/databridge/internal/gateway"
)

const (
	maxListedFlows   = 10
	maxDescription   = 200
	noDataMessage    = "No data was returned for this request."
	failedTitle      = "*Query failed*"
	unknownErrorText = "unknown error"
)

// Markdown renders resp as a short Markdown message.
func Markdown(resp *gateway.Response) string {
	if resp == nil {
		return noDataMessage
	}

	var b strings.Builder
	if !resp.Success {
		b.WriteString(failedTitle)
		b.WriteString("\n")
		b.WriteString(failure(resp))
		b.WriteString("\n")
	}

	data := resp.ExtractedData
	if data.Summary != "" {
		fmt.Fprintf(&b, "*%s*\n", escape(data.Summary))
	} else if resp.Success && !data.HasData && resp.Clarification == nil {
		b.WriteString(noDataMessage)
		b.WriteString("\n")
	}

	for _, obs := range data.Observations {
		fmt.Fprintf(&b, "- %d series, %d observations\n", obs.SeriesCount, obs.ObservationCount)
	}

	switch c := resp.Clarification; {
	case c == nil:
		writeFlows(&b, data.Dataflows)
	case c.Kind == clarify.KindSelectDataflow:
		b.WriteString("\n")
		b.WriteString(escape(c.Message))
		b.WriteString("\n")
		for i, f := range c.Options {
			fmt.Fprintf(&b, "%d. %s\n", i+1, flowLine(f))
		}
		b.WriteString("\n")
		b.WriteString(c.Prompt)
		b.WriteString("\n")
	case c.Kind == clarify.KindRefineQuery:
		b.WriteString("\n")
		b.WriteString(escape(c.Message))
		b.WriteString("\n")
		for _, s := range c.Suggestions {
			fmt.Fprintf(&b, "- %s\n", escape(s))
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

func failure(resp *gateway.Response) string {
	msg := unknownErrorText
	kind := ""
	if r := resp.OriginalResult; r != nil {
		if r.Error != "" {
			msg = r.Error
		}
		kind = r.ErrorType
	}
	if kind != "" {
		return fmt.Sprintf("%s (%s)", escape(msg), kind)
	}
	return escape(msg)
}

func writeFlows(b *strings.Builder, flows []extract.DiscoveredFlow) {
	if len(flows) == 0 {
		return
	}
	b.WriteString("\n")
	for i, f := range flows {
		if i == maxListedFlows {
			fmt.Fprintf(b, "...and %d more\n", len(flows)-maxListedFlows)
			break
		}
		fmt.Fprintf(b, "- %s\n", flowLine(f))
	}
}

func flowLine(f extract.DiscoveredFlow) string {
	line := escape(f.Label())
	if d := Description(f.Details()); d != "" {
		line += ": " + d
	}
	return line
}

// Description converts an SDMX description to a single line of Markdown.
// Descriptions that carry HTML markup are converted; others are kept as-is.
func Description(s string) string {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "<") {
		if md, err := htmltomarkdown.ConvertString(s); err == nil {
			s = md
		}
	}
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) > maxDescription {
		s = string(r[:maxDescription]) + "..."
	}
	return s
}

var escaper = strings.NewReplacer("*", "\\*", "_", "\\_", "`", "\\`", "[", "\\[")

// escape protects text interpolated into Markdown from being read as markup.
func escape(s string) string {
	return escaper.Replace(s)
}
