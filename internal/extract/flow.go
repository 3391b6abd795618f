package extract

import (
	"bytes"
	"encoding/json"
)

// FlowKind tags the two shapes a discovered dataflow can take.
type FlowKind int

const (
	// FlowStructured is a name/description pair read from an SDMX structure.
	FlowStructured FlowKind = iota
	// FlowRaw is an element of a discovery list, passed through untouched.
	FlowRaw
)

// DiscoveredFlow is a dataflow found in an execution result.
type DiscoveredFlow struct {
	Kind        FlowKind
	Name        string
	Description string
	Raw         json.RawMessage
}

// Structured builds a flow from SDMX structure metadata.
func Structured(name, description string) DiscoveredFlow {
	return DiscoveredFlow{Kind: FlowStructured, Name: name, Description: description}
}

// Raw wraps a discovery-list element.
func Raw(raw json.RawMessage) DiscoveredFlow {
	return DiscoveredFlow{Kind: FlowRaw, Raw: append(json.RawMessage(nil), raw...)}
}

// Label returns a short display name for the flow. Raw flows are probed for
// the usual identifying fields.
func (f DiscoveredFlow) Label() string {
	if f.Kind == FlowStructured {
		return f.Name
	}
	var s string
	if err := json.Unmarshal(f.Raw, &s); err == nil {
		return s
	}
	var obj map[string]any
	if err := json.Unmarshal(f.Raw, &obj); err == nil {
		for _, key := range []string{"name", "title", "id", "dataflow_id", "agencyID"} {
			if v, ok := obj[key].(string); ok && v != "" {
				return v
			}
		}
	}
	return string(bytes.TrimSpace(f.Raw))
}

// Details returns the flow's description, if it has one.
func (f DiscoveredFlow) Details() string {
	if f.Kind == FlowStructured {
		return f.Description
	}
	var obj map[string]any
	if err := json.Unmarshal(f.Raw, &obj); err == nil {
		if v, ok := obj["description"].(string); ok {
			return v
		}
	}
	return ""
}

func (f DiscoveredFlow) MarshalJSON() ([]byte, error) {
	if f.Kind == FlowRaw {
		if len(f.Raw) == 0 {
			return []byte("null"), nil
		}
		return f.Raw, nil
	}
	return json.Marshal(struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}{f.Name, f.Description})
}
