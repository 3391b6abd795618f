// internal/types/item.go
package types

import (
	"encoding/json"
)

// ItemKind tags the shape a result item arrived in.
type ItemKind int

const (
	// ItemOther is any shape the bridge cannot read text from.
	ItemOther ItemKind = iota
	// ItemText is an object carrying a string "text" field (MCP text content).
	ItemText
	// ItemString is a bare JSON string.
	ItemString
)

func (k ItemKind) String() string {
	switch k {
	case ItemText:
		return "text"
	case ItemString:
		return "string"
	default:
		return "other"
	}
}

// ResultItem is one entry of a step's result list. The shape is resolved once,
// when the payload is decoded.
type ResultItem struct {
	Kind  ItemKind
	Value string
	raw   json.RawMessage
}

// TextItem builds an object-with-text item.
func TextItem(text string) ResultItem {
	return ResultItem{Kind: ItemText, Value: text}
}

// StringItem builds a bare string item.
func StringItem(s string) ResultItem {
	return ResultItem{Kind: ItemString, Value: s}
}

// Text returns the JSON document carried in the item's text field. Only
// object-with-text items carry one; bare strings and anything else are skipped.
func (i ResultItem) Text() (string, bool) {
	if i.Kind != ItemText {
		return "", false
	}
	return i.Value, true
}

func (i *ResultItem) UnmarshalJSON(data []byte) error {
	*i = ResultItem{raw: append(json.RawMessage(nil), data...)}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		i.Kind = ItemString
		i.Value = s
		return nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err == nil {
		if raw, ok := obj["text"]; ok {
			var text string
			if err := json.Unmarshal(raw, &text); err == nil {
				i.Kind = ItemText
				i.Value = text
				return nil
			}
		}
	}

	i.Kind = ItemOther
	return nil
}

func (i ResultItem) MarshalJSON() ([]byte, error) {
	if len(i.raw) > 0 {
		return i.raw, nil
	}
	switch i.Kind {
	case ItemText:
		return json.Marshal(map[string]string{"type": "text", "text": i.Value})
	case ItemString:
		return json.Marshal(i.Value)
	default:
		return []byte("null"), nil
	}
}
