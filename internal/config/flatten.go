package config

import (
	"slices"
	"strings"
)

// secretKeys are masked by MaskSecrets. Every MCP header is treated as a
// secret since it usually carries an authorization token.
var (
	secretKeys     = map[string]bool{"telegram.token": true}
	secretPrefixes = []string{"mcp.headers."}
)

// IsSecretKey reports whether the dotted key holds a secret.
func IsSecretKey(key string) bool {
	if secretKeys[key] {
		return true
	}
	for _, p := range secretPrefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

// Flatten converts a nested map into dotted keys:
// {"mcp": {"url": "..."}} becomes {"mcp.url": "..."}.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	flattenInto("", m, out)
	return out
}

func flattenInto(prefix string, m map[string]any, out map[string]any) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if child, ok := v.(map[string]any); ok {
			flattenInto(key, child, out)
			continue
		}
		out[key] = v
	}
}

// Unflatten is the inverse of Flatten. A scalar on the path of a longer key
// is replaced by a map.
func Unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for _, k := range SortedKeys(flat) {
		parts := strings.Split(k, ".")
		current := out
		for _, part := range parts[:len(parts)-1] {
			next, ok := current[part].(map[string]any)
			if !ok {
				next = make(map[string]any)
				current[part] = next
			}
			current = next
		}
		current[parts[len(parts)-1]] = flat[k]
	}
	return out
}

// SortedKeys returns the keys of a flat map in lexical order.
func SortedKeys(flat map[string]any) []string {
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// MaskSecrets returns a copy of flat with secret values shown as "***"
// followed by their last four characters. Empty values stay empty.
func MaskSecrets(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		s, ok := v.(string)
		if !IsSecretKey(k) || !ok || s == "" {
			out[k] = v
			continue
		}
		if len(s) > 4 {
			s = s[len(s)-4:]
		}
		out[k] = "***" + s
	}
	return out
}
