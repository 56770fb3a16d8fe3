package relay

import (
	"sort"
	"strings"
)

// defaultAliases maps well-known client model names onto backend models.
// Unrecognized names pass through unchanged so newly launched backend models
// work without a gateway release.
var defaultAliases = map[string]string{
	"gpt-4o":            "assist-large",
	"gpt-4o-mini":       "assist-small",
	"gpt-4-turbo":       "assist-large",
	"gpt-3.5-turbo":     "assist-small",
	"claude-opus-4-1":   "assist-large",
	"claude-sonnet-4-5": "assist-large",
	"claude-haiku-4-5":  "assist-small",
}

// ResolveModel maps a client model name to a backend model. Config overrides
// take precedence over the built-in table; matching is case-insensitive.
func ResolveModel(name string, overrides map[string]string) string {
	lower := strings.ToLower(strings.TrimSpace(name))
	for alias, target := range overrides {
		if strings.ToLower(alias) == lower {
			return target
		}
	}
	if target, ok := defaultAliases[lower]; ok {
		return target
	}
	return name
}

// KnownModels returns the sorted list of client-facing model names, built-in
// aliases merged with config overrides. Used by the model listing endpoints.
func KnownModels(overrides map[string]string) []string {
	seen := make(map[string]bool, len(defaultAliases)+len(overrides))
	for name := range defaultAliases {
		seen[name] = true
	}
	for name := range overrides {
		seen[strings.ToLower(name)] = true
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
