package config

import "github.com/knadh/koanf/providers/confmap"

// confmapProvider wraps a flat "a.b.c"-keyed default map for koanf.Load,
// giving the env provider something to override rather than leaving
// required fields unset when the operator hasn't set every variable.
func confmapProvider(m map[string]any) *confmap.Confmap {
	return confmap.Provider(m, ".")
}
