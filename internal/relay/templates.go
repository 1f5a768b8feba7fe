package relay

import "strings"

// Render fills the {placeholder} tokens of a configured message template.
// Unknown tokens are left in place so a typo in config is visible in the
// rendered output instead of silently vanishing.
func Render(tmpl string, vars map[string]string) string {
	if tmpl == "" || len(vars) == 0 {
		return tmpl
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

// RenderAll renders each template in a list
func RenderAll(tmpls []string, vars map[string]string) []string {
	out := make([]string, len(tmpls))
	for i, t := range tmpls {
		out[i] = Render(t, vars)
	}
	return out
}
