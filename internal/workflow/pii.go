package workflow

import "strings"

// RestorePII puts original values back in place of their placeholders.
// Placeholders missing from mapping are left as they are.
func RestorePII(text string, mapping map[string]string) string {
	if len(mapping) == 0 || text == "" {
		return text
	}
	pairs := make([]string, 0, len(mapping)*2)
	for placeholder, original := range mapping {
		pairs = append(pairs, placeholder, original)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}
