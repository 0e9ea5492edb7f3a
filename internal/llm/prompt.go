package llm

import (
	"regexp"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{\s*([^{}\s]+)\s*}`)

// injectVariables substitutes {name} placeholders in an instruction template.
// Unknown placeholders are left verbatim so a typo in the template is visible
// in the rendered prompt instead of silently vanishing.
func injectVariables(template string, vars map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		name := strings.TrimSpace(match[1 : len(match)-1])
		if v, ok := vars[name]; ok {
			return v
		}
		return match
	})
}
