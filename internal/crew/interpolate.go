package crew

import (
	"regexp"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// placeholders returns the input names referenced in s, in order of appearance.
func placeholders(s string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(s, -1)
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m[1])
	}
	return names
}

// interpolate replaces {name} references with inputs[name]. Unknown names are
// left untouched.
func interpolate(s string, inputs map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		if v, ok := inputs[match[1:len(match)-1]]; ok {
			return v
		}
		return match
	})
}

func interpolateArgs(args map[string]string, inputs map[string]string) map[string]string {
	out := make(map[string]string, len(args))
	for k, v := range args {
		out[k] = strings.TrimSpace(interpolate(v, inputs))
	}
	return out
}
