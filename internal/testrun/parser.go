package testrun

import (
	"regexp"
	"strings"
)

var failRe = regexp.MustCompile(`(?i)\b(FAILED|FAIL|ERROR)\b:?\s+([A-Za-z0-9_./:\[\]-]+)`)

// parseTestOutput extracts a short summary and failing test names from
// pytest or go test output.
func parseTestOutput(output string) (string, []string) {
	names := make([]string, 0, 8)
	for _, line := range strings.Split(output, "\n") {
		m := failRe.FindStringSubmatch(line)
		if len(m) >= 3 {
			names = append(names, strings.TrimSpace(m[2]))
		}
	}
	names = unique(names)
	summary := ""
	if len(names) > 0 {
		summary = "Failing tests: " + strings.Join(names, ", ")
	}
	return summary, names
}

func unique(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
