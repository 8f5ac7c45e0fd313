// Package budget keeps model-bound text within a token estimate.
package budget

import (
	"sort"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

// Markers that delimit a formatted repository context.
const (
	RepoNameMarker = "<|repo_name|>"
	FileSepMarker  = "<|file_sep|>"
)

// Estimate approximates the token count of text as ceil(runes / charsPerToken).
func Estimate(text string, charsPerToken int) int {
	if charsPerToken <= 0 {
		charsPerToken = 1
	}
	runes := utf8.RuneCountInString(text)
	return (runes + charsPerToken - 1) / charsPerToken
}

// Bound returns text reduced to fit availableTokens and reports whether it changed.
// Repository contexts lose whole file segments, largest first, keeping the header
// and the relative order of what remains. Anything else is hard-truncated.
func Bound(text string, availableTokens, charsPerToken int) (string, bool) {
	if charsPerToken <= 0 {
		charsPerToken = 1
	}
	if availableTokens <= 0 {
		return "", text != ""
	}
	maxChars := availableTokens * charsPerToken
	if utf8.RuneCountInString(text) <= maxChars {
		return text, false
	}

	header, segments, ok := split(text)
	if !ok {
		return Truncate(text, maxChars), true
	}

	remaining := maxChars - utf8.RuneCountInString(header)
	if remaining < 0 {
		return Truncate(text, maxChars), true
	}

	sizes := make([]int, len(segments))
	total := 0
	for i, seg := range segments {
		sizes[i] = utf8.RuneCountInString(seg)
		total += sizes[i]
	}

	order := make([]int, len(segments))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return sizes[order[a]] > sizes[order[b]] })

	dropped := make([]bool, len(segments))
	for _, idx := range order {
		if total <= remaining {
			break
		}
		dropped[idx] = true
		total -= sizes[idx]
	}

	var b strings.Builder
	b.WriteString(header)
	for i, seg := range segments {
		if !dropped[i] {
			b.WriteString(seg)
		}
	}
	return b.String(), true
}

// Truncate cuts text to at most maxChars runes.
func Truncate(text string, maxChars int) string {
	if maxChars <= 0 {
		return ""
	}
	if utf8.RuneCountInString(text) <= maxChars {
		return text
	}
	n := 0
	for i := range text {
		if n == maxChars {
			return text[:i]
		}
		n++
	}
	return text
}

// split separates a repository context into its header and file segments.
// Each segment starts with FileSepMarker and runs up to the next one.
func split(text string) (string, []string, bool) {
	if !strings.HasPrefix(text, RepoNameMarker) {
		return "", nil, false
	}
	first := strings.Index(text, "\n"+FileSepMarker)
	if first < 0 {
		return "", nil, false
	}
	header := text[:first+1]
	rest := text[first+1:]

	var segments []string
	for rest != "" {
		next := strings.Index(rest[len(FileSepMarker):], "\n"+FileSepMarker)
		if next < 0 {
			segments = append(segments, rest)
			break
		}
		cut := len(FileSepMarker) + next + 1
		segments = append(segments, rest[:cut])
		rest = rest[cut:]
	}
	return header, segments, true
}

// Budgeter applies Bound and Truncate and logs when content was cut.
type Budgeter struct {
	CharsPerToken int
	Logger        *zap.Logger
}

// New returns a Budgeter for the given characters-per-token ratio.
func New(charsPerToken int, logger *zap.Logger) *Budgeter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Budgeter{CharsPerToken: charsPerToken, Logger: logger}
}

// Estimate approximates the token count of text.
func (b *Budgeter) Estimate(text string) int {
	return Estimate(text, b.CharsPerToken)
}

// Bound fits text into availableTokens. See Bound.
func (b *Budgeter) Bound(label, text string, availableTokens int) string {
	out, cut := Bound(text, availableTokens, b.CharsPerToken)
	if cut {
		b.warn(label, text, out)
	}
	return out
}

// Truncate hard-cuts text to availableTokens.
func (b *Budgeter) Truncate(label, text string, availableTokens int) string {
	if availableTokens <= 0 {
		if text != "" {
			b.warn(label, text, "")
		}
		return ""
	}
	out := Truncate(text, availableTokens*b.CharsPerToken)
	if len(out) != len(text) {
		b.warn(label, text, out)
	}
	return out
}

func (b *Budgeter) warn(label, before, after string) {
	b.Logger.Warn("context truncated to fit token limit",
		zap.String("segment", label),
		zap.Int("original_tokens", b.Estimate(before)),
		zap.Int("truncated_tokens", b.Estimate(after)),
	)
}
