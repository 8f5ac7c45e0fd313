// Package specparse reads markdown specification documents.
package specparse

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ErrEmpty is returned when there is no specification content to parse.
var ErrEmpty = errors.New("no specification content to parse")

// MetaEntry is one front matter key, kept in document order.
type MetaEntry struct {
	Key   string
	Value string
}

// TestCase is an example taken from the test section of a specification.
type TestCase struct {
	Description    string
	Code           string
	ExpectedOutput string
}

// CodePrompt is a free-form generation guideline section.
type CodePrompt struct {
	Title   string
	Content string
}

// Spec is the structured content of a specification document.
type Spec struct {
	Metadata      []MetaEntry
	Description   string
	Architecture  string
	InputOutput   string
	Requirements  string
	ErrorHandling string
	Performance   string
	Interfaces    string
	TestCases     []TestCase
	Dependencies  []string
	CodePrompts   []CodePrompt
}

// sectionTitles maps heading substrings to Spec fields; the first match wins.
var sectionTitles = []struct {
	title string
	field func(*Spec) *string
}{
	{"功能描述", func(s *Spec) *string { return &s.Description }},
	{"架構設計", func(s *Spec) *string { return &s.Architecture }},
	{"輸入/輸出規格", func(s *Spec) *string { return &s.InputOutput }},
	{"技術要求", func(s *Spec) *string { return &s.Requirements }},
	{"錯誤處理", func(s *Spec) *string { return &s.ErrorHandling }},
	{"性能要求", func(s *Spec) *string { return &s.Performance }},
	{"介面定義", func(s *Spec) *string { return &s.Interfaces }},
	{"Description", func(s *Spec) *string { return &s.Description }},
	{"Architecture", func(s *Spec) *string { return &s.Architecture }},
	{"Input/Output", func(s *Spec) *string { return &s.InputOutput }},
	{"Requirements", func(s *Spec) *string { return &s.Requirements }},
	{"Error Handling", func(s *Spec) *string { return &s.ErrorHandling }},
	{"Performance", func(s *Spec) *string { return &s.Performance }},
	{"Interfaces", func(s *Spec) *string { return &s.Interfaces }},
}

var (
	frontMatterRe = regexp.MustCompile(`(?s)\A---[ \t]*\r?\n(.*?)\r?\n---[ \t]*(?:\r?\n|\z)`)
	testTitles    = []string{"測試案例", "Test Case", "Tests"}
	depTitles     = []string{"相依性", "依賴", "dependencies"}
	promptTitles  = []string{"提示", "prompt", "生成規範"}
	outputMarkers = []string{"expected", "output", "輸出"}
	setextUnderRe = regexp.MustCompile(`^[ \t]*(=+|-+)[ \t]*\r?$`)
)

// Parser turns markdown specifications into prompts for one target language.
type Parser struct {
	Language string // e.g. "Python" or "Go"
	logger   *zap.Logger
}

// New builds a Parser for language.
func New(language string, logger *zap.Logger) *Parser {
	if language == "" {
		language = "Python"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{Language: language, logger: logger}
}

// Parse extracts front matter, known sections, test cases, dependencies and code prompts.
func (p *Parser) Parse(content string) (*Spec, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmpty
	}

	spec := &Spec{}
	body := content
	if m := frontMatterRe.FindStringSubmatchIndex(content); m != nil {
		meta, err := parseFrontMatter(content[m[2]:m[3]])
		if err != nil {
			p.logger.Warn("failed to parse YAML front matter", zap.Error(err))
		} else {
			spec.Metadata = meta
		}
		body = content[m[1]:]
	}

	src := []byte(body)
	doc := goldmark.New().Parser().Parse(text.NewReader(src))
	blocks := collectBlocks(doc, src)

	p.extractSections(spec, blocks, src)
	p.extractTestCases(spec, blocks, src)
	p.extractDependencies(spec, blocks, src)
	p.extractCodePrompts(spec, blocks, src)

	p.logger.Debug("specification parsed",
		zap.Int("metadata", len(spec.Metadata)),
		zap.Int("test_cases", len(spec.TestCases)),
		zap.Int("dependencies", len(spec.Dependencies)),
		zap.Int("code_prompts", len(spec.CodePrompts)),
	)
	return spec, nil
}

func parseFrontMatter(raw string) ([]MetaEntry, error) {
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(raw), &node); err != nil {
		return nil, err
	}
	if node.Kind != yaml.DocumentNode || len(node.Content) == 0 {
		return nil, nil
	}
	mapping := node.Content[0]
	if mapping.Kind != yaml.MappingNode {
		return nil, nil
	}
	entries := make([]MetaEntry, 0, len(mapping.Content)/2)
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		key, val := mapping.Content[i], mapping.Content[i+1]
		value := val.Value
		if val.Kind != yaml.ScalarNode {
			var decoded interface{}
			if err := val.Decode(&decoded); err != nil {
				return nil, err
			}
			value = fmt.Sprint(decoded)
		}
		entries = append(entries, MetaEntry{Key: key.Value, Value: value})
	}
	return entries, nil
}

// block is a top-level markdown node with its source extent.
type block struct {
	node  ast.Node
	level int // heading level, 0 for other blocks
	title string
	start int // offset of the first source line
	body  int // for headings, offset just past the heading
}

func collectBlocks(doc ast.Node, src []byte) []block {
	var out []block
	prevEnd := 0
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		b := block{node: n, start: prevEnd, body: prevEnd}
		if first, ok := firstLine(n); ok {
			b.start = lineStart(src, first.Start)
		}
		if h, ok := n.(*ast.Heading); ok {
			b.level = h.Level
			b.title = strings.TrimSpace(inlineText(h, src))
			b.body = headingEnd(h, src, b.start)
		} else if last, ok := lastLine(n); ok {
			b.body = last.Stop
		}
		if b.body > prevEnd {
			prevEnd = b.body
		}
		out = append(out, b)
	}
	return out
}

// sectionEnd returns the start offset of the next heading after index i
// whose level is at most maxLevel (any heading when maxLevel is 0).
func sectionEnd(blocks []block, i, maxLevel int, src []byte) (int, int) {
	for j := i + 1; j < len(blocks); j++ {
		if blocks[j].level == 0 {
			continue
		}
		if maxLevel == 0 || blocks[j].level <= maxLevel {
			return blocks[j].start, j
		}
	}
	return len(src), len(blocks)
}

func (p *Parser) extractSections(spec *Spec, blocks []block, src []byte) {
	for i, b := range blocks {
		if b.level == 0 {
			continue
		}
		for _, s := range sectionTitles {
			if !strings.Contains(b.title, s.title) {
				continue
			}
			end, _ := sectionEnd(blocks, i, 0, src)
			*s.field(spec) = strings.TrimSpace(string(src[b.body:end]))
			p.logger.Debug("extracted section", zap.String("heading", b.title))
			break
		}
	}
}

func (p *Parser) extractTestCases(spec *Spec, blocks []block, src []byte) {
	section := -1
	for i, b := range blocks {
		if b.level >= 1 && b.level <= 4 && containsAny(b.title, testTitles) {
			section = i
			break
		}
	}
	if section < 0 {
		return
	}
	level := blocks[section].level
	_, end := sectionEnd(blocks, section, level, src)

	var cases []int
	for j := section + 1; j < end; j++ {
		if blocks[j].level > level {
			cases = append(cases, j)
		}
	}

	if len(cases) == 0 {
		codes := codeBlocks(blocks[section+1:end], src)
		if len(codes) > 0 && codes[0].text != "" {
			tc := TestCase{Description: blocks[section].title, Code: codes[0].text}
			if len(codes) > 1 {
				tc.ExpectedOutput = codes[1].text
			}
			spec.TestCases = append(spec.TestCases, tc)
		}
		return
	}

	for k, idx := range cases {
		stop := end
		if k+1 < len(cases) {
			stop = cases[k+1]
		}
		tc := TestCase{Description: blocks[idx].title}
		codes := codeBlocks(blocks[idx+1:stop], src)
		if len(codes) > 0 {
			tc.Code = codes[0].text
		}
		if len(codes) > 1 {
			second := codes[1]
			switch {
			case second.afterOutputMarker:
				tc.ExpectedOutput = second.text
			case len(tc.Code) < len(second.text):
				tc.Code = second.text
			default:
				tc.ExpectedOutput = second.text
			}
		}
		if tc.Code != "" {
			spec.TestCases = append(spec.TestCases, tc)
		}
	}
}

type codeBlock struct {
	text              string
	afterOutputMarker bool
}

func codeBlocks(blocks []block, src []byte) []codeBlock {
	var out []codeBlock
	for i, b := range blocks {
		switch b.node.(type) {
		case *ast.FencedCodeBlock, *ast.CodeBlock:
		default:
			continue
		}
		cb := codeBlock{text: strings.TrimRight(rawLines(b.node, src), "\n")}
		if i > 0 {
			prev := strings.ToLower(nodeText(blocks[i-1].node, src))
			cb.afterOutputMarker = containsAny(prev, outputMarkers)
		}
		out = append(out, cb)
	}
	return out
}

func (p *Parser) extractDependencies(spec *Spec, blocks []block, src []byte) {
	for i, b := range blocks {
		if b.level < 1 || b.level > 4 || !containsAny(strings.ToLower(b.title), depTitles) {
			continue
		}
		for j := i + 1; j < len(blocks) && !(blocks[j].level >= 1 && blocks[j].level <= 4); j++ {
			list, ok := blocks[j].node.(*ast.List)
			if !ok {
				continue
			}
			for item := list.FirstChild(); item != nil; item = item.NextSibling() {
				if dep := strings.TrimSpace(nodeText(item, src)); dep != "" {
					spec.Dependencies = append(spec.Dependencies, dep)
				}
			}
		}
	}
}

func (p *Parser) extractCodePrompts(spec *Spec, blocks []block, src []byte) {
	for i, b := range blocks {
		if b.level < 1 || b.level > 4 || !containsAny(strings.ToLower(b.title), promptTitles) {
			continue
		}
		end, _ := sectionEnd(blocks, i, 4, src)
		content := strings.TrimSpace(string(src[b.body:end]))
		if content != "" {
			spec.CodePrompts = append(spec.CodePrompts, CodePrompt{Title: b.title, Content: content})
		}
	}
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func firstLine(n ast.Node) (text.Segment, bool) {
	if n.Type() == ast.TypeBlock && n.Lines().Len() > 0 {
		return n.Lines().At(0), true
	}
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if seg, ok := firstLine(c); ok {
			return seg, true
		}
	}
	return text.Segment{}, false
}

func lastLine(n ast.Node) (text.Segment, bool) {
	for c := n.LastChild(); c != nil; c = c.PreviousSibling() {
		if seg, ok := lastLine(c); ok {
			return seg, true
		}
	}
	if n.Type() == ast.TypeBlock && n.Lines().Len() > 0 {
		return n.Lines().At(n.Lines().Len() - 1), true
	}
	return text.Segment{}, false
}

func lineStart(src []byte, offset int) int {
	return bytes.LastIndexByte(src[:offset], '\n') + 1
}

// headingEnd returns the offset after the heading line, including a setext underline.
func headingEnd(h *ast.Heading, src []byte, start int) int {
	pos := start
	if h.Lines().Len() > 0 {
		pos = h.Lines().At(h.Lines().Len() - 1).Stop
	}
	pos = nextLine(src, pos)
	if pos < len(src) {
		next := nextLine(src, pos)
		if setextUnderRe.Match(bytes.TrimRight(src[pos:next], "\n")) {
			return next
		}
	}
	return pos
}

func nextLine(src []byte, pos int) int {
	if pos >= len(src) {
		return len(src)
	}
	if i := bytes.IndexByte(src[pos:], '\n'); i >= 0 {
		return pos + i + 1
	}
	return len(src)
}

func rawLines(n ast.Node, src []byte) string {
	var b strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(src))
	}
	return b.String()
}

// nodeText concatenates the inline text below n, joining blocks with spaces.
func nodeText(n ast.Node, src []byte) string {
	if n.Type() == ast.TypeBlock && n.FirstChild() == nil {
		return strings.TrimSpace(rawLines(n, src))
	}
	var parts []string
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if c.Type() == ast.TypeBlock {
			parts = append(parts, nodeText(c, src))
			continue
		}
		parts = append(parts, inlineText(c, src))
	}
	if n.Type() == ast.TypeBlock {
		return strings.TrimSpace(strings.Join(parts, sep(n)))
	}
	return strings.Join(parts, "")
}

func sep(n ast.Node) string {
	switch n.(type) {
	case *ast.Paragraph, *ast.TextBlock, *ast.Heading:
		return ""
	default:
		return " "
	}
}

func inlineText(n ast.Node, src []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}
