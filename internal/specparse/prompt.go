package specparse

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var taskText = map[string]string{
	"python": "Based on the above specifications, please generate high-quality, well-documented Python code " +
		"that implements all the required functionality. The code should follow PEP 8 style guidelines, " +
		"include type annotations, handle errors appropriately, and be thoroughly tested against the " +
		"provided test cases.\n\n" +
		"Please organize the code into appropriate modules and classes, with clear separation of concerns. " +
		"Ensure that the code is efficient, maintainable, and follows best practices for Python development.\n\n" +
		"Include comprehensive docstrings and comments to explain the purpose and functionality of each component.",
	"go": "Based on the above specifications, please generate high-quality, well-documented Go code " +
		"that implements all the required functionality. The code should be gofmt-formatted, " +
		"return explicit errors, and be thoroughly tested against the provided test cases with `go test`.\n\n" +
		"Please organize the code into a go.mod module with focused packages. " +
		"Ensure that the code is efficient, maintainable, and follows idiomatic Go practices.\n\n" +
		"Include doc comments on exported identifiers.",
}

// GeneratePrompt renders spec as the base generation prompt.
func (p *Parser) GeneratePrompt(spec *Spec) string {
	var b strings.Builder
	b.WriteString("# Software Development Specification\n\n")

	if len(spec.Metadata) > 0 {
		b.WriteString("## Metadata\n\n")
		for _, m := range spec.Metadata {
			fmt.Fprintf(&b, "- **%s**: %s\n", m.Key, m.Value)
		}
		b.WriteString("\n")
	}

	for _, sec := range []struct{ title, body string }{
		{"Functional Description", spec.Description},
		{"Architecture Design", spec.Architecture},
		{"Input/Output Specifications", spec.InputOutput},
		{"Technical Requirements", spec.Requirements},
		{"Error Handling", spec.ErrorHandling},
		{"Performance Considerations", spec.Performance},
		{"Interfaces", spec.Interfaces},
	} {
		if sec.body != "" {
			fmt.Fprintf(&b, "## %s\n\n%s\n\n", sec.title, sec.body)
		}
	}

	if len(spec.TestCases) > 0 {
		b.WriteString("## Test Cases\n\n")
		for i, tc := range spec.TestCases {
			fmt.Fprintf(&b, "### Test Case %d: %s\n", i+1, tc.Description)
			if tc.Code != "" {
				fmt.Fprintf(&b, "```\n%s\n```\n", tc.Code)
			}
			if tc.ExpectedOutput != "" {
				fmt.Fprintf(&b, "Expected Output:\n```\n%s\n```\n", tc.ExpectedOutput)
			}
		}
	}

	if len(spec.Dependencies) > 0 {
		b.WriteString("## Dependencies\n\n")
		for _, dep := range spec.Dependencies {
			fmt.Fprintf(&b, "- %s\n", dep)
		}
	}

	if len(spec.CodePrompts) > 0 {
		b.WriteString("## Code Generation Guidelines\n\n")
		for _, cp := range spec.CodePrompts {
			fmt.Fprintf(&b, "### %s\n\n%s\n\n", cp.Title, cp.Content)
		}
	}

	b.WriteString("\n## Task\n\n")
	task, ok := taskText[strings.ToLower(p.Language)]
	if !ok {
		task = taskText["python"]
	}
	b.WriteString(task)
	return b.String()
}

var specHeaderRe = regexp.MustCompile(`(?i)#\s*(功能描述|Description|架構設計|Architecture|規格|Specification|需求|Requirements)`)

// IsSpecFile reports whether path is a markdown file whose opening looks like a specification.
func IsSpecFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
	default:
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	head, err := io.ReadAll(io.LimitReader(bufio.NewReader(f), 1024))
	if err != nil {
		return false
	}
	if specHeaderRe.Match(head) {
		return true
	}
	first, _, _ := strings.Cut(string(head), "\n")
	return strings.TrimSpace(first) == "---"
}
