package testrun

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/vollocare/autocoder/internal/tools"
)

var (
	installRequiresRe = regexp.MustCompile(`(?s)install_requires\s*=\s*\[(.*?)\]`)
	quotedRe          = regexp.MustCompile(`['"]([^'"]+)['"]`)
	requirementNameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*`)
)

// Python runs pytest and installs missing packages with pip.
type Python struct {
	interpreter string
	defaults    []string
	logger      *zap.Logger
}

// NewPython builds a Python runner. defaults are always ensured before testing.
func NewPython(interpreter string, defaults []string, logger *zap.Logger) *Python {
	if interpreter == "" {
		interpreter = "python3"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Python{interpreter: interpreter, defaults: defaults, logger: logger}
}

func (p *Python) Name() string   { return "python" }
func (p *Python) Binary() string { return p.interpreter }

func (p *Python) SourcePatterns() []string {
	return []string{"*.py", "__init__.py", "cli.py", "core/*.py"}
}

func (p *Python) TestArgs(testFiles []string) []string {
	args := append([]string{"-m", "pytest"}, testFiles...)
	return append(args, "-v")
}

// EnsureDependencies installs the default tooling plus the project's
// install_requires and requirements.txt entries that pip does not list.
func (p *Python) EnsureDependencies(ctx context.Context, term *tools.Terminal, dir string) error {
	required := append([]string{}, p.defaults...)
	required = append(required, projectRequirements(dir)...)
	if len(required) == 0 {
		return nil
	}

	installed := p.installed(ctx, term)
	var missing []string
	seen := make(map[string]bool)
	for _, req := range required {
		name := requirementName(req)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		if !installed[name] {
			missing = append(missing, req)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	p.logger.Info("installing python packages", zap.Strings("packages", missing))
	args := append([]string{"-m", "pip", "install"}, missing...)
	res, err := term.Exec(ctx, p.interpreter, args...)
	if err != nil {
		out := strings.TrimSpace(res.Stderr)
		if out == "" {
			out = err.Error()
		}
		return &InstallError{Output: out}
	}
	return nil
}

// installed lists normalized package names known to pip. Failures yield an empty set.
func (p *Python) installed(ctx context.Context, term *tools.Terminal) map[string]bool {
	out := make(map[string]bool)
	res, err := term.Exec(ctx, p.interpreter, "-m", "pip", "list", "--format=freeze")
	if err != nil {
		p.logger.Debug("pip list failed", zap.Error(err))
		return out
	}
	for _, line := range strings.Split(res.Stdout, "\n") {
		if name := requirementName(line); name != "" {
			out[name] = true
		}
	}
	return out
}

// projectRequirements reads setup.py install_requires and requirements.txt from dir.
func projectRequirements(dir string) []string {
	var reqs []string
	if data, err := os.ReadFile(filepath.Join(dir, "setup.py")); err == nil {
		if m := installRequiresRe.FindSubmatch(data); m != nil {
			for _, q := range quotedRe.FindAllSubmatch(m[1], -1) {
				reqs = append(reqs, strings.TrimSpace(string(q[1])))
			}
		}
	}
	if data, err := os.ReadFile(filepath.Join(dir, "requirements.txt")); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			line, _, _ = strings.Cut(line, "#")
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "-") {
				continue
			}
			reqs = append(reqs, line)
		}
	}
	return reqs
}

// requirementName returns the normalized distribution name of a requirement or freeze line.
func requirementName(req string) string {
	name := requirementNameRe.FindString(strings.TrimSpace(req))
	return strings.ReplaceAll(strings.ToLower(name), "_", "-")
}
