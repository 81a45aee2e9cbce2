package caddyfile

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/proxy-tools/caddyctl/pkg/logging"
)

// Template placeholders use ${name}. The Caddyfile format has its own
// run-time placeholder syntax which also uses braces, e.g. {remote_host} or
// {env.CLOUDFLARE_API_TOKEN}; those are resolved by the caddy binary at its
// own run time and must survive rendering untouched.
//
// placeholderPattern matches both forms in one pass: a leading "$" marks a
// template placeholder, its absence a run-time placeholder.
var placeholderPattern = regexp.MustCompile(`\$?\{[A-Za-z_][A-Za-z0-9_.]*\}`)

// templateKeyPattern extracts the key from a ${name} placeholder.
var templateKeyPattern = regexp.MustCompile(`^\$\{([A-Za-z_][A-Za-z0-9_.]*)\}$`)

// Engine renders configuration blocks from templates and parameter sets.
type Engine struct {
	logger logging.Logger
}

// NewEngine creates a template engine.
func NewEngine(logger logging.Logger) *Engine {
	return &Engine{logger: logger}
}

// Render substitutes ${name} placeholders from params while leaving every
// run-time placeholder textually intact. Substitution is safe: a ${name}
// whose key is missing from params stays verbatim rather than failing, so a
// partially specified template remains a valid configuration fragment.
// Rendering the same template with the same parameters is deterministic.
//
// After substitution the brace balance of the output is compared against the
// template's: parameter values that introduced extra opens are repaired by
// appending the missing closes (with a warning); extra closes are never
// removed, since trimming them could corrupt a sibling block, and are
// surfaced as a warning only.
func (e *Engine) Render(templateText string, params map[string]string) string {
	// Step 1: swap run-time placeholders for indexed sentinel tokens so the
	// substitution pass cannot confuse them with user data or template keys.
	var protected []string
	masked := placeholderPattern.ReplaceAllStringFunc(templateText, func(match string) string {
		if strings.HasPrefix(match, "$") {
			return match
		}
		sentinel := fmt.Sprintf("\x00rt%d\x00", len(protected))
		protected = append(protected, match)
		return sentinel
	})

	// Step 2: substitute template placeholders, unknown keys left verbatim.
	rendered := placeholderPattern.ReplaceAllStringFunc(masked, func(match string) string {
		groups := templateKeyPattern.FindStringSubmatch(match)
		if groups == nil {
			return match
		}
		if value, ok := params[groups[1]]; ok {
			return value
		}
		return match
	})

	// Step 3: restore the protected run-time placeholders.
	for i, original := range protected {
		rendered = strings.Replace(rendered, fmt.Sprintf("\x00rt%d\x00", i), original, 1)
	}

	// The rendered balance must equal the template's un-substituted balance.
	templateBalance := braceBalance(templateText)
	renderedBalance := braceBalance(rendered)
	if renderedBalance > templateBalance {
		missing := renderedBalance - templateBalance
		e.logger.Warnf("Rendered block has %d unclosed brace(s) introduced by substitution, appending closing brace(s)", missing)
		rendered = strings.TrimRight(rendered, "\n")
		for i := 0; i < missing; i++ {
			rendered += "\n}"
		}
		rendered += "\n"
	} else if renderedBalance < templateBalance {
		e.logger.Warnf("Rendered block has %d excess closing brace(s); not removing them, sibling blocks may be affected",
			templateBalance-renderedBalance)
	}

	return rendered
}

// RenderWithExtras renders a block template and splices additional
// configuration lines in immediately before the final closing brace of the
// outermost block.
func (e *Engine) RenderWithExtras(templateText string, params map[string]string, extras []string) string {
	rendered := e.Render(templateText, params)
	if len(extras) == 0 {
		return rendered
	}

	trimmed := strings.TrimRight(rendered, "\n")
	idx := strings.LastIndex(trimmed, "}")
	if idx < 0 {
		e.logger.Warnf("Rendered block has no closing brace, appending %d extra line(s) at the end", len(extras))
		return rendered + strings.Join(extras, "\n") + "\n"
	}

	var b strings.Builder
	b.WriteString(strings.TrimRight(trimmed[:idx], "\n"))
	b.WriteString("\n")
	for _, line := range extras {
		b.WriteString(indent)
		b.WriteString(strings.TrimSpace(line))
		b.WriteString("\n")
	}
	b.WriteString(trimmed[idx:])
	b.WriteString("\n")
	return b.String()
}

func braceBalance(text string) int {
	return strings.Count(text, "{") - strings.Count(text, "}")
}
