// Package prompt holds the parameterized instruction templates the
// pipelines render before calling the language model. Templates are keyed
// by task name; placeholder resolution is strict, so a prompt never goes
// out with an unbound variable.
package prompt

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/template"
	"text/template/parse"

	"github.com/pelletier/go-toml/v2"
)

// ErrUnknownTemplate is returned by Render for names that were never
// registered.
var ErrUnknownTemplate = errors.New("prompt: unknown template")

// MissingVariableError reports a template placeholder that the caller left
// unbound.
type MissingVariableError struct {
	Template string
	Variable string
}

func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("prompt: template %q: variable %q is unbound", e.Template, e.Variable)
}

type entry struct {
	tmpl     *template.Template
	required []string
}

// Registry maps task names to templates. A fresh registry carries the
// builtin templates; deployments may replace bodies through a TOML
// override file. Registries are not safe for concurrent mutation; build
// them at startup and share read-only.
type Registry struct {
	entries map[string]entry
}

// NewRegistry returns a registry loaded with the builtin templates.
func NewRegistry() *Registry {
	r := &Registry{entries: make(map[string]entry)}
	for name, body := range builtins {
		// builtins are compile-time constants; a parse failure here is a
		// programming error
		if err := r.Register(name, body); err != nil {
			panic(err)
		}
	}
	return r
}

// Register parses and stores a template body under the given name,
// replacing any previous body. Every field referenced by the template
// becomes a required variable of Render.
func (r *Registry) Register(name, body string) error {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(body)
	if err != nil {
		return fmt.Errorf("prompt: parsing template %q: %w", name, err)
	}
	fields := make(map[string]struct{})
	if tmpl.Tree != nil {
		collectFields(tmpl.Tree.Root, fields)
	}
	required := make([]string, 0, len(fields))
	for f := range fields {
		required = append(required, f)
	}
	sort.Strings(required)
	r.entries[name] = entry{tmpl: tmpl, required: required}
	return nil
}

// Names returns the registered template names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render resolves the named template against vars. Unknown names fail
// with ErrUnknownTemplate; unbound placeholders fail with
// MissingVariableError before the model ever sees a half-filled prompt.
func (r *Registry) Render(name string, vars map[string]any) (string, error) {
	e, ok := r.entries[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTemplate, name)
	}
	for _, field := range e.required {
		if _, ok := vars[field]; !ok {
			return "", &MissingVariableError{Template: name, Variable: field}
		}
	}
	var sb strings.Builder
	if err := e.tmpl.Execute(&sb, vars); err != nil {
		return "", fmt.Errorf("prompt: rendering template %q: %w", name, err)
	}
	return sb.String(), nil
}

// Load applies a TOML override file:
//
//	[templates]
//	triple_extraction = """..."""
//
// Overrides replace builtin bodies wholesale; names not present keep their
// builtin body.
func (r *Registry) Load(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("prompt: reading overrides: %w", err)
	}
	var file struct {
		Templates map[string]string `toml:"templates"`
	}
	if err := toml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("prompt: parsing overrides: %w", err)
	}
	for name, body := range file.Templates {
		if err := r.Register(name, body); err != nil {
			return err
		}
	}
	return nil
}

// collectFields walks the template tree gathering the first identifier of
// every field reference, so {{.Text}} and {{.Schema.Types}} both require
// their top-level variable.
func collectFields(node parse.Node, out map[string]struct{}) {
	switch n := node.(type) {
	case *parse.ListNode:
		if n == nil {
			return
		}
		for _, child := range n.Nodes {
			collectFields(child, out)
		}
	case *parse.ActionNode:
		collectPipe(n.Pipe, out)
	case *parse.IfNode:
		collectBranch(&n.BranchNode, out)
	case *parse.RangeNode:
		collectBranch(&n.BranchNode, out)
	case *parse.WithNode:
		collectBranch(&n.BranchNode, out)
	case *parse.TemplateNode:
		collectPipe(n.Pipe, out)
	}
}

func collectBranch(b *parse.BranchNode, out map[string]struct{}) {
	collectPipe(b.Pipe, out)
	if b.List != nil {
		collectFields(b.List, out)
	}
	if b.ElseList != nil {
		collectFields(b.ElseList, out)
	}
}

func collectPipe(p *parse.PipeNode, out map[string]struct{}) {
	if p == nil {
		return
	}
	for _, cmd := range p.Cmds {
		for _, arg := range cmd.Args {
			switch a := arg.(type) {
			case *parse.FieldNode:
				if len(a.Ident) > 0 {
					out[a.Ident[0]] = struct{}{}
				}
			case *parse.PipeNode:
				collectPipe(a, out)
			}
		}
	}
}
