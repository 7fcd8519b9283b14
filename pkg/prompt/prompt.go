// Package prompt renders chat prompts from template files.
package prompt

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

// Renderer loads templates from a directory. Templates are parsed on every
// call so edits show up without a restart.
type Renderer struct {
	dir string
}

// NewRenderer returns a Renderer for templates under dir.
func NewRenderer(dir string) *Renderer {
	return &Renderer{dir: dir}
}

// Render executes the template name with data. Double quotes are removed from
// every string in data first, so rendered prompts can be embedded in JSON.
func (r *Renderer) Render(name string, data map[string]any) (string, error) {
	path := filepath.Join(r.dir, filepath.Clean("/"+name))
	src, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read template %s: %w", name, err)
	}

	tmpl, err := template.New(name).Parse(string(src))
	if err != nil {
		return "", fmt.Errorf("parse template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, stripQuotes(data)); err != nil {
		return "", fmt.Errorf("render template %s: %w", name, err)
	}
	return buf.String(), nil
}

func stripQuotes(v any) any {
	switch t := v.(type) {
	case string:
		return strings.ReplaceAll(t, `"`, "")
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = stripQuotes(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = stripQuotes(val)
		}
		return out
	case []string:
		out := make([]string, len(t))
		for i, s := range t {
			out[i] = strings.ReplaceAll(s, `"`, "")
		}
		return out
	default:
		return v
	}
}
