package utils

import (
	"bytes"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// ParseTemplate parses tmpl with the sprig function set
func ParseTemplate(name, tmpl string) (*template.Template, error) {
	return template.New(name).Funcs(sprig.TxtFuncMap()).Option("missingkey=zero").Parse(tmpl)
}

// ExecuteTemplate runs a parsed template into a string
func ExecuteTemplate(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderTemplate parses and executes tmpl in one go
func RenderTemplate(tmpl string, data any) (string, error) {
	t, err := ParseTemplate("", tmpl)
	if err != nil {
		return "", err
	}
	return ExecuteTemplate(t, data)
}
