package config

import (
	"bytes"
	"text/template"
)

// TemplateData holds the variables available in path and prefix settings.
//
// Usage examples:
//
//	/buffer/cam{{.Cam}}
//	crashes/cam{{.Cam}}/
type TemplateData struct {
	Cam string // camera number
}

// RenderTemplate evaluates a Go text/template string with the given data.
// Strings without template actions are returned unchanged.
func RenderTemplate(pattern string, data TemplateData) (string, error) {
	if !bytes.Contains([]byte(pattern), []byte("{{")) {
		return pattern, nil
	}
	tpl, err := template.New("path").Option("missingkey=error").Parse(pattern)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
