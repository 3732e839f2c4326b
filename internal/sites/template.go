package sites

import (
	"bytes"
	"fmt"
	"os"
	"text/template"
)

// TemplateProvider produces the initial body for a new unit.
type TemplateProvider interface {
	Render(identifier string) (string, error)
}

const defaultUnitTemplate = `server {
    listen 80;
    listen [::]:80;

    server_name {{ .ServerName }};

    location / {
        proxy_pass http://127.0.0.1:8080;
        proxy_set_header Host $host;
        proxy_set_header X-Real-IP $remote_addr;
        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;
        proxy_set_header X-Forwarded-Proto $scheme;
    }
}
`

// TemplateData is what a unit template is executed with.
type TemplateData struct {
	Identifier string
	Path       []string
	ServerName string
}

// TextTemplate renders unit bodies with text/template.
type TextTemplate struct {
	tmpl  *template.Template
	codec Codec
}

// NewTextTemplate parses src. An empty source selects the built-in server block.
func NewTextTemplate(src string, codec Codec) (*TextTemplate, error) {
	if src == "" {
		src = defaultUnitTemplate
	}
	tmpl, err := template.New("unit").Option("missingkey=error").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse unit template: %w", err)
	}
	return &TextTemplate{tmpl: tmpl, codec: codec}, nil
}

// LoadTextTemplate reads a template file; an empty path selects the built-in template.
func LoadTextTemplate(path string, codec Codec) (*TextTemplate, error) {
	if path == "" {
		return NewTextTemplate("", codec)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read unit template: %w", err)
	}
	return NewTextTemplate(string(data), codec)
}

// Render executes the template for identifier. It has no side effects.
func (t *TextTemplate) Render(identifier string) (string, error) {
	segments, err := t.codec.Decode(identifier)
	if err != nil {
		return "", err
	}
	id, err := t.codec.Encode(segments)
	if err != nil {
		return "", err
	}
	data := TemplateData{
		Identifier: id,
		Path:       segments,
		ServerName: segments[len(segments)-1],
	}
	var buf bytes.Buffer
	if err := t.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute unit template: %w", err)
	}
	return buf.String(), nil
}
