package notify

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/amoylab/hostlink/pkg/utils"
)

type messageTemplate struct {
	title *template.Template
	body  *template.Template
}

var defaultTemplates = map[Kind][2]string{
	KindAwaitingInput: {
		`{{ .ActionName | default .ActionSlug }} is waiting for input`,
		`A run of {{ .ActionName | default .ActionSlug | quote }} needs your input to continue.{{ with .URL }} Open it at {{ . }}{{ end }}`,
	},
	KindCompleted: {
		`{{ .ActionName | default .ActionSlug }} {{ if eq .ResultStatus "SUCCESS" }}completed{{ else }}{{ .ResultStatus | lower | replace "_" " " }}{{ end }}`,
		`Your run of {{ .ActionName | default .ActionSlug | quote }} finished with status {{ .ResultStatus }}.{{ with .URL }} Details: {{ . }}{{ end }}`,
	},
	KindHostMessage: {
		`{{ .Title | default (printf "Message from %s" (.ActionName | default .ActionSlug | default "your host")) }}`,
		`{{ .Message | trim }}`,
	},
}

// Renderer turns Events into Messages with sprig-enabled templates
type Renderer struct {
	templates map[Kind]messageTemplate
}

// NewRenderer parses the built-in templates; overrides replace them per kind as {title, body}
func NewRenderer(overrides map[Kind][2]string) (*Renderer, error) {
	r := &Renderer{templates: make(map[Kind]messageTemplate, len(defaultTemplates))}
	for kind, src := range defaultTemplates {
		if o, ok := overrides[kind]; ok {
			src = o
		}
		title, err := utils.ParseTemplate(string(kind)+".title", src[0])
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s title template: %w", kind, err)
		}
		body, err := utils.ParseTemplate(string(kind)+".body", src[1])
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s body template: %w", kind, err)
		}
		r.templates[kind] = messageTemplate{title: title, body: body}
	}
	return r, nil
}

func (r *Renderer) Render(ev *Event) (*Message, error) {
	tmpl, ok := r.templates[ev.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown notification kind: %s", ev.Kind)
	}
	title, err := utils.ExecuteTemplate(tmpl.title, ev)
	if err != nil {
		return nil, err
	}
	body, err := utils.ExecuteTemplate(tmpl.body, ev)
	if err != nil {
		return nil, err
	}
	return &Message{
		Kind:           ev.Kind,
		TransactionID:  ev.TransactionID,
		UserID:         ev.UserID,
		Title:          strings.TrimSpace(title),
		Body:           strings.TrimSpace(body),
		URL:            ev.URL,
		IdempotencyKey: ev.IdempotencyKey,
		Deliveries:     ev.Deliveries,
		CreatedAt:      time.Now(),
	}, nil
}
