// Package prompt renders the instruction templates each generation stage
// sends to the text model. Templates are embedded so the binary is
// self-contained; the pipeline only sees "context in, rendered text out".
package prompt

import (
	"embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/kalambet/forja/internal/assemble"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// Renderer renders stage prompts from an assembled user context.
type Renderer struct {
	t *template.Template
}

// NewRenderer parses the embedded templates.
func NewRenderer() (*Renderer, error) {
	t, err := template.ParseFS(templatesFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parsing prompt templates: %w", err)
	}
	return &Renderer{t: t}, nil
}

func (r *Renderer) render(name string, data any) (string, error) {
	var sb strings.Builder
	if err := r.t.ExecuteTemplate(&sb, name, data); err != nil {
		return "", fmt.Errorf("rendering %s: %w", name, err)
	}
	return strings.TrimSpace(sb.String()), nil
}

// Brief renders the stage 1 instruction. ctx.Brief is ignored.
func (r *Renderer) Brief(ctx assemble.Context) (string, error) {
	return r.render("brief.tmpl", ctx)
}

// DailyTask renders the daily-task instruction from context plus brief.
func (r *Renderer) DailyTask(ctx assemble.Context) (string, error) {
	return r.render("daily_task.tmpl", ctx)
}

// ImageDescription renders the instruction that asks the text model for an
// image-generation prompt.
func (r *Renderer) ImageDescription(ctx assemble.Context) (string, error) {
	return r.render("image_description.tmpl", ctx)
}

// PodcastScript renders the instruction for the two-host podcast script.
func (r *Renderer) PodcastScript(ctx assemble.Context) (string, error) {
	return r.render("podcast_script.tmpl", ctx)
}

// ImageFallback transforms a rejected image description into a safer,
// restyled prompt for the single retry the image stage is allowed.
func (r *Renderer) ImageFallback(description string) (string, error) {
	return r.render("image_fallback.tmpl", struct{ Description string }{Description: description})
}
