package prompt

import (
	"strings"
	"testing"

	"github.com/kalambet/forja/internal/assemble"
)

func testContext() assemble.Context {
	return assemble.Context{
		UserID:   "u1",
		Name:     "Ana",
		D1:       "running",
		D2:       "early riser",
		D3:       "intermediate",
		D4:       "short sessions",
		Progress: "- ran 5k",
		Date:     "2026-09-01",
		Brief:    "Today is about consistency.",
	}
}

func TestRendererSubstitutesVariables(t *testing.T) {
	r, err := NewRenderer()
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}

	tests := []struct {
		name   string
		render func(assemble.Context) (string, error)
		wants  []string
	}{
		{"brief", r.Brief, []string{"Ana", "running", "2026-09-01", "ran 5k"}},
		{"daily task", r.DailyTask, []string{"Ana", "Today is about consistency."}},
		{"image description", r.ImageDescription, []string{"Ana", "Today is about consistency."}},
		{"podcast script", r.PodcastScript, []string{"Ana", "Speaker 1", "Speaker 2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := tt.render(testContext())
			if err != nil {
				t.Fatalf("render: %v", err)
			}
			for _, want := range tt.wants {
				if !strings.Contains(out, want) {
					t.Errorf("rendered prompt missing %q:\n%s", want, out)
				}
			}
			if strings.Contains(out, "{{") {
				t.Errorf("unexpanded template action in output:\n%s", out)
			}
		})
	}
}

func TestImageFallbackWrapsDescription(t *testing.T) {
	r, err := NewRenderer()
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}

	out, err := r.ImageFallback("a runner at dawn on a forest trail")
	if err != nil {
		t.Fatalf("ImageFallback: %v", err)
	}
	if !strings.Contains(out, "a runner at dawn on a forest trail") {
		t.Errorf("fallback prompt lost the original description:\n%s", out)
	}
	if out == "a runner at dawn on a forest trail" {
		t.Error("fallback prompt should transform, not echo, the description")
	}
}
