package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"
)

func testModels() Models {
	return Models{Text: "gemini-1.5-pro", Image: "imagen-3.0-generate-002", Speech: "gemini-2.5-flash-preview-tts"}
}

func textResponse(text string) string {
	return `{"candidates":[{"content":{"parts":[{"text":` + jsonString(text) + `}]}}]}`
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func TestCompleteSuccess(t *testing.T) {
	var gotPath, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		w.Write([]byte(textResponse("  Hello Ana  ")))
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", testModels())
	got, err := c.Complete(context.Background(), "say hello")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "Hello Ana" {
		t.Errorf("Complete = %q, want trimmed text", got)
	}
	if gotPath != "/v1beta/models/gemini-1.5-pro:generateContent" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotKey != "secret" {
		t.Errorf("api key header = %q", gotKey)
	}
}

func TestCompleteErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"quota"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(srv.URL, "k", testModels())
	_, err := c.Complete(context.Background(), "p")
	if err == nil {
		t.Fatal("expected error")
	}
	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("expected *GenerationError, got %T", err)
	}
	if genErr.Op != "complete" {
		t.Errorf("Op = %q", genErr.Op)
	}
}

func TestCompleteEmptyCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "k", testModels())
	if _, err := c.Complete(context.Background(), "p"); err == nil {
		t.Fatal("expected error on empty candidates")
	}
}

func TestRenderSuccess(t *testing.T) {
	img := []byte{0x89, 'P', 'N', 'G'}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta/models/imagen-3.0-generate-002:predict" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		resp := `{"predictions":[{"bytesBase64Encoded":"` + base64.StdEncoding.EncodeToString(img) + `","mimeType":"image/png"}]}`
		w.Write([]byte(resp))
	}))
	defer srv.Close()

	c := New(srv.URL, "k", testModels())
	got, err := c.Render(context.Background(), "a quiet mountain trail")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if string(got) != string(img) {
		t.Errorf("image bytes = %v", got)
	}
}

func TestRenderNoImages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"predictions":[]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "k", testModels())
	if _, err := c.Render(context.Background(), "p"); err == nil {
		t.Fatal("expected error when provider returns no images")
	}
}

func audioResponse(pcm []byte) string {
	return `{"candidates":[{"content":{"parts":[{"inlineData":{"mimeType":"audio/L16;codec=pcm;rate=24000","data":"` +
		base64.StdEncoding.EncodeToString(pcm) + `"}}]}}]}`
}

func TestSynthesizeSingleSegment(t *testing.T) {
	calls := 0
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		gotPath = r.URL.Path
		w.Write([]byte(audioResponse([]byte{1, 2, 3, 4})))
	}))
	defer srv.Close()

	c := New(srv.URL, "k", testModels())
	wav, err := c.Synthesize(context.Background(), "Short script.")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 TTS call, got %d", calls)
	}
	if gotPath != "/v1beta/models/gemini-2.5-flash-preview-tts:generateContent" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if string(wav[:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Errorf("output is not a WAV file: % x", wav[:12])
	}
	if string(wav[len(wav)-4:]) != string([]byte{1, 2, 3, 4}) {
		t.Errorf("PCM payload missing from WAV")
	}
}

func TestSynthesizeChunksLongScript(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(audioResponse([]byte{byte(calls)})))
	}))
	defer srv.Close()

	c := New(srv.URL, "k", testModels())
	c.maxScript = 40

	script := "This is sentence one of the script. This is sentence two of the script. This is sentence three."
	wav, err := c.Synthesize(context.Background(), script)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if calls < 2 {
		t.Errorf("expected chunked synthesis, got %d call(s)", calls)
	}
	// All segment PCM concatenated after the 44-byte header.
	if len(wav) != 44+calls {
		t.Errorf("wav length = %d, want %d", len(wav), 44+calls)
	}
}

func TestSynthesizeEmptyScript(t *testing.T) {
	c := New("http://unused", "k", testModels())
	if _, err := c.Synthesize(context.Background(), "   "); err == nil {
		t.Fatal("expected error for empty script")
	}
}

func TestSplitScript(t *testing.T) {
	tests := []struct {
		name string
		text string
		max  int
		want int // minimum segment count
	}{
		{"short stays whole", "One sentence.", 100, 1},
		{"splits on sentences", "Alpha beta gamma. Delta epsilon zeta. Eta theta iota.", 25, 2},
		{"hard cut on oversized sentence", strings.Repeat("a", 100), 30, 3},
		{"hard cut keeps runes whole", strings.Repeat("más allá ", 12), 31, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			segs := splitScript(tt.text, tt.max)
			if len(segs) < tt.want {
				t.Fatalf("got %d segments, want at least %d: %q", len(segs), tt.want, segs)
			}
			for _, s := range segs {
				if len(s) > tt.max && tt.max > 0 {
					t.Errorf("segment exceeds max (%d > %d): %q", len(s), tt.max, s)
				}
				if !utf8.ValidString(s) {
					t.Errorf("segment is not valid UTF-8: %q", s)
				}
			}
		})
	}
}
