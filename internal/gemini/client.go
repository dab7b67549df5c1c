// Package gemini is the HTTP adapter for the Gemini API family: text
// completion, image rendering (Imagen), and speech synthesis (Gemini TTS).
// Every failure is reported as a *GenerationError so callers can treat the
// provider as a single fallible black box.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

// GenerationError wraps any provider-side failure.
type GenerationError struct {
	Op    string // "complete", "render", "synthesize"
	Model string
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("gemini %s (%s): %v", e.Op, e.Model, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Models selects which model serves each capability.
type Models struct {
	Text   string
	Image  string
	Speech string
}

// Client communicates with the Gemini REST API over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	models     Models
	voice      string
	maxScript  int
	httpClient *http.Client
}

const (
	defaultVoice = "Kore"

	// Scripts longer than this are synthesized in segments and the
	// resulting audio concatenated (provider request size guard).
	defaultMaxScriptBytes = 4000
)

// New creates a Client targeting the given API base URL.
func New(baseURL, apiKey string, models Models) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		models:    models,
		voice:     defaultVoice,
		maxScript: defaultMaxScriptBytes,
		httpClient: &http.Client{
			Timeout: 0,
		},
	}
}

// SetVoice overrides the prebuilt voice used for speech synthesis.
func (c *Client) SetVoice(name string) {
	if name != "" {
		c.voice = name
	}
}

func (c *Client) post(ctx context.Context, path string, payload any, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(string(data), 200))
	}
	return data, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// --- text completion ---

type generatePart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type generateContent struct {
	Role  string         `json:"role,omitempty"`
	Parts []generatePart `json:"parts"`
}

type generateRequest struct {
	Contents         []generateContent `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities,omitempty"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoice `json:"prebuiltVoiceConfig"`
}

type prebuiltVoice struct {
	VoiceName string `json:"voiceName"`
}

type generateResponse struct {
	Candidates []struct {
		Content generateContent `json:"content"`
	} `json:"candidates"`
}

// Complete sends the prompt to the text model and returns the generated text.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	req := generateRequest{
		Contents: []generateContent{
			{Role: "user", Parts: []generatePart{{Text: prompt}}},
		},
	}

	data, err := c.post(ctx, "/v1beta/models/"+c.models.Text+":generateContent", req, 60*time.Second)
	if err != nil {
		return "", &GenerationError{Op: "complete", Model: c.models.Text, Err: err}
	}

	var result generateResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return "", &GenerationError{Op: "complete", Model: c.models.Text, Err: fmt.Errorf("decoding response: %w", err)}
	}
	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return "", &GenerationError{Op: "complete", Model: c.models.Text, Err: fmt.Errorf("empty response")}
	}

	text := strings.TrimSpace(result.Candidates[0].Content.Parts[0].Text)
	if text == "" {
		return "", &GenerationError{Op: "complete", Model: c.models.Text, Err: fmt.Errorf("empty text part")}
	}
	return text, nil
}

// --- image rendering ---

type predictRequest struct {
	Instances  []predictInstance `json:"instances"`
	Parameters predictParams     `json:"parameters"`
}

type predictInstance struct {
	Prompt string `json:"prompt"`
}

type predictParams struct {
	SampleCount int `json:"sampleCount"`
}

type predictResponse struct {
	Predictions []struct {
		BytesBase64Encoded string `json:"bytesBase64Encoded"`
		MIMEType           string `json:"mimeType"`
	} `json:"predictions"`
}

// Render asks the image model for a single image and returns its raw bytes.
func (c *Client) Render(ctx context.Context, prompt string) ([]byte, error) {
	req := predictRequest{
		Instances:  []predictInstance{{Prompt: prompt}},
		Parameters: predictParams{SampleCount: 1},
	}

	data, err := c.post(ctx, "/v1beta/models/"+c.models.Image+":predict", req, 120*time.Second)
	if err != nil {
		return nil, &GenerationError{Op: "render", Model: c.models.Image, Err: err}
	}

	var result predictResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, &GenerationError{Op: "render", Model: c.models.Image, Err: fmt.Errorf("decoding response: %w", err)}
	}
	if len(result.Predictions) == 0 {
		return nil, &GenerationError{Op: "render", Model: c.models.Image, Err: fmt.Errorf("no images returned")}
	}

	img, err := base64.StdEncoding.DecodeString(result.Predictions[0].BytesBase64Encoded)
	if err != nil {
		return nil, &GenerationError{Op: "render", Model: c.models.Image, Err: fmt.Errorf("decoding image bytes: %w", err)}
	}
	if len(img) == 0 {
		return nil, &GenerationError{Op: "render", Model: c.models.Image, Err: fmt.Errorf("empty image")}
	}
	return img, nil
}

// --- speech synthesis ---

// Synthesize renders the script into WAV audio. Scripts over the provider
// request size budget are split on sentence boundaries, each segment is
// synthesized separately, and the PCM streams concatenated before the WAV
// header is written.
func (c *Client) Synthesize(ctx context.Context, script string) ([]byte, error) {
	if strings.TrimSpace(script) == "" {
		return nil, &GenerationError{Op: "synthesize", Model: c.models.Speech, Err: fmt.Errorf("empty script")}
	}

	segments := splitScript(script, c.maxScript)

	var pcm []byte
	mime := ""
	for i, seg := range segments {
		data, m, err := c.synthesizeSegment(ctx, seg)
		if err != nil {
			return nil, &GenerationError{
				Op: "synthesize", Model: c.models.Speech,
				Err: fmt.Errorf("segment %d/%d: %w", i+1, len(segments), err),
			}
		}
		pcm = append(pcm, data...)
		if mime == "" {
			mime = m
		}
	}

	bits, rate := parseAudioMIME(mime)
	return pcmToWAV(pcm, 1, rate, bits), nil
}

// synthesizeSegment performs one TTS call and returns raw PCM plus the
// reported audio MIME type.
func (c *Client) synthesizeSegment(ctx context.Context, text string) ([]byte, string, error) {
	req := generateRequest{
		Contents: []generateContent{
			{Role: "user", Parts: []generatePart{{Text: text}}},
		},
		GenerationConfig: &generationConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: &speechConfig{
				VoiceConfig: voiceConfig{
					PrebuiltVoiceConfig: prebuiltVoice{VoiceName: c.voice},
				},
			},
		},
	}

	data, err := c.post(ctx, "/v1beta/models/"+c.models.Speech+":generateContent", req, 120*time.Second)
	if err != nil {
		return nil, "", err
	}

	var result generateResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, "", fmt.Errorf("decoding response: %w", err)
	}
	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return nil, "", fmt.Errorf("no audio returned")
	}
	part := result.Candidates[0].Content.Parts[0]
	if part.InlineData == nil || part.InlineData.Data == "" {
		return nil, "", fmt.Errorf("response carries no inline audio data")
	}

	pcm, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
	if err != nil {
		return nil, "", fmt.Errorf("decoding audio bytes: %w", err)
	}
	return pcm, part.InlineData.MIMEType, nil
}

// splitScript breaks text into segments of at most max bytes, preferring
// paragraph breaks, then sentence ends, then a hard cut.
func splitScript(text string, max int) []string {
	text = strings.TrimSpace(text)
	if max <= 0 || len(text) <= max {
		return []string{text}
	}

	var segments []string
	var current strings.Builder

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			segments = append(segments, s)
		}
		current.Reset()
	}

	for _, para := range strings.Split(text, "\n\n") {
		for _, sentence := range splitSentences(para) {
			// A single oversized sentence is cut hard, backing up to a
			// rune boundary so no segment carries a torn multibyte rune.
			for len(sentence) > max {
				flush()
				cut := max
				for cut > 0 && !utf8.RuneStart(sentence[cut]) {
					cut--
				}
				if cut == 0 {
					cut = max
				}
				segments = append(segments, strings.TrimSpace(sentence[:cut]))
				sentence = sentence[cut:]
			}
			if current.Len() > 0 && current.Len()+len(sentence)+1 > max {
				flush()
			}
			if current.Len() > 0 {
				current.WriteByte(' ')
			}
			current.WriteString(sentence)
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
	}
	flush()

	if len(segments) == 0 {
		return []string{text}
	}
	return segments
}

func splitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
			// Sentence ends at punctuation followed by a space or EOL.
			if i+1 == len(text) || text[i+1] == ' ' || text[i+1] == '\n' {
				s := strings.TrimSpace(text[start : i+1])
				if s != "" {
					out = append(out, s)
				}
				start = i + 1
			}
		}
	}
	if tail := strings.TrimSpace(text[start:]); tail != "" {
		out = append(out, tail)
	}
	return out
}
