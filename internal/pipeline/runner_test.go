package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/kalambet/forja/internal/assemble"
	"github.com/kalambet/forja/internal/prompt"
	"github.com/kalambet/forja/internal/storage"
)

// --- provider fakes ---

type fakeText struct {
	fn func(prompt string) (string, error)
}

func (f *fakeText) Complete(ctx context.Context, p string) (string, error) {
	if f.fn != nil {
		return f.fn(p)
	}
	return "generated text", nil
}

type fakeImage struct {
	mu    sync.Mutex
	calls []string
	fn    func(call int, prompt string) ([]byte, error)
}

func (f *fakeImage) Render(ctx context.Context, p string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, p)
	n := len(f.calls)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(n, p)
	}
	return []byte{0x89, 'P', 'N', 'G'}, nil
}

func (f *fakeImage) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeSpeech struct {
	fn func(script string) ([]byte, error)
}

func (f *fakeSpeech) Synthesize(ctx context.Context, s string) ([]byte, error) {
	if f.fn != nil {
		return f.fn(s)
	}
	return []byte("RIFF....WAVE"), nil
}

type memBlob struct {
	mu      sync.Mutex
	uploads map[string][]byte
}

func newMemBlob() *memBlob { return &memBlob{uploads: map[string][]byte{}} }

func (b *memBlob) Upload(ctx context.Context, data []byte, path, contentType string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.uploads[path] = data
	return "blob://" + path, nil
}

// --- harness ---

type harness struct {
	store  *storage.Store
	text   *fakeText
	image  *fakeImage
	speech *fakeSpeech
	blobs  *memBlob
	runner *Runner
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	renderer, err := prompt.NewRenderer()
	if err != nil {
		t.Fatalf("creating renderer: %v", err)
	}

	h := &harness{
		store:  store,
		text:   &fakeText{},
		image:  &fakeImage{},
		speech: &fakeSpeech{},
		blobs:  newMemBlob(),
	}
	h.runner = NewRunner(
		assemble.New(store, 5),
		renderer,
		h.text, h.image, h.speech,
		store, h.blobs,
	)
	return h
}

func (h *harness) addUser(t *testing.T, userID, name string) {
	t.Helper()
	if err := h.store.UpsertProfile(storage.Profile{UserID: userID, Name: name}); err != nil {
		t.Fatalf("UpsertProfile: %v", err)
	}
}

// --- stage 1 ---

func TestGenerateBriefNoProfile(t *testing.T) {
	h := newHarness(t)

	_, err := h.runner.GenerateBrief(context.Background(), "ghost")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGenerateBriefProviderFailureCreatesNoRecord(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u1", "Ana")
	h.text.fn = func(string) (string, error) { return "", errors.New("quota exceeded") }

	if _, err := h.runner.GenerateBrief(context.Background(), "u1"); err == nil {
		t.Fatal("expected error from failing text provider")
	}

	challenges, err := h.store.ListChallenges("u1", 10)
	if err != nil {
		t.Fatalf("ListChallenges: %v", err)
	}
	if len(challenges) != 0 {
		t.Errorf("no record should be created on brief failure, got %d", len(challenges))
	}
}

func TestGenerateBriefCreatesRecordWithEmptyStageFields(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u1", "Ana")

	id, err := h.runner.GenerateBrief(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GenerateBrief: %v", err)
	}

	c, err := h.store.GetChallenge(id)
	if err != nil {
		t.Fatalf("GetChallenge: %v", err)
	}
	if c.Brief == "" {
		t.Error("brief should be populated")
	}
	if c.DailyTask != "" || c.ImageRef != "" || c.AudioRef != "" {
		t.Errorf("stage fields should be empty after stage 1: %+v", c)
	}
}

// --- stages 2-4 ---

func TestProcessRemainingAllStagesSucceed(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u1", "Ana")
	h.text.fn = func(p string) (string, error) {
		return "B", nil
	}

	id, err := h.runner.GenerateBrief(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GenerateBrief: %v", err)
	}

	out, err := h.runner.ProcessRemaining(context.Background(), "u1", id)
	if err != nil {
		t.Fatalf("ProcessRemaining: %v", err)
	}
	if !out.DailyTaskOK || !out.ImageOK || !out.AudioOK {
		t.Fatalf("expected all stages ok, got %+v", out)
	}
	if !out.Success() {
		t.Error("Success() should be true")
	}

	c, err := h.store.GetChallenge(id)
	if err != nil {
		t.Fatalf("GetChallenge: %v", err)
	}
	if c.DailyTask == "" || c.ImageRef == "" || c.AudioRef == "" {
		t.Errorf("all stage fields should be populated: %+v", c)
	}
}

func TestSpeechFailureDoesNotBlockSiblings(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u1", "Ana")
	h.speech.fn = func(string) ([]byte, error) { return nil, errors.New("tts unavailable") }

	id, err := h.runner.GenerateBrief(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GenerateBrief: %v", err)
	}

	out, err := h.runner.ProcessRemaining(context.Background(), "u1", id)
	if err != nil {
		t.Fatalf("ProcessRemaining: %v", err)
	}
	if !out.DailyTaskOK || !out.ImageOK {
		t.Errorf("sibling stages should succeed: %+v", out)
	}
	if out.AudioOK {
		t.Error("audio stage should have failed")
	}
	if !out.Success() {
		t.Error("overall success requires only one post-brief stage")
	}

	c, _ := h.store.GetChallenge(id)
	if c.AudioRef != "" {
		t.Errorf("audio_ref should stay empty, got %q", c.AudioRef)
	}
	if c.DailyTask == "" || c.ImageRef == "" {
		t.Errorf("sibling fields should be persisted: %+v", c)
	}
}

func TestImageRenderRetriesOnceWithFallbackPrompt(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u1", "Ana")
	h.image.fn = func(call int, p string) ([]byte, error) {
		if call == 1 {
			return nil, errors.New("content filtered")
		}
		return []byte("png"), nil
	}

	id, err := h.runner.GenerateBrief(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GenerateBrief: %v", err)
	}

	out, err := h.runner.ProcessRemaining(context.Background(), "u1", id)
	if err != nil {
		t.Fatalf("ProcessRemaining: %v", err)
	}
	if !out.ImageOK {
		t.Error("image stage should succeed on the fallback attempt")
	}
	if got := h.image.callCount(); got != 2 {
		t.Fatalf("render call count = %d, want 2", got)
	}
	if h.image.calls[0] == h.image.calls[1] {
		t.Error("fallback attempt should use a transformed prompt")
	}
	if !strings.Contains(h.image.calls[1], h.image.calls[0]) {
		t.Error("fallback prompt should carry the original description")
	}
}

func TestImageRenderGivesUpAfterSingleRetry(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u1", "Ana")
	h.image.fn = func(int, string) ([]byte, error) { return nil, errors.New("content filtered") }

	id, err := h.runner.GenerateBrief(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GenerateBrief: %v", err)
	}

	out, err := h.runner.ProcessRemaining(context.Background(), "u1", id)
	if err != nil {
		t.Fatalf("ProcessRemaining: %v", err)
	}
	if out.ImageOK {
		t.Error("image stage should fail when both attempts fail")
	}
	if got := h.image.callCount(); got != 2 {
		t.Errorf("render call count = %d, want exactly 2 (one retry)", got)
	}
}

func TestProcessRemainingMissingChallenge(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u1", "Ana")

	_, err := h.runner.ProcessRemaining(context.Background(), "u1", "no-such-record")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStagePanicIsContained(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u1", "Ana")
	h.speech.fn = func(string) ([]byte, error) { panic("synth crashed") }

	id, err := h.runner.GenerateBrief(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GenerateBrief: %v", err)
	}

	out, err := h.runner.ProcessRemaining(context.Background(), "u1", id)
	if err != nil {
		t.Fatalf("ProcessRemaining: %v", err)
	}
	if out.AudioOK {
		t.Error("panicking stage should be reported failed")
	}
	if !out.DailyTaskOK || !out.ImageOK {
		t.Errorf("panic must not affect sibling stages: %+v", out)
	}
}

func TestStageFieldNotOverwritten(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u1", "Ana")

	id, err := h.runner.GenerateBrief(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GenerateBrief: %v", err)
	}
	if err := h.store.ApplyPatch(id, storage.DailyTaskPatch{Text: "already written"}); err != nil {
		t.Fatalf("pre-filling daily_task: %v", err)
	}

	out, err := h.runner.ProcessRemaining(context.Background(), "u1", id)
	if err != nil {
		t.Fatalf("ProcessRemaining: %v", err)
	}
	if out.DailyTaskOK {
		t.Error("daily task stage should fail when its field is already set")
	}

	c, _ := h.store.GetChallenge(id)
	if c.DailyTask != "already written" {
		t.Errorf("daily_task was overwritten: %q", c.DailyTask)
	}
}

func TestProcessUserRunsFullPipeline(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "u1", "Ana")

	out, err := h.runner.ProcessUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ProcessUser: %v", err)
	}
	if !out.BriefOK || !out.Success() {
		t.Errorf("expected full pipeline success, got %+v", out)
	}
	if out.ChallengeID == "" {
		t.Error("outcome should carry the challenge id")
	}
}
