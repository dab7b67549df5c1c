// Package pipeline runs the four-stage challenge generation sequence:
// brief, then daily task, image, and podcast audio concurrently. The brief
// is a hard dependency; the three post-brief stages are isolated from each
// other, and each commits its own field independently.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kalambet/forja/internal/assemble"
	"github.com/kalambet/forja/internal/blob"
	"github.com/kalambet/forja/internal/storage"
)

// TextGenerator produces text from an instruction prompt.
type TextGenerator interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// ImageGenerator renders an image from a description prompt.
type ImageGenerator interface {
	Render(ctx context.Context, prompt string) ([]byte, error)
}

// SpeechSynthesizer renders a script into audio bytes.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, script string) ([]byte, error)
}

// RecordStore is the mutable slice of storage the pipeline writes to.
type RecordStore interface {
	CreateChallenge(userID, brief string) (string, error)
	ApplyPatch(id string, p storage.Patch) error
}

// ContextAssembler builds the merged per-user context for prompt rendering.
type ContextAssembler interface {
	Assemble(userID string) (assemble.Context, error)
	AssembleForRecord(userID, challengeID string) (assemble.Context, error)
}

// PromptRenderer renders the per-stage instruction prompts.
type PromptRenderer interface {
	Brief(assemble.Context) (string, error)
	DailyTask(assemble.Context) (string, error)
	ImageDescription(assemble.Context) (string, error)
	PodcastScript(assemble.Context) (string, error)
	ImageFallback(description string) (string, error)
}

// Outcome reports per-stage results for one user. BriefOK false means the
// post-brief stages never ran.
type Outcome struct {
	ChallengeID string `json:"challenge_id,omitempty"`
	BriefOK     bool   `json:"brief_ok"`
	DailyTaskOK bool   `json:"daily_task_ok"`
	ImageOK     bool   `json:"image_ok"`
	AudioOK     bool   `json:"audio_ok"`
}

// Success reports whether at least one post-brief stage persisted its field.
// The brief is a precondition, not counted.
func (o Outcome) Success() bool {
	return o.DailyTaskOK || o.ImageOK || o.AudioOK
}

// Runner executes the generation stages for a single user.
type Runner struct {
	assembler ContextAssembler
	prompts   PromptRenderer
	text      TextGenerator
	image     ImageGenerator
	speech    SpeechSynthesizer
	records   RecordStore
	blobs     blob.Store
	logger    *slog.Logger
}

// NewRunner creates a Runner wired to its providers.
func NewRunner(
	assembler ContextAssembler,
	prompts PromptRenderer,
	text TextGenerator,
	image ImageGenerator,
	speech SpeechSynthesizer,
	records RecordStore,
	blobs blob.Store,
) *Runner {
	return &Runner{
		assembler: assembler,
		prompts:   prompts,
		text:      text,
		image:     image,
		speech:    speech,
		records:   records,
		blobs:     blobs,
		logger:    slog.Default(),
	}
}

// GenerateBrief runs stage 1: assemble context, generate the brief, and
// create the challenge record. No record is created on failure.
func (r *Runner) GenerateBrief(ctx context.Context, userID string) (string, error) {
	uctx, err := r.assembler.Assemble(userID)
	if err != nil {
		return "", err
	}

	instruction, err := r.prompts.Brief(uctx)
	if err != nil {
		return "", fmt.Errorf("rendering brief prompt: %w", err)
	}

	brief, err := r.text.Complete(ctx, instruction)
	if err != nil {
		return "", fmt.Errorf("generating brief: %w", err)
	}

	id, err := r.records.CreateChallenge(userID, brief)
	if err != nil {
		return "", fmt.Errorf("creating challenge record: %w", err)
	}

	r.logger.Info("brief created", "user_id", userID, "challenge_id", id)
	return id, nil
}

// ProcessRemaining runs stages 2-4 concurrently against an existing
// challenge. The returned error covers setup only (missing user or record);
// individual stage failures are reported through the Outcome and never
// affect sibling stages.
func (r *Runner) ProcessRemaining(ctx context.Context, userID, challengeID string) (Outcome, error) {
	uctx, err := r.assembler.AssembleForRecord(userID, challengeID)
	if err != nil {
		return Outcome{}, err
	}
	if uctx.Brief == "" {
		return Outcome{}, fmt.Errorf("challenge %s has no brief", challengeID)
	}

	out := Outcome{ChallengeID: challengeID, BriefOK: true}

	// The three stages write disjoint fields of the same record, so they
	// need no coordination beyond the join. A failing stage must not
	// cancel its siblings, hence no shared error context.
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		out.DailyTaskOK = r.runStage(ctx, "daily_task", userID, challengeID, func() error {
			return r.stageDailyTask(ctx, uctx, challengeID)
		})
	}()
	go func() {
		defer wg.Done()
		out.ImageOK = r.runStage(ctx, "image", userID, challengeID, func() error {
			return r.stageImage(ctx, uctx, challengeID)
		})
	}()
	go func() {
		defer wg.Done()
		out.AudioOK = r.runStage(ctx, "audio", userID, challengeID, func() error {
			return r.stagePodcast(ctx, uctx, challengeID)
		})
	}()
	wg.Wait()

	r.logger.Info("post-brief stages finished",
		"user_id", userID,
		"challenge_id", challengeID,
		"daily_task_ok", out.DailyTaskOK,
		"image_ok", out.ImageOK,
		"audio_ok", out.AudioOK,
	)
	return out, nil
}

// ProcessUser runs the full pipeline for one user: brief, then the three
// post-brief stages.
func (r *Runner) ProcessUser(ctx context.Context, userID string) (Outcome, error) {
	challengeID, err := r.GenerateBrief(ctx, userID)
	if err != nil {
		return Outcome{}, err
	}
	return r.ProcessRemaining(ctx, userID, challengeID)
}

// runStage converts any stage error (or panic) into a boolean so a failure
// stays contained at the stage boundary.
func (r *Runner) runStage(ctx context.Context, stage, userID, challengeID string, fn func() error) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("stage panicked", "stage", stage, "user_id", userID, "challenge_id", challengeID, "panic", rec)
			ok = false
		}
	}()

	if err := fn(); err != nil {
		r.logger.Warn("stage failed", "stage", stage, "user_id", userID, "challenge_id", challengeID, "error", err)
		return false
	}
	return true
}

func (r *Runner) stageDailyTask(ctx context.Context, uctx assemble.Context, challengeID string) error {
	instruction, err := r.prompts.DailyTask(uctx)
	if err != nil {
		return fmt.Errorf("rendering daily task prompt: %w", err)
	}

	task, err := r.text.Complete(ctx, instruction)
	if err != nil {
		return fmt.Errorf("generating daily task: %w", err)
	}

	if err := r.records.ApplyPatch(challengeID, storage.DailyTaskPatch{Text: task}); err != nil {
		return fmt.Errorf("writing daily task: %w", err)
	}
	return nil
}

func (r *Runner) stageImage(ctx context.Context, uctx assemble.Context, challengeID string) error {
	instruction, err := r.prompts.ImageDescription(uctx)
	if err != nil {
		return fmt.Errorf("rendering image description prompt: %w", err)
	}

	description, err := r.text.Complete(ctx, instruction)
	if err != nil {
		return fmt.Errorf("generating image description: %w", err)
	}

	img, err := r.image.Render(ctx, description)
	if err != nil {
		// One retry with a restyled prompt; content filters often pass
		// on the transformed description.
		r.logger.Warn("image render failed, retrying with fallback prompt",
			"user_id", uctx.UserID, "challenge_id", challengeID, "error", err)

		fallback, fbErr := r.prompts.ImageFallback(description)
		if fbErr != nil {
			return fmt.Errorf("rendering fallback prompt: %w", fbErr)
		}
		img, err = r.image.Render(ctx, fallback)
		if err != nil {
			return fmt.Errorf("rendering image (after fallback): %w", err)
		}
	}

	path := fmt.Sprintf("challenges/%s/%s/image.png", uctx.UserID, challengeID)
	uri, err := r.blobs.Upload(ctx, img, path, "image/png")
	if err != nil {
		return fmt.Errorf("uploading image: %w", err)
	}

	if err := r.records.ApplyPatch(challengeID, storage.ImagePatch{URI: uri}); err != nil {
		return fmt.Errorf("writing image ref: %w", err)
	}
	return nil
}

func (r *Runner) stagePodcast(ctx context.Context, uctx assemble.Context, challengeID string) error {
	instruction, err := r.prompts.PodcastScript(uctx)
	if err != nil {
		return fmt.Errorf("rendering podcast prompt: %w", err)
	}

	script, err := r.text.Complete(ctx, instruction)
	if err != nil {
		return fmt.Errorf("generating podcast script: %w", err)
	}

	audio, err := r.speech.Synthesize(ctx, script)
	if err != nil {
		return fmt.Errorf("synthesizing podcast audio: %w", err)
	}

	path := fmt.Sprintf("challenges/%s/%s/podcast.wav", uctx.UserID, challengeID)
	uri, err := r.blobs.Upload(ctx, audio, path, "audio/wav")
	if err != nil {
		return fmt.Errorf("uploading podcast audio: %w", err)
	}

	if err := r.records.ApplyPatch(challengeID, storage.AudioPatch{URI: uri}); err != nil {
		return fmt.Errorf("writing audio ref: %w", err)
	}
	return nil
}
