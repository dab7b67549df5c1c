// Package assemble builds the merged per-user context every generation
// stage reads: profile fields, recent progress notes, and (for post-brief
// stages) the brief from the existing challenge record.
package assemble

import (
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/forja/internal/storage"
)

// noProgressFallback is used when a user has no recorded progress notes.
const noProgressFallback = "No progress notes recorded yet."

// RecordReader is the read-only slice of the record store the assembler needs.
type RecordReader interface {
	GetProfile(userID string) (storage.Profile, error)
	RecentProgress(userID string, limit int) ([]storage.ProgressNote, error)
	GetChallenge(id string) (storage.Challenge, error)
}

// Context is the merged input for prompt rendering. Brief is empty when
// assembling for the brief stage itself.
type Context struct {
	UserID   string
	Name     string
	D1       string
	D2       string
	D3       string
	D4       string
	Progress string
	Date     string
	Brief    string
}

// Assembler merges user data into a Context. It performs reads only.
type Assembler struct {
	store    RecordReader
	maxNotes int
	now      func() time.Time
}

// New creates an Assembler that includes at most maxNotes recent progress
// notes (default 5 if <= 0).
func New(store RecordReader, maxNotes int) *Assembler {
	if maxNotes <= 0 {
		maxNotes = 5
	}
	return &Assembler{store: store, maxNotes: maxNotes, now: time.Now}
}

// Assemble builds the context for a user without a brief (stage 1 input).
// Returns storage.ErrNotFound when the user has no profile.
func (a *Assembler) Assemble(userID string) (Context, error) {
	profile, err := a.store.GetProfile(userID)
	if err != nil {
		return Context{}, fmt.Errorf("loading profile for %s: %w", userID, err)
	}

	notes, err := a.store.RecentProgress(userID, a.maxNotes)
	if err != nil {
		return Context{}, fmt.Errorf("loading progress for %s: %w", userID, err)
	}

	return Context{
		UserID:   userID,
		Name:     profile.Name,
		D1:       profile.D1,
		D2:       profile.D2,
		D3:       profile.D3,
		D4:       profile.D4,
		Progress: formatProgress(notes),
		Date:     a.now().Format("2006-01-02"),
	}, nil
}

// AssembleForRecord builds the context for stages that run against an
// existing challenge, copying in its brief.
func (a *Assembler) AssembleForRecord(userID, challengeID string) (Context, error) {
	ctx, err := a.Assemble(userID)
	if err != nil {
		return Context{}, err
	}

	challenge, err := a.store.GetChallenge(challengeID)
	if err != nil {
		return Context{}, fmt.Errorf("loading challenge %s: %w", challengeID, err)
	}
	ctx.Brief = challenge.Brief
	return ctx, nil
}

// formatProgress renders notes newest-first as a bulleted list.
func formatProgress(notes []storage.ProgressNote) string {
	if len(notes) == 0 {
		return noProgressFallback
	}
	var sb strings.Builder
	for i, n := range notes {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString("- ")
		sb.WriteString(strings.TrimSpace(n.Text))
	}
	return sb.String()
}
