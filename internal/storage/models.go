package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrFieldSet is returned when a patch targets a challenge field that has
// already been written. Each field is written at most once, by one stage.
var ErrFieldSet = errors.New("field already set")

// Profile holds a user's identity and the four descriptor fields the
// generation prompts are personalized with. Profiles are read-only to the
// pipeline; they are managed through the admin API.
type Profile struct {
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	D1        string    `json:"d1"`
	D2        string    `json:"d2"`
	D3        string    `json:"d3"`
	D4        string    `json:"d4"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProgressNote is one timestamped free-text progress entry for a user.
type ProgressNote struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Challenge is the per-user daily challenge record. It is created by the
// brief stage with Brief populated and the other three fields empty; the
// remaining stages each fill exactly one field. A challenge is never
// deleted and may permanently stay partially filled.
type Challenge struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Brief     string    `json:"brief"`
	DailyTask string    `json:"daily_task"`
	ImageRef  string    `json:"image_ref"`
	AudioRef  string    `json:"audio_ref"`
	CreatedAt time.Time `json:"created_at"`
}
