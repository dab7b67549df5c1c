package storage

// Patch is a single-field update to a challenge record. The set of
// implementations is closed: each post-brief stage owns exactly one field,
// so an arbitrary key/value update cannot be expressed.
type Patch interface {
	column() string
	value() string
}

// DailyTaskPatch writes the daily_task field.
type DailyTaskPatch struct {
	Text string
}

func (p DailyTaskPatch) column() string { return "daily_task" }
func (p DailyTaskPatch) value() string  { return p.Text }

// ImagePatch writes the image_ref field.
type ImagePatch struct {
	URI string
}

func (p ImagePatch) column() string { return "image_ref" }
func (p ImagePatch) value() string  { return p.URI }

// AudioPatch writes the audio_ref field.
type AudioPatch struct {
	URI string
}

func (p AudioPatch) column() string { return "audio_ref" }
func (p AudioPatch) value() string  { return p.URI }
