package types

import "fmt"

// WarningKind classifies a non-fatal condition recorded in a RenderResult
type WarningKind string

const (
	WarnTTSFallback  WarningKind = "tts_fallback"
	WarnClipLooped   WarningKind = "clip_looped"
	WarnClipReused   WarningKind = "clip_reused"
	WarnMusicMissing WarningKind = "music_missing"
	WarnToneUnknown  WarningKind = "tone_unknown"
	WarnProbeFailed  WarningKind = "probe_failed"
	WarnDurationDiff WarningKind = "duration_probe"
)

// Warning is a degraded-but-recovered condition. BeatIndex is -1 when the
// warning is not tied to a beat.
type Warning struct {
	Kind      WarningKind `json:"kind"`
	BeatIndex int         `json:"beat_index"`
	Message   string      `json:"message"`
}

func (w Warning) String() string {
	if w.BeatIndex < 0 {
		return fmt.Sprintf("%s: %s", w.Kind, w.Message)
	}
	return fmt.Sprintf("%s (beat %d): %s", w.Kind, w.BeatIndex, w.Message)
}

// InsufficientMetadataError means a caption template needs a field the
// metadata does not carry and that has no default.
type InsufficientMetadataError struct {
	Field string
	Stage Stage
}

func (e *InsufficientMetadataError) Error() string {
	return fmt.Sprintf("insufficient metadata: field %q required by %s caption has no value and no default", e.Field, e.Stage)
}

// NoClipsAvailableError means the pool holds no usable clip.
type NoClipsAvailableError struct {
	PoolSize int
	Excluded int
}

func (e *NoClipsAvailableError) Error() string {
	if e.PoolSize == 0 {
		return "no clips available: clip pool is empty"
	}
	return fmt.Sprintf("no clips available: all %d clips are shorter than the minimum usable cut", e.Excluded)
}

// RenderFailedError aborts a render. Segment is the failing segment index,
// or -1 when the failure is not tied to one segment.
type RenderFailedError struct {
	Segment int
	Err     error
}

func (e *RenderFailedError) Error() string {
	if e.Segment < 0 {
		return fmt.Sprintf("render failed: %v", e.Err)
	}
	return fmt.Sprintf("render failed at segment %d: %v", e.Segment, e.Err)
}

func (e *RenderFailedError) Unwrap() error {
	return e.Err
}

// OutputConflictError means another job owns, or already wrote, the output path.
type OutputConflictError struct {
	Path string
}

func (e *OutputConflictError) Error() string {
	return fmt.Sprintf("output conflict: %s already exists or is being written", e.Path)
}
