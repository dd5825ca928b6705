package ffmpeg

import (
	"fmt"
	"strings"
)

// FilterBuilder helps construct comma-joined ffmpeg filter chains
type FilterBuilder struct {
	filters []string
}

// NewFilterBuilder creates a new filter builder
func NewFilterBuilder() *FilterBuilder {
	return &FilterBuilder{filters: make([]string, 0)}
}

// Letterbox scales to fit inside width x height and pads the rest black
func (fb *FilterBuilder) Letterbox(width, height int) *FilterBuilder {
	if width <= 0 || height <= 0 {
		return fb
	}
	fb.filters = append(fb.filters,
		fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease", width, height),
		fmt.Sprintf("pad=%d:%d:(ow-iw)/2:(oh-ih)/2:black", width, height),
	)
	return fb
}

// CoverCrop scales to cover width x height and center-crops the overflow
func (fb *FilterBuilder) CoverCrop(width, height int) *FilterBuilder {
	if width <= 0 || height <= 0 {
		return fb
	}
	fb.filters = append(fb.filters,
		fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=increase", width, height),
		fmt.Sprintf("crop=%d:%d", width, height),
	)
	return fb
}

// Eq adds an eq filter; neutral values are 1, 0, 1, 1
func (fb *FilterBuilder) Eq(saturation, brightness, contrast, gamma float64) *FilterBuilder {
	fb.filters = append(fb.filters, fmt.Sprintf(
		"eq=saturation=%.3f:brightness=%.3f:contrast=%.3f:gamma=%.3f",
		saturation, brightness, contrast, gamma,
	))
	return fb
}

// Warmth shifts midtones toward red (positive) or blue (negative)
func (fb *FilterBuilder) Warmth(amount float64) *FilterBuilder {
	if amount == 0 {
		return fb
	}
	fb.filters = append(fb.filters, fmt.Sprintf("colorbalance=rm=%.3f:bm=%.3f", amount, -amount))
	return fb
}

// FPS adds an fps filter
func (fb *FilterBuilder) FPS(fps int) *FilterBuilder {
	if fps <= 0 {
		return fb
	}
	fb.filters = append(fb.filters, fmt.Sprintf("fps=%d", fps))
	return fb
}

// Format forces the pixel format and square pixels
func (fb *FilterBuilder) Format(pixFmt string) *FilterBuilder {
	fb.filters = append(fb.filters, "setsar=1", "format="+pixFmt)
	return fb
}

// Build returns the complete filter string joined with commas
func (fb *FilterBuilder) Build() string {
	return strings.Join(fb.filters, ",")
}

// EscapeText escapes a string for use as a drawtext text= value
func EscapeText(s string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		`'`, "’",
		`:`, `\:`,
		`%`, `\%`,
		`,`, `\,`,
	)
	return r.Replace(s)
}

// EscapePath escapes a file path for use inside a filter argument
// such as subtitles= or movie=.
func EscapePath(p string) string {
	r := strings.NewReplacer(
		`\`, `/`,
		`:`, `\:`,
		`'`, `\'`,
		`,`, `\,`,
		`[`, `\[`,
		`]`, `\]`,
	)
	return r.Replace(p)
}
