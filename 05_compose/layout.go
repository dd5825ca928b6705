package compose

import (
	"pet-adoption-pipeline/ffmpeg"
	"pet-adoption-pipeline/types"
)

// resolutions per output aspect
var resolutions = map[types.Aspect][2]int{
	types.AspectVertical:   {1080, 1920},
	types.AspectSquare:     {1080, 1080},
	types.AspectHorizontal: {1920, 1080},
}

// Resolution returns width and height for an aspect, vertical when unknown
func Resolution(a types.Aspect) (int, int) {
	r, ok := resolutions[a]
	if !ok {
		r = resolutions[types.AspectVertical]
	}
	return r[0], r[1]
}

// ParseAspect accepts the aspect names plus "portrait" and "landscape"
func ParseAspect(s string) (types.Aspect, bool) {
	switch s {
	case "vertical", "portrait", "":
		return types.AspectVertical, true
	case "square":
		return types.AspectSquare, true
	case "horizontal", "landscape":
		return types.AspectHorizontal, true
	}
	return "", false
}

// segmentFilter fits, grades and normalizes one clip range. Source frames
// are letterboxed or center-cropped, never stretched.
func segmentFilter(fit string, w, h, fps int, g types.Grade) string {
	fb := ffmpeg.NewFilterBuilder()
	if fit == "letterbox" {
		fb.Letterbox(w, h)
	} else {
		fb.CoverCrop(w, h)
	}
	return fb.
		Eq(nonZero(g.Saturation, 1), g.Brightness, nonZero(g.Contrast, 1), nonZero(g.Gamma, 1)).
		Warmth(g.Warmth).
		FPS(fps).
		Format("yuv420p").
		Build()
}

func nonZero(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}
