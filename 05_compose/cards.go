package compose

import (
	"fmt"
	"strings"

	"pet-adoption-pipeline/ffmpeg"
	"pet-adoption-pipeline/types"
)

// cardLine is one drawtext line on a branding card
type cardLine struct {
	text     string
	size     int     // font size at 1080px width
	relY     float64 // vertical center as a fraction of height
	maxChars int
}

// card describes an intro or CTA card
type card struct {
	background string
	lines      []cardLine
	logo       string
	logoWidth  float64 // fraction of frame width
	logoY      float64
}

func introCard(b types.Branding) card {
	return card{
		background: "0x0a0a0a",
		lines:      []cardLine{{text: b.Title, size: 70, relY: 0.40, maxChars: 22}},
		logo:       b.Logo,
		logoWidth:  0.25,
		logoY:      0.65,
	}
}

func ctaCard(b types.Branding) card {
	return card{
		background: "black",
		lines: []cardLine{
			{text: b.CTA, size: 60, relY: 0.40, maxChars: 24},
			{text: b.CTASub, size: 40, relY: 0.60, maxChars: 32},
		},
		logo:      b.Logo,
		logoWidth: 0.20,
		logoY:     0.78,
	}
}

// args renders the card as a silent clip of exactly dur seconds, encoded
// with the same settings as the segments so the concat can stream-copy.
func (c card) args(font string, w, h, fps int, dur float64, encode []string, out string) []string {
	args := []string{
		"-f", "lavfi",
		"-i", fmt.Sprintf("color=c=%s:s=%dx%d:r=%d:d=%.3f", c.background, w, h, fps, dur),
	}
	if c.logo != "" {
		args = append(args, "-loop", "1", "-t", fmt.Sprintf("%.3f", dur), "-i", c.logo)
	}

	scale := float64(w) / 1080
	var chain []string
	for _, l := range c.lines {
		text := strings.TrimSpace(l.text)
		if text == "" {
			continue
		}
		wrapped := wrap(text, l.maxChars)
		size := int(float64(l.size) * scale)
		chain = append(chain, fmt.Sprintf(
			"drawtext=font='%s':text='%s':fontcolor=white:fontsize=%d:line_spacing=12:x=(w-text_w)/2:y=h*%.2f-text_h/2",
			font, ffmpeg.EscapeText(wrapped), size, l.relY,
		))
	}

	var graph string
	base := "[0:v]"
	if len(chain) > 0 {
		graph = base + strings.Join(chain, ",") + "[bg]"
		base = "[bg]"
	}
	if c.logo != "" {
		logoW := int(float64(w) * c.logoWidth)
		if graph != "" {
			graph += ";"
		}
		graph += fmt.Sprintf("[1:v]scale=%d:-1[logo];%s[logo]overlay=(W-w)/2:H*%.2f-h/2[card]", logoW, base, c.logoY)
		base = "[card]"
	}
	if graph == "" {
		graph = "[0:v]null[card]"
		base = "[card]"
	}
	graph += ";" + base + "format=yuv420p,setsar=1[out]"

	args = append(args,
		"-filter_complex", graph,
		"-map", "[out]",
		"-t", fmt.Sprintf("%.3f", dur),
		"-r", fmt.Sprintf("%d", fps),
		"-an",
	)
	args = append(args, encode...)
	return append(args, out)
}

// wrap breaks text into lines of at most n characters on word boundaries
func wrap(text string, n int) string {
	words := strings.Fields(text)
	if n <= 0 || len(words) == 0 {
		return text
	}
	var lines []string
	line := words[0]
	for _, w := range words[1:] {
		if len(line)+1+len(w) > n {
			lines = append(lines, line)
			line = w
			continue
		}
		line += " " + w
	}
	lines = append(lines, line)
	return strings.Join(lines, "\n")
}

// stickerOverlay returns the filter that places input idx on base
func stickerOverlay(s types.Sticker, idx, w int, base, out string) string {
	scale := s.Scale
	if scale <= 0 {
		scale = 0.18
	}
	margin := w / 40
	var x, y string
	switch s.Position {
	case "top-left":
		x, y = fmt.Sprint(margin), fmt.Sprint(margin)
	case "bottom-left":
		x, y = fmt.Sprint(margin), fmt.Sprintf("H-h-%d", margin)
	case "bottom-right":
		x, y = fmt.Sprintf("W-w-%d", margin), fmt.Sprintf("H-h-%d", margin)
	default:
		x, y = fmt.Sprintf("W-w-%d", margin), fmt.Sprint(margin)
	}
	return fmt.Sprintf("[%d:v]scale=%d:-1[st%d];%s[st%d]overlay=%s:%s%s",
		idx, int(float64(w)*scale), idx, base, idx, x, y, out)
}
