package publish

import (
	"fmt"
	"strings"
	"unicode"

	"pet-adoption-pipeline/config"
	"pet-adoption-pipeline/types"
)

const maxHashtags = 15

// Post is what every platform adapter uploads
type Post struct {
	VideoPath   string   `json:"video_path" validate:"required"`
	Title       string   `json:"title" validate:"required"`
	Description string   `json:"description"`
	Hashtags    []string `json:"hashtags"`
}

// Caption is the description followed by the hashtag line
func (p Post) Caption() string {
	if len(p.Hashtags) == 0 {
		return p.Description
	}
	tags := make([]string, len(p.Hashtags))
	for i, h := range p.Hashtags {
		tags[i] = "#" + h
	}
	if p.Description == "" {
		return strings.Join(tags, " ")
	}
	return p.Description + "\n\n" + strings.Join(tags, " ")
}

// BuildPost derives the title, description and hashtags for a pet's video.
// The same inputs always give the same post.
func BuildPost(cfg config.PublishConfig, videoPath string, meta types.PetMetadata, story types.Storyline) Post {
	name := strings.TrimSpace(meta.Name)
	if name == "" {
		name = "this pet"
	}
	species := strings.TrimSpace(meta.Species)
	if species == "" {
		species = "pet"
	}

	title := fmt.Sprintf("Meet %s: a %s waiting for a home", name, species)
	if meta.StayDays > 0 {
		title = fmt.Sprintf("Meet %s: %d days waiting for a home", name, meta.StayDays)
	}
	title = truncate(title, cfg.TitleMaxChars)

	var desc strings.Builder
	for _, b := range story.Beats {
		desc.WriteString(b.Caption)
		desc.WriteString("\n")
	}
	if meta.IntakeStory != "" {
		desc.WriteString("\n")
		desc.WriteString(strings.TrimSpace(meta.IntakeStory))
		desc.WriteString("\n")
	}
	fmt.Fprintf(&desc, "\nAdopt %s today. Share this video so %s finds a family.", name, name)

	return Post{
		VideoPath:   videoPath,
		Title:       title,
		Description: desc.String(),
		Hashtags:    hashtags(cfg.BaseHashtags, name, species, meta.Tags),
	}
}

// hashtags merges the base set with pet-specific tags, deduplicated, in order
func hashtags(base []string, name, species string, tags []string) []string {
	seen := map[string]bool{}
	var out []string
	add := func(s string) {
		h := hashtag(s)
		if h == "" || seen[h] || len(out) >= maxHashtags {
			return
		}
		seen[h] = true
		out = append(out, h)
	}
	for _, b := range base {
		add(b)
	}
	add("adopt" + name)
	add(species)
	add("adopt" + species)
	for _, t := range tags {
		add(t)
	}
	return out
}

// hashtag lowercases s and drops everything but letters and digits
func hashtag(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimPrefix(s, "#")) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func truncate(s string, max int) string {
	r := []rune(s)
	if max <= 3 || len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
