package server

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"pet-adoption-pipeline/pipeline"
)

var errOutsideRoot = errors.New("path is outside the allowed directories")

// roots confines request paths to a set of directories
type roots []string

func newRoots(dirs ...string) roots {
	var r roots
	for _, d := range dirs {
		if strings.TrimSpace(d) == "" {
			continue
		}
		if abs, err := resolve(d); err == nil {
			r = append(r, abs)
		}
	}
	if len(r) == 0 {
		if abs, err := resolve("."); err == nil {
			r = append(r, abs)
		}
	}
	return r
}

// resolve makes p absolute and follows symlinks for the part that exists
func resolve(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	dir, rest := abs, ""
	for {
		if real, err := filepath.EvalSymlinks(dir); err == nil {
			return filepath.Join(real, rest), nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs, nil
		}
		rest = filepath.Join(filepath.Base(dir), rest)
		dir = parent
	}
}

func (r roots) allows(p string) bool {
	for _, part := range strings.Split(filepath.ToSlash(p), "/") {
		if part == ".." {
			return false
		}
	}
	abs, err := resolve(p)
	if err != nil {
		return false
	}
	for _, root := range r {
		rel, err := filepath.Rel(root, abs)
		if err != nil {
			continue
		}
		if rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (r roots) check(field, p string) error {
	if p == "" || r.allows(p) {
		return nil
	}
	return fmt.Errorf("%s %q: %w", field, p, errOutsideRoot)
}

// checkRequest confines every host path a generation request names
func (a *App) checkRequest(req pipeline.Request) error {
	checks := []struct{ field, path string }{
		{"pet_dir", req.PetDir},
		{"clips_dir", req.ClipsDir},
		{"music_dir", req.MusicDir},
	}
	for _, c := range req.Clips {
		checks = append(checks, struct{ field, path string }{"clips", c})
	}
	for _, s := range req.Stickers {
		checks = append(checks, struct{ field, path string }{"stickers", s.Path})
	}
	for _, c := range checks {
		if err := a.inputs.check(c.field, c.path); err != nil {
			return err
		}
	}
	return a.outputs.check("out", req.Output)
}
