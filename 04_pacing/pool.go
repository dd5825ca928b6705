package pacing

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"pet-adoption-pipeline/ffmpeg"
	"pet-adoption-pipeline/logging"
	"pet-adoption-pipeline/types"
)

// TagsFile optionally sits next to the clips and maps filename → mood tags
const TagsFile = "tags.json"

// probeParallel bounds concurrent ffprobe runs while loading a pool
const probeParallel = 4

var clipExtensions = map[string]bool{".mp4": true, ".mov": true, ".m4v": true}

// Prober reads media info, normally backed by ffprobe
type Prober interface {
	Probe(ctx context.Context, path string) (*ffmpeg.MediaInfo, error)
}

// LoadPool builds the clip pool from a directory, or from an explicit file
// list when files is non-empty. Unreadable clips are skipped with a
// probe_failed warning. The pool is sorted by path.
func LoadPool(ctx context.Context, prober Prober, dir string, files []string) ([]types.ClipAsset, []types.Warning, error) {
	logger := logging.WithComponent("pacing")

	paths := files
	if len(paths) == 0 {
		var err error
		if paths, err = listClips(dir); err != nil {
			return nil, nil, err
		}
	}
	paths = append([]string(nil), paths...)
	sort.Strings(paths)

	tags := make(map[string][]string)
	for _, d := range tagDirs(dir, paths) {
		t, err := loadTagsJSON(filepath.Join(d, TagsFile))
		if err != nil {
			return nil, nil, fmt.Errorf("load clip tags: %w", err)
		}
		for k, v := range t {
			tags[filepath.Join(d, k)] = v
		}
	}

	probes := probeAll(ctx, prober, paths)
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	var (
		pool     []types.ClipAsset
		warnings []types.Warning
	)
	for i, p := range paths {
		info, err := probes[i].info, probes[i].err
		if err == nil && !info.HasVideo {
			err = fmt.Errorf("no video stream")
		}
		if err != nil {
			warnings = append(warnings, types.Warning{
				Kind:      types.WarnProbeFailed,
				BeatIndex: -1,
				Message:   fmt.Sprintf("skipping clip %s: %v", p, err),
			})
			logger.Warn().Str("clip", p).Err(err).Msg("clip unreadable, skipped")
			continue
		}

		pool = append(pool, types.ClipAsset{
			Path:     p,
			Duration: info.Duration,
			Mood:     moodOf(p, tags[filepath.Clean(p)]),
		})
	}

	logger.Info().Int("clips", len(pool)).Int("skipped", len(warnings)).Msg("clip pool loaded")
	return pool, warnings, nil
}

type probeResult struct {
	info *ffmpeg.MediaInfo
	err  error
}

// probeAll probes every path with at most probeParallel ffprobe runs at
// once. Results keep the order of paths.
func probeAll(ctx context.Context, prober Prober, paths []string) []probeResult {
	results := make([]probeResult, len(paths))
	sem := make(chan struct{}, probeParallel)
	var wg sync.WaitGroup

	for i, p := range paths {
		wg.Add(1)
		go func(i int, p string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[i].err = ctx.Err()
				return
			}
			defer func() { <-sem }()
			results[i].info, results[i].err = prober.Probe(ctx, p)
		}(i, p)
	}
	wg.Wait()
	return results
}

func listClips(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read clip dir: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if clipExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	return paths, nil
}

// tagDirs lists every directory that may hold a tags.json for these clips
func tagDirs(dir string, paths []string) []string {
	seen := make(map[string]bool)
	var dirs []string
	add := func(d string) {
		d = filepath.Clean(d)
		if d != "" && !seen[d] {
			seen[d] = true
			dirs = append(dirs, d)
		}
	}
	if dir != "" {
		add(dir)
	}
	for _, p := range paths {
		add(filepath.Dir(p))
	}
	return dirs
}

// moodOf takes the first tag naming a stage, then a "<mood>_" filename prefix
func moodOf(path string, tags []string) string {
	for _, t := range tags {
		if st, ok := types.ParseStage(t); ok {
			return string(st)
		}
	}
	base := filepath.Base(path)
	if prefix, _, ok := strings.Cut(base, "_"); ok {
		if st, ok := types.ParseStage(prefix); ok {
			return string(st)
		}
	}
	return ""
}

// loadTagsJSON reads filename → tags. Values may be a list or a single
// string; keys starting with "_" are notes and skipped.
func loadTagsJSON(path string) (map[string][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string][]string{}, nil
		}
		return nil, err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	result := make(map[string][]string)
	for k, v := range raw {
		if strings.HasPrefix(k, "_") {
			continue
		}
		var list []string
		if err := json.Unmarshal(v, &list); err == nil {
			result[k] = list
			continue
		}
		var one string
		if err := json.Unmarshal(v, &one); err == nil {
			result[k] = []string{one}
		}
	}
	return result, nil
}
