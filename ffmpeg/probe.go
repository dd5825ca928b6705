package ffmpeg

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	ffmpeggo "github.com/u2takey/ffmpeg-go"
)

// Probe reads duration and stream layout of a media file through ffprobe.
func (e *Executor) Probe(ctx context.Context, path string) (*MediaInfo, error) {
	return Probe(ctx, path)
}

// ProbeDuration returns the duration of a media file in seconds
func (e *Executor) ProbeDuration(ctx context.Context, path string) (float64, error) {
	info, err := Probe(ctx, path)
	if err != nil {
		return 0, err
	}
	return info.Duration, nil
}

// Probe is the executor-free form used by callers that only need ffprobe.
func Probe(ctx context.Context, path string) (*MediaInfo, error) {
	if path == "" {
		return nil, errors.New("file path is required")
	}
	timeout, err := probeTimeout(ctx)
	if err != nil {
		return nil, err
	}

	out, err := ffmpeggo.ProbeWithTimeout(path, timeout, ffmpeggo.KwArgs{})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, errors.Wrapf(err, "probe %s", path)
	}
	return parseProbe(path, out)
}

// probeTimeout is the time left on ctx, zero when it has no deadline
func probeTimeout(ctx context.Context) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		return 0, nil
	}
	left := time.Until(deadline)
	if left <= 0 {
		return 0, context.DeadlineExceeded
	}
	return left, nil
}

func parseProbe(path, out string) (*MediaInfo, error) {
	var probe probeResult
	if err := json.Unmarshal([]byte(out), &probe); err != nil {
		return nil, errors.WithStack(err)
	}

	info := &MediaInfo{Path: path}
	info.Duration = parseSeconds(probe.Format.Duration)

	for _, s := range probe.Streams {
		switch s.CodecType {
		case "video":
			info.HasVideo = true
			info.Width = s.Width
			info.Height = s.Height
			if info.Duration == 0 {
				info.Duration = parseSeconds(s.Duration)
			}
		case "audio":
			info.HasAudio = true
			if info.Duration == 0 {
				info.Duration = parseSeconds(s.Duration)
			}
		}
	}

	if info.Duration <= 0 {
		return nil, errors.Errorf("no duration reported for %s", path)
	}
	return info, nil
}

func parseSeconds(s string) float64 {
	d, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return d
}
