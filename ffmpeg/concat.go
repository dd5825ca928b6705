package ffmpeg

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ConcatOptions defines concatenation parameters
type ConcatOptions struct {
	Inputs []string
	Output string
	// ListDir holds the generated file list; defaults to the output's directory
	ListDir string
	// Copy stream-copies instead of re-encoding; inputs must share codecs
	Copy bool
	// OutputArgs go between the input and the output path when re-encoding
	OutputArgs []string
}

// ConcatArgs writes the concat list and returns the ffmpeg arguments that
// join the inputs in order.
func ConcatArgs(opts ConcatOptions) ([]string, error) {
	if len(opts.Inputs) == 0 {
		return nil, fmt.Errorf("no input files provided")
	}
	if opts.Output == "" {
		return nil, fmt.Errorf("output path is required")
	}

	dir := opts.ListDir
	if dir == "" {
		dir = filepath.Dir(opts.Output)
	}
	listFile := filepath.Join(dir, strings.TrimSuffix(filepath.Base(opts.Output), filepath.Ext(opts.Output))+"_concat.txt")

	var lines []string
	for _, in := range opts.Inputs {
		abs, err := filepath.Abs(in)
		if err != nil {
			return nil, err
		}
		lines = append(lines, fmt.Sprintf("file '%s'", strings.ReplaceAll(abs, "'", `'\''`)))
	}
	if err := os.WriteFile(listFile, []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		return nil, fmt.Errorf("write concat list: %w", err)
	}

	args := []string{"-f", "concat", "-safe", "0", "-i", listFile}
	if opts.Copy {
		args = append(args, "-c", "copy")
	} else {
		args = append(args, opts.OutputArgs...)
	}
	return append(args, opts.Output), nil
}
