package ffmpeg

// MediaInfo is what the pipeline needs to know about an input file
type MediaInfo struct {
	Path     string
	Duration float64 // seconds
	Width    int
	Height   int
	HasVideo bool
	HasAudio bool
}

// Progress represents ffmpeg progress data
type Progress struct {
	Frame   int
	FPS     float64
	Time    string
	Speed   string
	OutTime float64 // seconds encoded so far
}

// RunOptions configures ffmpeg execution
type RunOptions struct {
	Args            []string
	ProgressHandler func(*Progress)
	LogHandler      func(line string)
}

// Default encoding settings
const (
	DefaultCRF        = 22
	DefaultPreset     = "fast"
	DefaultVideoCodec = "libx264"
	DefaultAudioCodec = "aac"
	DefaultSampleRate = 44100
)

// probeResult matches the subset of ffprobe JSON output we read
type probeResult struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		Duration  string `json:"duration"`
	} `json:"streams"`
}
