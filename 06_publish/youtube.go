package publish

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"pet-adoption-pipeline/config"
	"pet-adoption-pipeline/logging"
)

// YouTube uploads through the Data API v3 with refresh-token credentials
type YouTube struct {
	cfg     config.PublishConfig
	secrets config.Secrets
	// opts replace the authenticated client, used against a test server
	opts []option.ClientOption
}

// NewYouTube creates the YouTube adapter
func NewYouTube(cfg config.PublishConfig, secrets config.Secrets, opts ...option.ClientOption) *YouTube {
	return &YouTube{cfg: cfg, secrets: secrets, opts: opts}
}

func (y *YouTube) Name() string { return "youtube" }

// Publish uploads the video file with its snippet and status
func (y *YouTube) Publish(ctx context.Context, post Post) (Result, error) {
	logger := logging.WithComponent("publish.youtube")

	opts := y.opts
	if len(opts) == 0 {
		client, err := y.oauthClient(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("youtube auth: %w", err)
		}
		opts = []option.ClientOption{option.WithHTTPClient(client)}
	}

	svc, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return Result{}, fmt.Errorf("youtube service: %w", err)
	}

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:                post.Title,
			Description:          post.Caption(),
			Tags:                 post.Hashtags,
			CategoryId:           y.cfg.YouTubeCategoryID,
			DefaultLanguage:      y.cfg.DefaultLanguage,
			DefaultAudioLanguage: y.cfg.DefaultLanguage,
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus:           y.cfg.Visibility,
			SelfDeclaredMadeForKids: y.cfg.MadeForKids,
		},
	}

	f, err := os.Open(post.VideoPath)
	if err != nil {
		return Result{}, fmt.Errorf("open video file: %w", err)
	}
	defer f.Close()

	if fi, err := f.Stat(); err == nil {
		logger.Info().Str("title", post.Title).Float64("size_mb", float64(fi.Size())/1024/1024).Msg("uploading")
	}

	uploaded, err := svc.Videos.Insert([]string{"snippet", "status"}, video).Media(f).Context(ctx).Do()
	if err != nil {
		return Result{}, fmt.Errorf("youtube upload: %w", err)
	}

	return Result{
		ID:  uploaded.Id,
		URL: fmt.Sprintf("https://www.youtube.com/watch?v=%s", uploaded.Id),
	}, nil
}

func (y *YouTube) oauthClient(ctx context.Context) (*http.Client, error) {
	if y.secrets.YouTubeClientID == "" || y.secrets.YouTubeClientSecret == "" || y.secrets.YouTubeRefreshToken == "" {
		return nil, fmt.Errorf("YOUTUBE_CLIENT_ID, YOUTUBE_CLIENT_SECRET, or YOUTUBE_REFRESH_TOKEN not set")
	}

	conf := &oauth2.Config{
		ClientID:     y.secrets.YouTubeClientID,
		ClientSecret: y.secrets.YouTubeClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{youtube.YoutubeUploadScope},
	}
	token := &oauth2.Token{
		RefreshToken: y.secrets.YouTubeRefreshToken,
		Expiry:       time.Now().Add(-time.Hour), // force refresh
	}
	return oauth2.NewClient(ctx, conf.TokenSource(ctx, token)), nil
}
