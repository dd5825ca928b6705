package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"pet-adoption-pipeline/config"
)

const graphBaseURL = "https://graph.facebook.com"

// Facebook uploads to a page's videos edge on the Graph API
type Facebook struct {
	pageID     string
	token      string
	version    string
	baseURL    string
	httpClient *http.Client
}

// NewFacebook creates the Facebook page adapter
func NewFacebook(cfg config.PublishConfig, secrets config.Secrets) *Facebook {
	version := cfg.GraphAPIVersion
	if version == "" {
		version = "v20.0"
	}
	return &Facebook{
		pageID:     secrets.FacebookPageID,
		token:      secrets.FacebookAccessToken,
		version:    version,
		baseURL:    graphBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Minute},
	}
}

func (f *Facebook) Name() string { return "facebook" }

type graphResponse struct {
	ID    string `json:"id"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Publish streams the file as a multipart upload
func (f *Facebook) Publish(ctx context.Context, post Post) (Result, error) {
	if f.pageID == "" || f.token == "" {
		return Result{}, fmt.Errorf("FB_PAGE_ID or FB_ACCESS_TOKEN not set")
	}

	file, err := os.Open(post.VideoPath)
	if err != nil {
		return Result{}, fmt.Errorf("open video file: %w", err)
	}
	defer file.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		fields := map[string]string{
			"access_token": f.token,
			"title":        post.Title,
			"description":  post.Caption(),
		}
		for _, k := range []string{"access_token", "title", "description"} {
			if err := mw.WriteField(k, fields[k]); err != nil {
				pw.CloseWithError(err)
				return
			}
		}
		part, err := mw.CreateFormFile("source", filepath.Base(post.VideoPath))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, file); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	url := fmt.Sprintf("%s/%s/%s/videos", f.baseURL, f.version, f.pageID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pr)
	if err != nil {
		pr.Close()
		return Result{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("facebook request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	var gr graphResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return Result{}, fmt.Errorf("facebook upload: HTTP %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	if gr.Error != nil {
		return Result{}, fmt.Errorf("facebook error %d: %s", gr.Error.Code, gr.Error.Message)
	}
	if resp.StatusCode != http.StatusOK || gr.ID == "" {
		return Result{}, fmt.Errorf("facebook upload: HTTP %d without a video id", resp.StatusCode)
	}

	return Result{
		ID:  gr.ID,
		URL: fmt.Sprintf("https://www.facebook.com/%s/videos/%s", f.pageID, gr.ID),
	}, nil
}
