// Package bunny talks to the Bunny Stream and Bunny Storage HTTP APIs: it creates video
// objects, hands out upload targets, transfers asset bytes, and reads encoding status.
package bunny

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/onnwee/snapcast/config"
	"github.com/onnwee/snapcast/telemetry"
	"github.com/onnwee/snapcast/video"
)

// statusFinished is the Bunny Stream status code of a fully encoded video.
const statusFinished = 4

// APIError is a non-2xx answer from Bunny.
type APIError struct {
	Op     string
	Body   string
	Status int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bunny %s: status %d: %s", e.Op, e.Status, e.Body)
}

// Client implements video.MediaProvider against one Bunny library.
type Client struct {
	HTTPClient *http.Client
	Limiter    *rate.Limiter
	Now        func() time.Time

	StreamBaseURL  string
	StorageBaseURL string
	CDNURL         string
	EmbedURL       string
	LibraryID      string
	StreamKey      string
	StorageKey     string
}

// New builds a client from configuration. API calls are paced at cfg.BunnyAPIRPS.
func New(cfg *config.Config) *Client {
	var lim *rate.Limiter
	if cfg.BunnyAPIRPS > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.BunnyAPIRPS), 1)
	}
	return &Client{
		HTTPClient:     &http.Client{Timeout: 30 * time.Minute},
		Limiter:        lim,
		StreamBaseURL:  cfg.BunnyStreamBaseURL,
		StorageBaseURL: cfg.BunnyStorageBaseURL,
		CDNURL:         cfg.BunnyCDNURL,
		EmbedURL:       cfg.BunnyEmbedURL,
		LibraryID:      cfg.BunnyLibraryID,
		StreamKey:      cfg.BunnyStreamAccessKey,
		StorageKey:     cfg.BunnyStorageAccessKey,
	}
}

var _ video.MediaProvider = (*Client)(nil)

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Client) videosURL() string {
	return c.StreamBaseURL + "/" + c.LibraryID + "/videos"
}

func (c *Client) videoURL(guid string) string {
	return c.videosURL() + "/" + guid
}

func (c *Client) wait(ctx context.Context) error {
	if c.Limiter == nil {
		return nil
	}
	return c.Limiter.Wait(ctx)
}

// call sends one JSON API request and decodes the response into out when non-nil.
func (c *Client) call(ctx context.Context, op, method, url, accessKey string, in, out any) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "bunny", op, telemetry.MediaOpAttr(op))
	defer func() {
		telemetry.MediaCall(op, err)
		telemetry.EndSpan(span, err)
	}()
	if err := c.wait(ctx); err != nil {
		return err
	}
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("AccessKey", accessKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &APIError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// CreateVideo registers a new video object and returns the stream upload target for it.
func (c *Client) CreateVideo(ctx context.Context, title string) (*video.UploadTarget, error) {
	var created struct {
		GUID string `json:"guid"`
	}
	in := map[string]string{"title": title, "collectionId": ""}
	if err := c.call(ctx, "create_video", http.MethodPost, c.videosURL(), c.StreamKey, in, &created); err != nil {
		return nil, err
	}
	if created.GUID == "" {
		return nil, fmt.Errorf("bunny create_video: response has no guid")
	}
	return &video.UploadTarget{
		VideoID:   created.GUID,
		UploadURL: c.videoURL(created.GUID),
		AccessKey: c.StreamKey,
	}, nil
}

// ThumbnailTarget names a fresh storage object for the thumbnail of videoID.
func (c *Client) ThumbnailTarget(_ context.Context, videoID string) (*video.ThumbnailTarget, error) {
	if videoID == "" {
		return nil, fmt.Errorf("bunny thumbnail_target: empty video id")
	}
	name := fmt.Sprintf("%d-%s-thumbnail", c.now().UnixMilli(), videoID)
	return &video.ThumbnailTarget{
		UploadURL: c.StorageBaseURL + "/thumbnails/" + name,
		CDNURL:    c.CDNURL + "/thumbnails/" + name,
		AccessKey: c.StorageKey,
	}, nil
}

// Transfer streams f to a signed upload URL with PUT.
func (c *Client) Transfer(ctx context.Context, uploadURL, accessKey string, f *video.File) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "bunny", "transfer", telemetry.MediaOpAttr("transfer"))
	defer func() {
		telemetry.MediaCall("transfer", err)
		telemetry.EndSpan(span, err)
	}()
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, f.Body)
	if err != nil {
		return err
	}
	if f.Size > 0 {
		req.ContentLength = f.Size
	}
	ct := f.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	req.Header.Set("Content-Type", ct)
	req.Header.Set("AccessKey", accessKey)
	resp, err := c.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &APIError{Op: "transfer", Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return nil
}

// UpdateVideo sets title and description on the remote video.
func (c *Client) UpdateVideo(ctx context.Context, videoID, title, description string) error {
	in := map[string]string{"title": title, "description": description}
	return c.call(ctx, "update_video", http.MethodPost, c.videoURL(videoID), c.StreamKey, in, nil)
}

// VideoStatus reads the encoding state of a remote video.
func (c *Client) VideoStatus(ctx context.Context, videoID string) (*video.ProcessingStatus, error) {
	var info struct {
		Status         int `json:"status"`
		EncodeProgress int `json:"encodeProgress"`
	}
	if err := c.call(ctx, "video_status", http.MethodGet, c.videoURL(videoID), c.StreamKey, nil, &info); err != nil {
		return nil, err
	}
	return &video.ProcessingStatus{
		IsProcessed:      info.Status == statusFinished,
		EncodingProgress: info.EncodeProgress,
		Status:           info.Status,
	}, nil
}

// DeleteVideo removes the remote video. A video that is already gone counts as deleted.
func (c *Client) DeleteVideo(ctx context.Context, videoID string) error {
	return ignoreNotFound(c.call(ctx, "delete_video", http.MethodDelete, c.videoURL(videoID), c.StreamKey, nil, nil))
}

// DeleteThumbnail removes the storage object behind a CDN thumbnail URL.
func (c *Client) DeleteThumbnail(ctx context.Context, thumbnailURL string) error {
	_, path, ok := strings.Cut(thumbnailURL, "thumbnails/")
	if !ok || path == "" {
		return fmt.Errorf("bunny delete_thumbnail: %q is not a thumbnail url", thumbnailURL)
	}
	return ignoreNotFound(c.call(ctx, "delete_thumbnail", http.MethodDelete, c.StorageBaseURL+"/thumbnails/"+path, c.StorageKey, nil, nil))
}

// PlaybackURL is the embeddable player URL of a video.
func (c *Client) PlaybackURL(videoID string) string {
	return c.EmbedURL + "/" + c.LibraryID + "/" + videoID
}

func ignoreNotFound(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return nil
	}
	return err
}
