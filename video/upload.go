package video

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/onnwee/snapcast/telemetry"
)

// File is one asset handed to the orchestrator.
type File struct {
	Body        io.Reader
	Name        string
	ContentType string
	Size        int64
}

// UploadRequest is the full upload form.
type UploadRequest struct {
	Video       *File
	Thumbnail   *File
	Title       string
	Description string
	Visibility  string
	Duration    int
}

// Details is the metadata persisted once both assets have reached the media host.
type Details struct {
	VideoID      string `json:"videoId"`
	ThumbnailURL string `json:"thumbnailUrl"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	Visibility   string `json:"visibility"`
	Duration     int    `json:"duration"`
}

const untitled = "Untitled recording"

// MaxDuration is the longest duration in seconds the videos.duration column can hold.
const MaxDuration = math.MaxInt32

func checkDuration(d int) error {
	if d < 0 {
		return invalid("Duration cannot be negative")
	}
	if d > MaxDuration {
		return invalid("Duration is too long")
	}
	return nil
}

// RequestVideoUpload creates the remote video object and returns where to send its bytes.
func (s *Service) RequestVideoUpload(ctx context.Context, userID, title string) (*UploadTarget, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	if title = strings.TrimSpace(title); title == "" {
		title = untitled
	}
	t, err := s.Media.CreateVideo(ctx, title)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUploadTargetUnavailable, err)
	}
	if t == nil || t.VideoID == "" || t.UploadURL == "" || t.AccessKey == "" {
		return nil, fmt.Errorf("%w: incomplete video target", ErrUploadTargetUnavailable)
	}
	return t, nil
}

// RequestThumbnailUpload returns where to send the thumbnail of an already created video.
func (s *Service) RequestThumbnailUpload(ctx context.Context, userID, videoID string) (*ThumbnailTarget, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	if strings.TrimSpace(videoID) == "" {
		return nil, invalid("Missing video ID")
	}
	t, err := s.Media.ThumbnailTarget(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUploadTargetUnavailable, err)
	}
	if t == nil || t.UploadURL == "" || t.AccessKey == "" || t.CDNURL == "" {
		return nil, fmt.Errorf("%w: incomplete thumbnail target", ErrUploadTargetUnavailable)
	}
	return t, nil
}

// SaveDetails pushes the metadata to the media host and inserts the row. It is the only
// rate-limited step of an upload.
func (s *Service) SaveDetails(ctx context.Context, userID string, d Details) (*Video, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	d.Title, d.Description = strings.TrimSpace(d.Title), strings.TrimSpace(d.Description)
	if d.VideoID == "" || d.ThumbnailURL == "" {
		return nil, invalid("Please upload video and thumbnail")
	}
	if d.Title == "" || d.Description == "" {
		return nil, invalid("Please fill in all the details")
	}
	if err := checkDuration(d.Duration); err != nil {
		return nil, err
	}
	vis := VisibilityPublic
	if d.Visibility != "" {
		var err error
		if vis, err = ParseVisibility(d.Visibility); err != nil {
			return nil, err
		}
	}

	if err := s.allow(ctx, userID); err != nil {
		return nil, err
	}

	if err := s.Media.UpdateVideo(ctx, d.VideoID, d.Title, d.Description); err != nil {
		return nil, fmt.Errorf("%w: update media metadata: %w", ErrPersistenceFailed, err)
	}

	now := s.now()
	v := &Video{
		ID:           s.newID(),
		UserID:       userID,
		VideoID:      d.VideoID,
		Title:        d.Title,
		Description:  d.Description,
		ThumbnailURL: d.ThumbnailURL,
		VideoURL:     s.Media.PlaybackURL(d.VideoID),
		Visibility:   vis,
		Duration:     d.Duration,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.Repo.Insert(ctx, v); err != nil {
		return nil, fmt.Errorf("%w: insert video: %w", ErrPersistenceFailed, err)
	}
	s.invalidateListings(ctx)
	return v, nil
}

func checkFile(f *File, kind, mimePrefix string, max int64) error {
	if f == nil || f.Body == nil || f.Size == 0 {
		return invalid("Please upload video and thumbnail")
	}
	if ct := strings.ToLower(f.ContentType); ct != "" && !strings.HasPrefix(ct, mimePrefix) {
		return invalid(fmt.Sprintf("The %s file has an unsupported type %q", kind, f.ContentType))
	}
	if max > 0 && f.Size > max {
		return invalid(fmt.Sprintf("The %s must be smaller than %s", kind, humanSize(max)))
	}
	return nil
}

func humanSize(n int64) string {
	if n >= 1<<20 {
		return fmt.Sprintf("%d MB", n>>20)
	}
	return fmt.Sprintf("%d KB", n>>10)
}

func (s *Service) validateUpload(req UploadRequest) error {
	if req.Video == nil || req.Thumbnail == nil {
		return invalid("Please upload video and thumbnail")
	}
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Description) == "" {
		return invalid("Please fill in all the details")
	}
	if req.Visibility != "" {
		if _, err := ParseVisibility(req.Visibility); err != nil {
			return err
		}
	}
	if err := checkDuration(req.Duration); err != nil {
		return err
	}
	if err := checkFile(req.Video, "video", "video/", s.MaxVideoSize); err != nil {
		return err
	}
	return checkFile(req.Thumbnail, "thumbnail", "image/", s.MaxThumbnailSize)
}

// Upload runs the whole pipeline: video target, video bytes, thumbnail target, thumbnail
// bytes, then SaveDetails. Nothing is persisted unless every earlier step succeeded.
// Remote objects created before a failure are left in place.
func (s *Service) Upload(ctx context.Context, userID string, req UploadRequest) (v *Video, err error) {
	ctx, span := telemetry.StartSpan(ctx, "video", "upload")
	start := time.Now()
	defer func() {
		kind := "success"
		if err != nil {
			kind = Classify(err).String()
		}
		telemetry.ObserveUpload(kind, time.Since(start))
		telemetry.EndSpan(span, err)
	}()

	if userID == "" {
		return nil, ErrUnauthenticated
	}
	if err := s.validateUpload(req); err != nil {
		return nil, err
	}
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("user", userID))

	target, err := s.RequestVideoUpload(ctx, userID, req.Title)
	if err != nil {
		return nil, err
	}
	if err := s.Media.Transfer(ctx, target.UploadURL, target.AccessKey, req.Video); err != nil {
		log.Warn("video transfer failed", slog.String("video_id", target.VideoID), slog.Any("err", err))
		return nil, &TransferError{Stage: StageVideo, Err: err}
	}

	thumb, err := s.RequestThumbnailUpload(ctx, userID, target.VideoID)
	if err != nil {
		return nil, err
	}
	if err := s.Media.Transfer(ctx, thumb.UploadURL, thumb.AccessKey, req.Thumbnail); err != nil {
		log.Warn("thumbnail transfer failed", slog.String("video_id", target.VideoID), slog.Any("err", err))
		return nil, &TransferError{Stage: StageThumbnail, Err: err}
	}

	v, err = s.SaveDetails(ctx, userID, Details{
		VideoID:      target.VideoID,
		ThumbnailURL: thumb.CDNURL,
		Title:        req.Title,
		Description:  req.Description,
		Visibility:   req.Visibility,
		Duration:     req.Duration,
	})
	if err != nil {
		return nil, err
	}
	log.Info("video uploaded", slog.String("id", v.ID), slog.String("video_id", v.VideoID))
	return v, nil
}
